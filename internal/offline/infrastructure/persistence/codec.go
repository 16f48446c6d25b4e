package persistence

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/crypto"
)

// ErrSealedPayload is returned when a cached record was sealed with a key
// the store does not have.
var ErrSealedPayload = errors.New("cached record is encrypted")

// sealedPrefix marks payloads written through an encrypter.
const sealedPrefix = "enc:"

// Option configures a local store.
type Option func(*payloadCodec)

// WithEncrypter seals cached appointments, blocks and pending changes, which
// carry client names and notes. Settings stay readable.
func WithEncrypter(enc crypto.Encrypter) Option {
	return func(c *payloadCodec) {
		c.enc = enc
	}
}

type payloadCodec struct {
	enc crypto.Encrypter
}

func newPayloadCodec(opts []Option) payloadCodec {
	var c payloadCodec
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c payloadCodec) encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if c.enc == nil {
		return string(data), nil
	}
	sealed, err := c.enc.Encrypt(data)
	if err != nil {
		return "", fmt.Errorf("seal payload: %w", err)
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// decode accepts both sealed and plain payloads, so enabling encryption does
// not invalidate an existing cache.
func (c payloadCodec) decode(payload string, v any) error {
	raw, sealed := strings.CutPrefix(payload, sealedPrefix)
	if !sealed {
		return json.Unmarshal([]byte(payload), v)
	}
	if c.enc == nil {
		return ErrSealedPayload
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("decode sealed payload: %w", err)
	}
	plain, err := c.enc.Decrypt(data)
	if err != nil {
		return fmt.Errorf("open sealed payload: %w", err)
	}
	return json.Unmarshal(plain, v)
}
