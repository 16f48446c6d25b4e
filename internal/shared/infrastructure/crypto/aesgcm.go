// Package crypto seals data kept on the device, such as cached client
// details, with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the length of an AES-256 key in bytes.
const KeySize = 32

var (
	// ErrEmptyKey is returned when no key was configured.
	ErrEmptyKey = errors.New("encryption key is empty")
	// ErrKeySize is returned for keys that are not KeySize bytes long.
	ErrKeySize = fmt.Errorf("encryption key must be %d bytes", KeySize)
	// ErrShortCiphertext is returned when sealed data is shorter than a nonce.
	ErrShortCiphertext = errors.New("ciphertext too short")
)

// Encrypter seals and opens byte slices.
type Encrypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESEncrypter seals with AES-GCM. Each output carries its own random nonce.
type AESEncrypter struct {
	aead cipher.AEAD
}

var _ Encrypter = (*AESEncrypter)(nil)

// NewAESGCM creates an encrypter from a raw 32-byte key.
func NewAESGCM(key []byte) (*AESEncrypter, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESEncrypter{aead: aead}, nil
}

// NewAESGCMFromBase64Key creates an encrypter from a base64 key, the form
// used in configuration.
func NewAESGCMFromBase64Key(encodedKey string) (*AESEncrypter, error) {
	if encodedKey == "" {
		return nil, ErrEmptyKey
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return NewAESGCM(key)
}

// Encrypt seals plaintext and prepends the nonce.
func (e *AESEncrypter) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt.
func (e *AESEncrypter) Decrypt(ciphertext []byte) ([]byte, error) {
	n := e.aead.NonceSize()
	if len(ciphertext) < n {
		return nil, ErrShortCiphertext
	}
	return e.aead.Open(nil, ciphertext[:n], ciphertext[n:], nil)
}
