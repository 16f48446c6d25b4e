package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/felixgeelhaar/agenda/internal/offline/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements domain.LocalStore on Redis for deployments where the
// cache is shared by several processes of one device or kiosk. Keys are
// namespaced: agenda:{scope}:{partition}.
//
//	appointments           hash   id -> appointment JSON
//	appointments:by_start  zset   id scored by start (unix ms)
//	blocks                 hash   id -> block JSON
//	blocks:by_start        zset   id scored by span start (unix ms)
//	settings               hash   name -> JSON
//	pending                zset   change id scored by enqueue sequence
//	pending:changes        hash   change id -> change JSON
//	pending:seq            string sequence counter
//	parked                 zset   change id scored by park time (unix ms)
//	parked:changes         hash   change id -> change JSON
type RedisStore struct {
	client *redis.Client
	scope  string
	owned  bool
	codec  payloadCodec
	logger *slog.Logger
}

var _ domain.LocalStore = (*RedisStore)(nil)

// OpenRedisStore connects to url and verifies the server answers.
func OpenRedisStore(ctx context.Context, url, scope string, logger *slog.Logger, opts ...Option) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	store := NewRedisStore(client, scope, logger, opts...)
	store.owned = true
	return store, nil
}

// NewRedisStore wraps an existing client. The caller keeps ownership of it.
func NewRedisStore(client *redis.Client, scope string, logger *slog.Logger, opts ...Option) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	if scope == "" {
		scope = "default"
	}
	return &RedisStore{client: client, scope: scope, codec: newPayloadCodec(opts), logger: logger}
}

func (s *RedisStore) key(partition string) string {
	return fmt.Sprintf("agenda:%s:%s", s.scope, partition)
}

// Close releases the client when the store opened it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// ReplaceSnapshot discards the whole cache and stores snap.
func (s *RedisStore) ReplaceSnapshot(ctx context.Context, snap domain.Snapshot) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx,
			s.key("appointments"), s.key("appointments:by_start"),
			s.key("blocks"), s.key("blocks:by_start"),
		)
		return s.store(ctx, pipe, snap)
	})
	if err != nil {
		return fmt.Errorf("replace cached snapshot: %w", err)
	}
	return nil
}

// ReplaceRange overwrites entries starting inside snap.Range.
func (s *RedisStore) ReplaceRange(ctx context.Context, snap domain.Snapshot) error {
	byStart := &redis.ZRangeBy{
		Min: strconv.FormatInt(millis(snap.Range.Start), 10),
		Max: "(" + strconv.FormatInt(millis(snap.Range.End), 10),
	}
	staleAppointments, err := s.client.ZRangeByScore(ctx, s.key("appointments:by_start"), byStart).Result()
	if err != nil {
		return fmt.Errorf("list cached appointments: %w", err)
	}
	staleBlocks, err := s.client.ZRangeByScore(ctx, s.key("blocks:by_start"), byStart).Result()
	if err != nil {
		return fmt.Errorf("list cached blocks: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(staleAppointments) > 0 {
			pipe.HDel(ctx, s.key("appointments"), staleAppointments...)
			pipe.ZRem(ctx, s.key("appointments:by_start"), toMembers(staleAppointments)...)
		}
		if len(staleBlocks) > 0 {
			pipe.HDel(ctx, s.key("blocks"), staleBlocks...)
			pipe.ZRem(ctx, s.key("blocks:by_start"), toMembers(staleBlocks)...)
		}
		return s.store(ctx, pipe, snap)
	})
	if err != nil {
		return fmt.Errorf("replace cached range: %w", err)
	}
	return nil
}

// PutAppointments upserts appointments by id.
func (s *RedisStore) PutAppointments(ctx context.Context, appointments ...*booking.Appointment) error {
	if len(appointments) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.putAppointments(ctx, pipe, appointments)
	})
	if err != nil {
		return fmt.Errorf("store appointments: %w", err)
	}
	return nil
}

// LoadSnapshot reads appointments starting in [from, to) and blocks
// overlapping it, together with the cached settings.
func (s *RedisStore) LoadSnapshot(ctx context.Context, from, to time.Time) (domain.Snapshot, error) {
	snap := domain.Snapshot{Range: booking.TimeRange{Start: from, End: to}}
	window := snap.Range

	ids, err := s.client.ZRangeByScore(ctx, s.key("appointments:by_start"), &redis.ZRangeBy{
		Min: strconv.FormatInt(millis(from), 10),
		Max: "(" + strconv.FormatInt(millis(to), 10),
	}).Result()
	if err != nil {
		return snap, fmt.Errorf("list cached appointments: %w", err)
	}
	payloads, err := s.hmget(ctx, s.key("appointments"), ids)
	if err != nil {
		return snap, fmt.Errorf("read cached appointments: %w", err)
	}
	for _, payload := range payloads {
		var state booking.AppointmentState
		if err := s.codec.decode(payload, &state); err != nil {
			return snap, fmt.Errorf("decode cached appointment: %w", err)
		}
		snap.Appointments = append(snap.Appointments, booking.RehydrateAppointment(state))
	}

	// Blocks may start before the window and still overlap it.
	ids, err = s.client.ZRangeByScore(ctx, s.key("blocks:by_start"), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(millis(to), 10),
	}).Result()
	if err != nil {
		return snap, fmt.Errorf("list cached blocks: %w", err)
	}
	payloads, err = s.hmget(ctx, s.key("blocks"), ids)
	if err != nil {
		return snap, fmt.Errorf("read cached blocks: %w", err)
	}
	for _, payload := range payloads {
		var state booking.BlockState
		if err := s.codec.decode(payload, &state); err != nil {
			return snap, fmt.Errorf("decode cached block: %w", err)
		}
		if b := booking.RehydrateBlock(state); b.Covers(window) {
			snap.Blocks = append(snap.Blocks, b)
		}
	}

	settings, err := s.client.HGetAll(ctx, s.key("settings")).Result()
	if err != nil {
		return snap, fmt.Errorf("read cached settings: %w", err)
	}
	if raw, ok := settings[settingHours]; ok {
		var hours domain.HoursState
		if err := json.Unmarshal([]byte(raw), &hours); err != nil {
			return snap, fmt.Errorf("decode working hours: %w", err)
		}
		if snap.Hours, err = domain.HoursFromState(hours); err != nil {
			return snap, fmt.Errorf("restore working hours: %w", err)
		}
	}
	if raw, ok := settings[settingRest]; ok && raw != "null" {
		var rest booking.RestConfig
		if err := json.Unmarshal([]byte(raw), &rest); err != nil {
			return snap, fmt.Errorf("decode rest config: %w", err)
		}
		snap.Rest = &rest
	}
	if raw, ok := settings[settingFetchedAt]; ok {
		if err := json.Unmarshal([]byte(raw), &snap.FetchedAt); err != nil {
			return snap, fmt.Errorf("decode fetch time: %w", err)
		}
	}
	return snap, nil
}

// pendingRecord is the stored form of a pending change.
type pendingRecord struct {
	ID            uuid.UUID                `json:"id"`
	Kind          domain.ChangeKind        `json:"kind"`
	Intent        domain.Intent            `json:"intent"`
	AppointmentID uuid.UUID                `json:"appointment_id"`
	Payload       booking.AppointmentState `json:"payload"`
	PreviousStart time.Time                `json:"previous_start,omitzero"`
	PreviousEnd   time.Time                `json:"previous_end,omitzero"`
	EnqueuedAt    time.Time                `json:"enqueued_at"`
	Attempts      int                      `json:"attempts"`
	LastError     string                   `json:"last_error,omitempty"`
}

func (r pendingRecord) change() domain.PendingChange {
	return domain.PendingChange(r)
}

// Enqueue appends change to the replay queue.
func (s *RedisStore) Enqueue(ctx context.Context, change domain.PendingChange) error {
	if change.EnqueuedAt.IsZero() {
		change.EnqueuedAt = time.Now().UTC()
	}
	payload, err := s.codec.encode(pendingRecord(change))
	if err != nil {
		return fmt.Errorf("marshal pending change: %w", err)
	}
	seq, err := s.client.Incr(ctx, s.key("pending:seq")).Result()
	if err != nil {
		return fmt.Errorf("allocate pending sequence: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key("pending:changes"), change.ID.String(), payload)
		pipe.ZAdd(ctx, s.key("pending"), redis.Z{Score: float64(seq), Member: change.ID.String()})
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue pending change: %w", err)
	}
	s.logger.Debug("pending change enqueued",
		"change_id", change.ID,
		"appointment_id", change.AppointmentID,
		"kind", change.Kind,
	)
	return nil
}

// Pending returns up to limit changes in the order they were enqueued.
// A limit of zero or less returns all of them.
func (s *RedisStore) Pending(ctx context.Context, limit int) ([]domain.PendingChange, error) {
	return s.listChanges(ctx, "pending", limit)
}

// Parked returns up to limit parked changes, oldest first.
func (s *RedisStore) Parked(ctx context.Context, limit int) ([]domain.PendingChange, error) {
	return s.listChanges(ctx, "parked", limit)
}

func (s *RedisStore) listChanges(ctx context.Context, partition string, limit int) ([]domain.PendingChange, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRange(ctx, s.key(partition), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s changes: %w", partition, err)
	}
	payloads, err := s.hmget(ctx, s.key(partition+":changes"), ids)
	if err != nil {
		return nil, fmt.Errorf("read pending changes: %w", err)
	}
	changes := make([]domain.PendingChange, 0, len(payloads))
	for _, payload := range payloads {
		var record pendingRecord
		if err := s.codec.decode(payload, &record); err != nil {
			return nil, fmt.Errorf("decode pending change: %w", err)
		}
		changes = append(changes, record.change())
	}
	return changes, nil
}

// RemovePending drops a replayed change. Removing an unknown id is a no-op.
func (s *RedisStore) RemovePending(ctx context.Context, id uuid.UUID) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.key("pending"), id.String())
		pipe.HDel(ctx, s.key("pending:changes"), id.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove pending change: %w", err)
	}
	return nil
}

// MarkAttempt records a failed replay without changing the queue order.
func (s *RedisStore) MarkAttempt(ctx context.Context, id uuid.UUID, lastError string) error {
	raw, err := s.client.HGet(ctx, s.key("pending:changes"), id.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read pending change: %w", err)
	}
	var record pendingRecord
	if err := s.codec.decode(raw, &record); err != nil {
		return fmt.Errorf("decode pending change: %w", err)
	}
	record.Attempts++
	record.LastError = lastError
	payload, err := s.codec.encode(record)
	if err != nil {
		return fmt.Errorf("marshal pending change: %w", err)
	}
	if err := s.client.HSet(ctx, s.key("pending:changes"), id.String(), payload).Err(); err != nil {
		return fmt.Errorf("mark pending change attempt: %w", err)
	}
	return nil
}

// Park moves a change out of the queue into the parked partition. Parking an
// unknown id is a no-op.
func (s *RedisStore) Park(ctx context.Context, id uuid.UUID, reason string) error {
	raw, err := s.client.HGet(ctx, s.key("pending:changes"), id.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read pending change: %w", err)
	}
	var record pendingRecord
	if err := s.codec.decode(raw, &record); err != nil {
		return fmt.Errorf("decode pending change: %w", err)
	}
	record.LastError = reason
	payload, err := s.codec.encode(record)
	if err != nil {
		return fmt.Errorf("marshal pending change: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key("parked:changes"), id.String(), payload)
		pipe.ZAdd(ctx, s.key("parked"), redis.Z{Score: float64(time.Now().UnixMilli()), Member: id.String()})
		pipe.ZRem(ctx, s.key("pending"), id.String())
		pipe.HDel(ctx, s.key("pending:changes"), id.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("park pending change: %w", err)
	}
	return nil
}

// PendingCount returns the queue length.
func (s *RedisStore) PendingCount(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.key("pending")).Result()
	if err != nil {
		return 0, fmt.Errorf("count pending changes: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) store(ctx context.Context, pipe redis.Pipeliner, snap domain.Snapshot) error {
	if err := s.putAppointments(ctx, pipe, snap.Appointments); err != nil {
		return err
	}
	for _, b := range snap.Blocks {
		payload, err := s.codec.encode(b.State())
		if err != nil {
			return fmt.Errorf("marshal block: %w", err)
		}
		pipe.HSet(ctx, s.key("blocks"), b.ID().String(), payload)
		pipe.ZAdd(ctx, s.key("blocks:by_start"), redis.Z{
			Score:  float64(millis(b.Span().Start)),
			Member: b.ID().String(),
		})
	}

	settings := map[string]any{
		settingHours:     domain.HoursToState(snap.Hours),
		settingRest:      snap.Rest,
		settingFetchedAt: snap.FetchedAt,
	}
	values := make([]any, 0, 2*len(settings))
	for name, v := range settings {
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode setting %s: %w", name, err)
		}
		values = append(values, name, string(encoded))
	}
	pipe.HSet(ctx, s.key("settings"), values...)
	return nil
}

func (s *RedisStore) putAppointments(ctx context.Context, pipe redis.Pipeliner, appointments []*booking.Appointment) error {
	for _, a := range appointments {
		payload, err := s.codec.encode(a.State())
		if err != nil {
			return fmt.Errorf("marshal appointment: %w", err)
		}
		pipe.HSet(ctx, s.key("appointments"), a.ID().String(), payload)
		pipe.ZAdd(ctx, s.key("appointments:by_start"), redis.Z{
			Score:  float64(millis(a.Start())),
			Member: a.ID().String(),
		})
	}
	return nil
}

// hmget returns the values present for fields, skipping missing ones.
func (s *RedisStore) hmget(ctx context.Context, key string, fields []string) ([]string, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	values, err := s.client.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out, nil
}

func toMembers(ids []string) []any {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return members
}
