// Package persistence holds the on-device cache that keeps the agenda
// readable and writable while the remote store is unreachable.
package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/felixgeelhaar/agenda/internal/offline/domain"
	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	settingHours     = "working_hours"
	settingRest      = "rest_config"
	settingFetchedAt = "fetched_at"
)

// SQLiteStore implements domain.LocalStore on a SQLite file. Appointments,
// blocks and pending changes live in separate tables.
type SQLiteStore struct {
	db     *sql.DB
	owned  bool
	codec  payloadCodec
	logger *slog.Logger
}

var _ domain.LocalStore = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (or creates) the cache file at path and migrates it.
func OpenSQLiteStore(ctx context.Context, path string, logger *slog.Logger, opts ...Option) (*SQLiteStore, error) {
	db, err := database.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLiteStore(ctx, db, logger, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// NewSQLiteStore migrates db and wraps it. The caller keeps ownership of db.
func NewSQLiteStore(ctx context.Context, db *sql.DB, logger *slog.Logger, opts ...Option) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := database.Migrate(ctx, db, migrationsFS, "migrations"); err != nil {
		return nil, fmt.Errorf("migrate local cache: %w", err)
	}
	return &SQLiteStore{db: db, codec: newPayloadCodec(opts), logger: logger}, nil
}

// DB exposes the connection so other device-local tables can share the file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close releases the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// ReplaceSnapshot discards the whole cache and stores snap.
func (s *SQLiteStore) ReplaceSnapshot(ctx context.Context, snap domain.Snapshot) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM appointments`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM blocks`); err != nil {
			return err
		}
		return s.store(ctx, tx, snap)
	})
}

// ReplaceRange overwrites entries starting inside snap.Range and leaves the
// rest of the cache untouched.
func (s *SQLiteStore) ReplaceRange(ctx context.Context, snap domain.Snapshot) error {
	from, to := millis(snap.Range.Start), millis(snap.Range.End)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM appointments WHERE start_ms >= ? AND start_ms < ?`, from, to); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM blocks WHERE start_ms >= ? AND start_ms < ?`, from, to); err != nil {
			return err
		}
		return s.store(ctx, tx, snap)
	})
}

// PutAppointments upserts appointments by id.
func (s *SQLiteStore) PutAppointments(ctx context.Context, appointments ...*booking.Appointment) error {
	if len(appointments) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.putAppointments(ctx, tx, appointments)
	})
}

// LoadSnapshot reads appointments starting in [from, to) and blocks
// overlapping it, together with the cached settings.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, from, to time.Time) (domain.Snapshot, error) {
	snap := domain.Snapshot{Range: booking.TimeRange{Start: from, End: to}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM appointments WHERE start_ms >= ? AND start_ms < ? ORDER BY start_ms, id`,
		millis(from), millis(to))
	if err != nil {
		return snap, fmt.Errorf("query cached appointments: %w", err)
	}
	err = scanPayloads(rows, func(payload string) error {
		var state booking.AppointmentState
		if err := s.codec.decode(payload, &state); err != nil {
			return err
		}
		snap.Appointments = append(snap.Appointments, booking.RehydrateAppointment(state))
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("read cached appointments: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT payload FROM blocks WHERE start_ms < ? AND end_ms > ? ORDER BY start_ms, id`,
		millis(to), millis(from))
	if err != nil {
		return snap, fmt.Errorf("query cached blocks: %w", err)
	}
	err = scanPayloads(rows, func(payload string) error {
		var state booking.BlockState
		if err := s.codec.decode(payload, &state); err != nil {
			return err
		}
		snap.Blocks = append(snap.Blocks, booking.RehydrateBlock(state))
		return nil
	})
	if err != nil {
		return snap, fmt.Errorf("read cached blocks: %w", err)
	}

	if err := s.loadSettings(ctx, &snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// Enqueue appends change to the replay queue.
func (s *SQLiteStore) Enqueue(ctx context.Context, change domain.PendingChange) error {
	payload, err := s.codec.encode(change.Payload)
	if err != nil {
		return fmt.Errorf("marshal pending change: %w", err)
	}
	enqueuedAt := change.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_changes
			(id, kind, intent, appointment_id, payload, prev_start_ms, prev_end_ms, enqueued_at_ms, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		change.ID.String(),
		string(change.Kind),
		string(change.Intent),
		change.AppointmentID.String(),
		payload,
		nullMillis(change.PreviousStart),
		nullMillis(change.PreviousEnd),
		millis(enqueuedAt),
		change.Attempts,
		change.LastError,
	)
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
func (s *SQLiteStore) Pending(ctx context.Context, limit int) ([]domain.PendingChange, error) {
	return s.queryChanges(ctx, `
		SELECT id, kind, intent, appointment_id, payload, prev_start_ms, prev_end_ms, enqueued_at_ms, attempts, last_error
		FROM pending_changes
		ORDER BY seq
		LIMIT ?`, limit)
}

// Parked returns up to limit parked changes, oldest first.
func (s *SQLiteStore) Parked(ctx context.Context, limit int) ([]domain.PendingChange, error) {
	return s.queryChanges(ctx, `
		SELECT id, kind, intent, appointment_id, payload, prev_start_ms, prev_end_ms, enqueued_at_ms, attempts, last_error
		FROM parked_changes
		ORDER BY parked_at_ms, enqueued_at_ms
		LIMIT ?`, limit)
}

func (s *SQLiteStore) queryChanges(ctx context.Context, query string, limit int) ([]domain.PendingChange, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending changes: %w", err)
	}
	defer rows.Close()

	var changes []domain.PendingChange
	for rows.Next() {
		change, err := s.scanPendingChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read pending changes: %w", err)
	}
	return changes, nil
}

// RemovePending drops a replayed change. Removing an unknown id is a no-op.
func (s *SQLiteStore) RemovePending(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_changes WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("remove pending change: %w", err)
	}
	return nil
}

// MarkAttempt records a failed replay without changing the queue order.
func (s *SQLiteStore) MarkAttempt(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_changes SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		lastError, id.String())
	if err != nil {
		return fmt.Errorf("mark pending change attempt: %w", err)
	}
	return nil
}

// PendingCount returns the queue length.
func (s *SQLiteStore) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_changes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending changes: %w", err)
	}
	return n, nil
}

// Park moves a change from the queue to parked_changes. Parking an unknown id
// is a no-op.
func (s *SQLiteStore) Park(ctx context.Context, id uuid.UUID, reason string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO parked_changes
				(id, kind, intent, appointment_id, payload, prev_start_ms, prev_end_ms, enqueued_at_ms, attempts, last_error, parked_at_ms)
			SELECT id, kind, intent, appointment_id, payload, prev_start_ms, prev_end_ms, enqueued_at_ms, attempts, ?, ?
			FROM pending_changes WHERE id = ?`,
			reason, millis(time.Now().UTC()), id.String()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM pending_changes WHERE id = ?`, id.String())
		return err
	})
	if err != nil {
		return fmt.Errorf("park pending change: %w", err)
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin local cache transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) store(ctx context.Context, tx *sql.Tx, snap domain.Snapshot) error {
	if err := s.putAppointments(ctx, tx, snap.Appointments); err != nil {
		return err
	}
	for _, b := range snap.Blocks {
		payload, err := s.codec.encode(b.State())
		if err != nil {
			return fmt.Errorf("marshal block: %w", err)
		}
		span := b.Span()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO blocks (id, start_ms, end_ms, payload) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET start_ms = excluded.start_ms, end_ms = excluded.end_ms, payload = excluded.payload`,
			b.ID().String(), millis(span.Start), millis(span.End), payload); err != nil {
			return fmt.Errorf("store block: %w", err)
		}
	}

	if err := putSetting(ctx, tx, settingHours, domain.HoursToState(snap.Hours)); err != nil {
		return err
	}
	if err := putSetting(ctx, tx, settingRest, snap.Rest); err != nil {
		return err
	}
	return putSetting(ctx, tx, settingFetchedAt, snap.FetchedAt)
}

func (s *SQLiteStore) loadSettings(ctx context.Context, snap *domain.Snapshot) error {
	var hours domain.HoursState
	if _, err := s.getSetting(ctx, settingHours, &hours); err != nil {
		return err
	}
	h, err := domain.HoursFromState(hours)
	if err != nil {
		return fmt.Errorf("restore working hours: %w", err)
	}
	snap.Hours = h

	var rest booking.RestConfig
	found, err := s.getSetting(ctx, settingRest, &rest)
	if err != nil {
		return err
	}
	if found {
		snap.Rest = &rest
	}

	_, err = s.getSetting(ctx, settingFetchedAt, &snap.FetchedAt)
	return err
}

func (s *SQLiteStore) getSetting(ctx context.Context, key string, dest any) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read setting %s: %w", key, err)
	}
	if value == "null" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return false, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return true, nil
}

func putSetting(ctx context.Context, tx *sql.Tx, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, string(encoded))
	if err != nil {
		return fmt.Errorf("store setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) putAppointments(ctx context.Context, tx *sql.Tx, appointments []*booking.Appointment) error {
	for _, a := range appointments {
		payload, err := s.codec.encode(a.State())
		if err != nil {
			return fmt.Errorf("marshal appointment: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO appointments (id, start_ms, end_ms, payload, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				start_ms = excluded.start_ms,
				end_ms = excluded.end_ms,
				payload = excluded.payload,
				updated_at = excluded.updated_at`,
			a.ID().String(), millis(a.Start()), millis(a.End()), payload, millis(a.UpdatedAt())); err != nil {
			return fmt.Errorf("store appointment %s: %w", a.ID(), err)
		}
	}
	return nil
}

func scanPayloads(rows *sql.Rows, fn func(payload string) error) error {
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return err
		}
		if err := fn(payload); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) scanPendingChange(rows *sql.Rows) (domain.PendingChange, error) {
	var (
		id, kind, intent, appointmentID, payload string
		prevStart, prevEnd                       sql.NullInt64
		enqueuedAt                               int64
		change                                   domain.PendingChange
	)
	if err := rows.Scan(&id, &kind, &intent, &appointmentID, &payload,
		&prevStart, &prevEnd, &enqueuedAt, &change.Attempts, &change.LastError); err != nil {
		return change, fmt.Errorf("scan pending change: %w", err)
	}

	var err error
	if change.ID, err = uuid.Parse(id); err != nil {
		return change, fmt.Errorf("parse pending change id: %w", err)
	}
	if change.AppointmentID, err = uuid.Parse(appointmentID); err != nil {
		return change, fmt.Errorf("parse pending appointment id: %w", err)
	}
	if err := s.codec.decode(payload, &change.Payload); err != nil {
		return change, fmt.Errorf("decode pending change payload: %w", err)
	}
	change.Kind = domain.ChangeKind(kind)
	change.Intent = domain.Intent(intent)
	change.EnqueuedAt = fromMillis(enqueuedAt)
	if prevStart.Valid {
		change.PreviousStart = fromMillis(prevStart.Int64)
	}
	if prevEnd.Valid {
		change.PreviousEnd = fromMillis(prevEnd.Int64)
	}
	return change, nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
