package outbox

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/database"
	"github.com/google/uuid"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteRepository implements Repository on the device-local SQLite file.
// Timestamps are stored as unix milliseconds.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates the outbox table when missing.
func NewSQLiteRepository(ctx context.Context, db *sql.DB) (*SQLiteRepository, error) {
	if err := database.Migrate(ctx, db, migrationsFS, "migrations"); err != nil {
		return nil, fmt.Errorf("migrate outbox: %w", err)
	}
	return &SQLiteRepository{db: db, now: time.Now}, nil
}

// Save stores a new outbox message.
func (r *SQLiteRepository) Save(ctx context.Context, msg *Message) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox (event_id, aggregate_id, routing_key, correlation_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		msg.EventID.String(),
		msg.AggregateID.String(),
		msg.RoutingKey,
		msg.CorrelationID,
		string(msg.Payload),
		msg.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	msg.ID = id
	return nil
}

// GetUnpublished returns messages due for publishing, oldest first.
func (r *SQLiteRepository) GetUnpublished(ctx context.Context, limit int) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, aggregate_id, routing_key, correlation_id, payload, created_at,
		       published_at, next_retry_at, retry_count, last_error, dead_lettered_at, dead_letter_reason
		FROM outbox
		WHERE published_at IS NULL
		  AND dead_lettered_at IS NULL
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY id
		LIMIT ?`, r.now().UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkPublished marks a message as successfully published.
func (r *SQLiteRepository) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET published_at = ?, next_retry_at = NULL WHERE id = ?`,
		r.now().UnixMilli(), id)
	return err
}

// MarkFailed records a publish failure with error message.
func (r *SQLiteRepository) MarkFailed(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET retry_count = retry_count + 1, last_error = ?, next_retry_at = ? WHERE id = ?`,
		errMsg, nextRetryAt.UnixMilli(), id)
	return err
}

// MarkDead marks a message as dead-lettered.
func (r *SQLiteRepository) MarkDead(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox SET retry_count = retry_count + 1, dead_lettered_at = ?, dead_letter_reason = ? WHERE id = ?`,
		r.now().UnixMilli(), reason, id)
	return err
}

// DeleteOld removes published messages older than the retention period.
func (r *SQLiteRepository) DeleteOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE published_at IS NOT NULL AND published_at < ?`,
		r.now().Add(-olderThan).UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var (
		msg                                      Message
		eventID, aggregateID, payload            string
		createdAt                                int64
		publishedAt, nextRetryAt, deadLetteredAt sql.NullInt64
		lastError, deadLetterReason              sql.NullString
	)
	if err := rows.Scan(&msg.ID, &eventID, &aggregateID, &msg.RoutingKey, &msg.CorrelationID, &payload, &createdAt,
		&publishedAt, &nextRetryAt, &msg.RetryCount, &lastError, &deadLetteredAt, &deadLetterReason); err != nil {
		return nil, err
	}

	var err error
	if msg.EventID, err = uuid.Parse(eventID); err != nil {
		return nil, fmt.Errorf("parse event id: %w", err)
	}
	if msg.AggregateID, err = uuid.Parse(aggregateID); err != nil {
		return nil, fmt.Errorf("parse aggregate id: %w", err)
	}
	msg.Payload = json.RawMessage(payload)
	msg.CreatedAt = time.UnixMilli(createdAt).UTC()
	msg.PublishedAt = timePtr(publishedAt)
	msg.NextRetryAt = timePtr(nextRetryAt)
	msg.DeadLetteredAt = timePtr(deadLetteredAt)
	if lastError.Valid {
		msg.LastError = &lastError.String
	}
	if deadLetterReason.Valid {
		msg.DeadLetterReason = &deadLetterReason.String
	}
	return &msg, nil
}

func timePtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t
}
