// Package remote holds the adapters for the authoritative appointment store.
package remote

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	offline "github.com/felixgeelhaar/agenda/internal/offline/domain"
	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/database"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// upsertColumns are overwritten when a write hits an existing id.
var upsertColumns = []string{
	"title", "type", "status",
	"client_id", "client_name", "client_email", "trainer_id",
	"start_time", "end_time", "source", "series_id",
	"cancel_reason", "cancel_detail", "notes", "history", "updated_at",
}

// PostgresStore implements offline.RemoteStore on PostgreSQL through bun.
// Every write is keyed by appointment id, so replaying one is harmless.
type PostgresStore struct {
	db        *bun.DB
	trainerID string
	logger    *slog.Logger
}

var _ offline.RemoteStore = (*PostgresStore)(nil)

// NewPostgresStore creates the store. trainerID scopes reads made with the
// trainer role; the studio role sees every appointment.
func NewPostgresStore(db *bun.DB, trainerID string, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, trainerID: trainerID, logger: logger}
}

// Migrate creates the schema when it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return database.Migrate(ctx, s.db.DB, migrationsFS, "migrations")
}

// Ping checks the database answers.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) FetchAppointments(ctx context.Context, from, to time.Time, role offline.Role) ([]*domain.Appointment, error) {
	var rows []appointmentModel
	q := s.db.NewSelect().
		Model(&rows).
		Where("start_time >= ?", from.UTC()).
		Where("start_time < ?", to.UTC()).
		OrderExpr("start_time ASC")
	if role == offline.RoleTrainer && s.trainerID != "" {
		q = q.Where("trainer_id = ?", s.trainerID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("select appointments: %w", err)
	}

	out := make([]*domain.Appointment, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *PostgresStore) FetchBlocks(ctx context.Context, from, to time.Time) ([]*domain.Block, error) {
	var rows []blockModel
	// Full-day blocks cover their whole first day, so widen the lower bound.
	err := s.db.NewSelect().
		Model(&rows).
		Where("start_time < ?", to.UTC()).
		Where("end_time >= ?", domain.StartOfDay(from).UTC()).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select blocks: %w", err)
	}

	window := domain.TimeRange{Start: from, End: to}
	out := make([]*domain.Block, 0, len(rows))
	for i := range rows {
		if b := rows[i].toDomain(); b.Covers(window) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *PostgresStore) FetchWorkingHours(ctx context.Context) (*domain.WorkingHours, error) {
	var rows []workingHoursModel
	if err := s.db.NewSelect().Model(&rows).OrderExpr("weekday, from_minute").Scan(ctx); err != nil {
		return nil, fmt.Errorf("select working hours: %w", err)
	}
	return hoursFromModels(rows)
}

func (s *PostgresStore) FetchRestConfig(ctx context.Context) (*domain.RestConfig, error) {
	var row restConfigModel
	err := s.db.NewSelect().Model(&row).Where("id = 1").Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select rest config: %w", err)
	}
	return row.toDomain()
}

// PersistReschedule moves the stored appointment to the new interval and
// returns the stored result.
func (s *PostgresStore) PersistReschedule(ctx context.Context, id uuid.UUID, newStart, newEnd time.Time) (*domain.Appointment, error) {
	var out *domain.Appointment
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var row appointmentModel
		err := tx.NewSelect().Model(&row).Where("id = ?", id).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAppointmentNotFound
		}
		if err != nil {
			return err
		}

		a := row.toDomain()
		// Replays of an already applied move are no-ops.
		if a.Start().Equal(newStart) && a.End().Equal(newEnd) {
			out = a
			return nil
		}
		if err := a.Reschedule(newStart, newEnd); err != nil {
			return err
		}

		m := newAppointmentModel(a)
		if _, err := tx.NewUpdate().
			Model(m).
			Column("start_time", "end_time", "history", "updated_at").
			WherePK().
			Exec(ctx); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist reschedule %s: %w", id, err)
	}
	s.logger.Debug("appointment rescheduled remotely", "appointment_id", id)
	return out, nil
}

// UpsertAppointment inserts a or overwrites the stored row with the same id.
func (s *PostgresStore) UpsertAppointment(ctx context.Context, a *domain.Appointment) (*domain.Appointment, error) {
	m := newAppointmentModel(a)
	q := s.db.NewInsert().
		Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("deleted_at = NULL")
	for _, col := range upsertColumns {
		q = q.Set(col + " = EXCLUDED." + col)
	}
	if _, err := q.Exec(ctx); err != nil {
		return nil, fmt.Errorf("upsert appointment %s: %w", a.ID(), err)
	}
	return m.toDomain(), nil
}

// UpdateAppointment writes the full record. It has upsert semantics so a
// replayed edit of a row removed remotely restores the intended state.
func (s *PostgresStore) UpdateAppointment(ctx context.Context, a *domain.Appointment) (*domain.Appointment, error) {
	return s.UpsertAppointment(ctx, a)
}

// DeleteAppointment soft-deletes the row. Deleting a missing row succeeds.
func (s *PostgresStore) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.NewDelete().
		Model((*appointmentModel)(nil)).
		Where("id = ?", id).
		Exec(ctx); err != nil {
		return fmt.Errorf("delete appointment %s: %w", id, err)
	}
	return nil
}
