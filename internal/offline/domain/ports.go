package domain

import (
	"context"
	"time"

	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/google/uuid"
)

// Role selects whose appointments are fetched.
type Role string

const (
	RoleTrainer Role = "trainer"
	RoleStudio  Role = "studio"
)

// RemoteStore is the authoritative appointment store. Writes are upserts by
// id so a replayed change never duplicates an appointment.
type RemoteStore interface {
	FetchAppointments(ctx context.Context, from, to time.Time, role Role) ([]*booking.Appointment, error)
	FetchBlocks(ctx context.Context, from, to time.Time) ([]*booking.Block, error)
	// FetchWorkingHours returns nil when no working hours are configured.
	FetchWorkingHours(ctx context.Context) (*booking.WorkingHours, error)
	// FetchRestConfig returns nil when no rest rule is configured.
	FetchRestConfig(ctx context.Context) (*booking.RestConfig, error)
	PersistReschedule(ctx context.Context, id uuid.UUID, newStart, newEnd time.Time) (*booking.Appointment, error)
	UpsertAppointment(ctx context.Context, a *booking.Appointment) (*booking.Appointment, error)
	UpdateAppointment(ctx context.Context, a *booking.Appointment) (*booking.Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	Ping(ctx context.Context) error
}

// LocalStore is the durable on-device cache. It keeps appointments, blocks
// and pending changes in separate partitions.
type LocalStore interface {
	// ReplaceSnapshot discards every cached appointment and block and stores
	// snap in their place.
	ReplaceSnapshot(ctx context.Context, snap Snapshot) error
	// ReplaceRange overwrites cached entries whose start falls in snap's range.
	ReplaceRange(ctx context.Context, snap Snapshot) error
	PutAppointments(ctx context.Context, appointments ...*booking.Appointment) error
	LoadSnapshot(ctx context.Context, from, to time.Time) (Snapshot, error)

	Enqueue(ctx context.Context, change PendingChange) error
	// Pending returns up to limit changes in replay order.
	Pending(ctx context.Context, limit int) ([]PendingChange, error)
	RemovePending(ctx context.Context, id uuid.UUID) error
	MarkAttempt(ctx context.Context, id uuid.UUID, lastError string) error
	PendingCount(ctx context.Context) (int, error)
	// Park moves a change that cannot be replayed out of the queue. Parked
	// changes keep their last error and are never replayed.
	Park(ctx context.Context, id uuid.UUID, reason string) error
	// Parked returns up to limit parked changes, oldest first.
	Parked(ctx context.Context, limit int) ([]PendingChange, error)

	Close() error
}

// Transition is a change in connectivity.
type Transition struct {
	Online bool
	At     time.Time
}

// Connectivity reports whether the remote store is reachable.
type Connectivity interface {
	Online() bool
	// Subscribe returns a channel of transitions and a func that ends the
	// subscription.
	Subscribe() (<-chan Transition, func())
}
