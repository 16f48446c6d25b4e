package domain

import (
	"errors"
	"time"

	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/google/uuid"
)

var ErrInvalidChangeKind = errors.New("unknown pending change kind")

// ChangeKind is the remote operation a pending change replays as.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Intent is the user action that produced a change.
type Intent string

const (
	IntentCreate     Intent = "create"
	IntentReschedule Intent = "reschedule"
	IntentCancel     Intent = "cancel"
	IntentStatus     Intent = "status"
	IntentEdit       Intent = "edit"
)

// PendingChange is one mutation waiting to reach the remote store. It maps
// to exactly one logical appointment mutation and carries the full intended
// record.
type PendingChange struct {
	ID            uuid.UUID
	Kind          ChangeKind
	Intent        Intent
	AppointmentID uuid.UUID
	Payload       booking.AppointmentState
	// PreviousStart/PreviousEnd hold the interval a reschedule moved away from.
	PreviousStart time.Time
	PreviousEnd   time.Time
	EnqueuedAt    time.Time
	Attempts      int
	LastError     string
}

// NewPendingChange records the intended state of a.
func NewPendingChange(kind ChangeKind, intent Intent, a *booking.Appointment) (PendingChange, error) {
	switch kind {
	case ChangeCreate, ChangeUpdate, ChangeDelete:
	default:
		return PendingChange{}, ErrInvalidChangeKind
	}
	return PendingChange{
		ID:            uuid.New(),
		Kind:          kind,
		Intent:        intent,
		AppointmentID: a.ID(),
		Payload:       a.State(),
		EnqueuedAt:    time.Now().UTC(),
	}, nil
}

// WithPrevious records the interval a reschedule replaced.
func (c PendingChange) WithPrevious(start, end time.Time) PendingChange {
	c.PreviousStart = start
	c.PreviousEnd = end
	return c
}

// Appointment rebuilds the intended appointment from the payload.
func (c PendingChange) Appointment() *booking.Appointment {
	return booking.RehydrateAppointment(c.Payload)
}
