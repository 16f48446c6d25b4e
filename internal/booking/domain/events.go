package domain

import (
	"time"

	sharedDomain "github.com/felixgeelhaar/agenda/internal/shared/domain"
	"github.com/google/uuid"
)

const (
	RoutingKeyAppointmentRescheduled = "agenda.appointment.rescheduled"
)

// AppointmentRescheduled is emitted after a reschedule is persisted, and
// carries what the client needs to be told about the move.
type AppointmentRescheduled struct {
	sharedDomain.BaseEvent
	AppointmentID uuid.UUID `json:"appointment_id"`
	Client        Client    `json:"client"`
	Title         string    `json:"title"`
	OldStart      time.Time `json:"old_start"`
	OldEnd        time.Time `json:"old_end"`
	NewStart      time.Time `json:"new_start"`
	NewEnd        time.Time `json:"new_end"`
}

// NewAppointmentRescheduled creates the event from the committed appointment
// and the interval it was moved away from.
func NewAppointmentRescheduled(a *Appointment, oldStart, oldEnd time.Time) AppointmentRescheduled {
	return AppointmentRescheduled{
		BaseEvent:     sharedDomain.NewBaseEvent(a.ID(), RoutingKeyAppointmentRescheduled),
		AppointmentID: a.ID(),
		Client:        a.Client(),
		Title:         a.Title(),
		OldStart:      oldStart,
		OldEnd:        oldEnd,
		NewStart:      a.Start(),
		NewEnd:        a.End(),
	}
}
