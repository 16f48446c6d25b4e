package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/agenda/internal/booking/application"
	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	offline "github.com/felixgeelhaar/agenda/internal/offline/domain"
	sharedApplication "github.com/felixgeelhaar/agenda/internal/shared/application"
	"github.com/google/uuid"
)

// AppointmentSaver persists a changed appointment.
type AppointmentSaver interface {
	Save(ctx context.Context, updated *domain.Appointment, intent offline.Intent) (offline.WriteResult, error)
}

// CancelAppointmentCommand contains the data needed to cancel an appointment.
type CancelAppointmentCommand struct {
	AppointmentID uuid.UUID
	Reason        domain.CancelReason
	Detail        string
}

// CancelAppointmentHandler handles the CancelAppointmentCommand.
type CancelAppointmentHandler struct {
	agenda *application.Agenda
	saver  AppointmentSaver
	gate   *sharedApplication.MutationGate
	logger *slog.Logger
}

// NewCancelAppointmentHandler creates a new CancelAppointmentHandler.
func NewCancelAppointmentHandler(agenda *application.Agenda, saver AppointmentSaver, gate *sharedApplication.MutationGate, logger *slog.Logger) *CancelAppointmentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CancelAppointmentHandler{agenda: agenda, saver: saver, gate: gate, logger: logger}
}

// Handle executes the CancelAppointmentCommand.
func (h *CancelAppointmentHandler) Handle(ctx context.Context, cmd CancelAppointmentCommand) (offline.WriteResult, error) {
	return mutate(ctx, h.agenda, h.saver, h.gate, cmd.AppointmentID, offline.IntentCancel, func(a *domain.Appointment) error {
		return a.Cancel(cmd.Reason, cmd.Detail)
	})
}

// mutate applies change to a copy of the appointment while holding its
// in-flight token, persists it and patches the agenda.
func mutate(
	ctx context.Context,
	agenda *application.Agenda,
	saver AppointmentSaver,
	gate *sharedApplication.MutationGate,
	id uuid.UUID,
	intent offline.Intent,
	change func(*domain.Appointment) error,
) (offline.WriteResult, error) {
	release, err := gate.TryAcquire(id)
	if err != nil {
		return offline.WriteResult{}, application.ErrTransactionInFlight
	}
	defer release()

	appt, ok := agenda.Get(id)
	if !ok {
		return offline.WriteResult{}, domain.ErrAppointmentNotFound
	}
	if err := change(appt); err != nil {
		return offline.WriteResult{}, err
	}

	result, err := saver.Save(ctx, appt, intent)
	if err != nil {
		return offline.WriteResult{}, fmt.Errorf("%s appointment: %w", intent, err)
	}
	agenda.Replace(result.Appointment)
	return result, nil
}
