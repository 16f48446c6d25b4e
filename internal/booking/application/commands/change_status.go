package commands

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/agenda/internal/booking/application"
	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	offline "github.com/felixgeelhaar/agenda/internal/offline/domain"
	sharedApplication "github.com/felixgeelhaar/agenda/internal/shared/application"
	"github.com/google/uuid"
)

// ChangeStatusCommand moves an appointment to another status. Cancelling
// goes through CancelAppointmentCommand because it needs a reason.
type ChangeStatusCommand struct {
	AppointmentID uuid.UUID
	Status        domain.Status
}

// ChangeStatusHandler handles the ChangeStatusCommand.
type ChangeStatusHandler struct {
	agenda *application.Agenda
	saver  AppointmentSaver
	gate   *sharedApplication.MutationGate
	logger *slog.Logger
}

// NewChangeStatusHandler creates a new ChangeStatusHandler.
func NewChangeStatusHandler(agenda *application.Agenda, saver AppointmentSaver, gate *sharedApplication.MutationGate, logger *slog.Logger) *ChangeStatusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeStatusHandler{agenda: agenda, saver: saver, gate: gate, logger: logger}
}

// Handle executes the ChangeStatusCommand.
func (h *ChangeStatusHandler) Handle(ctx context.Context, cmd ChangeStatusCommand) (offline.WriteResult, error) {
	result, err := mutate(ctx, h.agenda, h.saver, h.gate, cmd.AppointmentID, offline.IntentStatus, func(a *domain.Appointment) error {
		return a.TransitionTo(cmd.Status)
	})
	if err == nil {
		h.logger.Info("appointment status changed",
			"appointment_id", cmd.AppointmentID,
			"status", cmd.Status,
			"queued", result.Queued,
		)
	}
	return result, err
}
