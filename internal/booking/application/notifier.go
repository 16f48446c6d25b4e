package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/agenda/pkg/observability"
)

// OutboxNotifier stores reschedule notifications in the outbox. The worker's
// outbox processor publishes them, so a notification raised while the broker
// is unreachable, or by a short-lived CLI process, is still delivered.
type OutboxNotifier struct {
	repo   outbox.Repository
	logger *slog.Logger
}

// NewOutboxNotifier creates a notifier on top of repo.
func NewOutboxNotifier(repo outbox.Repository, logger *slog.Logger) *OutboxNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxNotifier{repo: repo, logger: logger}
}

// NotifyRescheduled saves the event for later publishing.
func (n *OutboxNotifier) NotifyRescheduled(ctx context.Context, event domain.AppointmentRescheduled) error {
	correlate(ctx, &event)
	msg, err := outbox.NewMessage(event)
	if err != nil {
		return fmt.Errorf("marshal reschedule notification: %w", err)
	}
	if err := n.repo.Save(ctx, msg); err != nil {
		return fmt.Errorf("store reschedule notification: %w", err)
	}
	n.logger.Debug("reschedule notification stored",
		"appointment_id", event.AppointmentID,
		"event_id", event.EventID(),
	)
	return nil
}

func correlate(ctx context.Context, event *domain.AppointmentRescheduled) {
	if event.CorrelationID() != "" {
		return
	}
	if id := observability.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelation(id)
	}
}
