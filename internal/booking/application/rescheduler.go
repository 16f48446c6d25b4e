package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	offline "github.com/felixgeelhaar/agenda/internal/offline/domain"
	sharedApplication "github.com/felixgeelhaar/agenda/internal/shared/application"
	"github.com/felixgeelhaar/agenda/pkg/observability"
	"github.com/google/uuid"
)

var (
	ErrTransactionInFlight = errors.New("a reschedule for this appointment is already in progress")
	ErrInvalidState        = errors.New("action not allowed in the current transaction state")
	ErrOverrideRequired    = errors.New("placement needs an explicit rest override")
)

const (
	DefaultCommitTimeout      = 15 * time.Second
	DefaultNoticeDismissAfter = 5 * time.Second
)

// AppointmentWriter persists a reschedule, either remotely or by queueing
// it for later replay.
type AppointmentWriter interface {
	Reschedule(ctx context.Context, current *domain.Appointment, newStart, newEnd time.Time) (offline.WriteResult, error)
}

// ReschedulerConfig configures the rescheduler.
type ReschedulerConfig struct {
	CommitTimeout      time.Duration
	NoticeDismissAfter time.Duration
}

// DefaultReschedulerConfig returns the default configuration.
func DefaultReschedulerConfig() ReschedulerConfig {
	return ReschedulerConfig{
		CommitTimeout:      DefaultCommitTimeout,
		NoticeDismissAfter: DefaultNoticeDismissAfter,
	}
}

// Result is the outcome of a committed reschedule.
type Result struct {
	Appointment     *domain.Appointment
	Queued          bool
	OverrideApplied bool
}

// Rescheduler starts reschedule transactions against the agenda. Only one
// transaction per appointment may be open at a time.
type Rescheduler struct {
	agenda    *Agenda
	validator *domain.Validator
	writer    AppointmentWriter
	notifier  domain.Notifier
	gate      *sharedApplication.MutationGate
	metrics   observability.Metrics
	config    ReschedulerConfig
	logger    *slog.Logger

	notifications sync.WaitGroup
}

// NewRescheduler creates a rescheduler. notifier may be nil.
func NewRescheduler(
	agenda *Agenda,
	validator *domain.Validator,
	writer AppointmentWriter,
	notifier domain.Notifier,
	gate *sharedApplication.MutationGate,
	metrics observability.Metrics,
	config ReschedulerConfig,
	logger *slog.Logger,
) *Rescheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if config.CommitTimeout <= 0 {
		config.CommitTimeout = DefaultCommitTimeout
	}
	if config.NoticeDismissAfter <= 0 {
		config.NoticeDismissAfter = DefaultNoticeDismissAfter
	}
	return &Rescheduler{
		agenda:    agenda,
		validator: validator,
		writer:    writer,
		notifier:  notifier,
		gate:      gate,
		metrics:   metrics,
		config:    config,
		logger:    logger,
	}
}

// Begin selects newStart as the target for appointment id. The appointment
// keeps its duration. Appointments that have started or reached a final
// status cannot be moved.
func (r *Rescheduler) Begin(ctx context.Context, id uuid.UUID, newStart time.Time) (*Transaction, error) {
	appt, ok := r.agenda.Get(id)
	if !ok {
		return nil, domain.ErrAppointmentNotFound
	}
	if appt.IsClosed() {
		return nil, fmt.Errorf("%w (%s)", domain.ErrAppointmentClosed, appt.Status())
	}

	release, err := r.gate.TryAcquire(id)
	if err != nil {
		return nil, ErrTransactionInFlight
	}

	logger := observability.LogOperation(r.logger, "reschedule",
		"appointment_id", id,
		observability.CorrelationIDKey, observability.CorrelationIDFromContext(ctx),
	)
	logger.Debug("reschedule target selected", "new_start", newStart)

	return &Transaction{
		r:           r,
		logger:      logger,
		state:       StateTargetSelected,
		appointment: appt,
		newStart:    newStart,
		newEnd:      newStart.Add(appt.Duration()),
		release:     release,
	}, nil
}

// Reschedule runs a whole transaction without interaction. A soft conflict
// is only accepted when override is true.
func (r *Rescheduler) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, override bool) (Result, error) {
	tx, err := r.Begin(ctx, id, newStart)
	if err != nil {
		return Result{}, err
	}

	res, err := tx.Validate()
	if err != nil {
		return Result{}, err
	}
	if tx.State() == StateRejected {
		return Result{}, res.Err
	}
	if res.RequiresOverride && !override {
		_ = tx.Cancel()
		return Result{}, fmt.Errorf("%w: %w", ErrOverrideRequired, res.Err)
	}
	return tx.Confirm(ctx)
}

// InFlight reports whether a transaction is open for id.
func (r *Rescheduler) InFlight(id uuid.UUID) bool {
	return r.gate.InFlight(id)
}

// Wait blocks until pending client notifications have finished.
func (r *Rescheduler) Wait() {
	r.notifications.Wait()
}

func (r *Rescheduler) validate(t *Transaction, override bool) domain.ValidationResult {
	return r.validator.Validate(domain.ValidationRequest{
		Candidate:    t.appointment,
		NewStart:     t.newStart,
		Appointments: r.agenda.Appointments(),
		Hours:        r.agenda.Hours(),
		Rest:         r.agenda.Rest(),
		OverrideRest: override,
	})
}

func (r *Rescheduler) notifyAsync(ctx context.Context, appt *domain.Appointment, oldStart, oldEnd time.Time, logger *slog.Logger) {
	if r.notifier == nil {
		return
	}
	event := domain.NewAppointmentRescheduled(appt, oldStart, oldEnd)
	event.WithCorrelation(observability.CorrelationIDFromContext(ctx))
	nctx := context.WithoutCancel(ctx)

	r.notifications.Add(1)
	go func() {
		defer r.notifications.Done()
		if err := r.notifier.NotifyRescheduled(nctx, event); err != nil {
			r.metrics.Counter(observability.MetricNotifyFailed, 1)
			logger.Warn("failed to notify client", "error", err)
		}
	}()
}
