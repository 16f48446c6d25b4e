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
	"github.com/felixgeelhaar/agenda/pkg/observability"
)

// State is a step of a reschedule transaction.
type State string

const (
	StateIdle                 State = "idle"
	StateTargetSelected       State = "target-selected"
	StateValidating           State = "validating"
	StateRejected             State = "rejected"
	StateAwaitingConfirmation State = "awaiting-confirmation"
	StateCommitting           State = "committing"
	StateCommitted            State = "committed"
	StateFailed               State = "failed"
)

// NoticeKind classifies a message shown to the user.
type NoticeKind string

const (
	NoticeConflict         NoticeKind = "conflict"
	NoticeOverrideRequired NoticeKind = "override-required"
	NoticeRemoteFailure    NoticeKind = "remote-failure"
	NoticeRefused          NoticeKind = "refused"
	NoticeQueued           NoticeKind = "queued"
	NoticeRescheduled      NoticeKind = "rescheduled"
)

// Notice is a user-facing message. A zero DismissAfter means it stays until
// the user acts on it.
type Notice struct {
	Kind         NoticeKind
	Message      string
	Retryable    bool
	DismissAfter time.Duration
}

// Transaction is one attempt to move an appointment. It holds the
// appointment's in-flight token from Begin until it reaches Idle, Rejected,
// Committed or Failed.
type Transaction struct {
	r      *Rescheduler
	logger *slog.Logger

	mu               sync.Mutex
	state            State
	appointment      *domain.Appointment
	newStart         time.Time
	newEnd           time.Time
	requiresOverride bool
	err              error
	notice           *Notice
	release          func()
}

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) Appointment() *domain.Appointment { return t.appointment.Clone() }
func (t *Transaction) NewStart() time.Time              { return t.newStart }
func (t *Transaction) NewEnd() time.Time                { return t.newEnd }

// RequiresOverride reports whether confirming waives the rest rule.
func (t *Transaction) RequiresOverride() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requiresOverride
}

// Err returns the error that ended the transaction, if any.
func (t *Transaction) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Notice returns the latest user-facing message, if any.
func (t *Transaction) Notice() *Notice {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.notice == nil {
		return nil
	}
	n := *t.notice
	return &n
}

// Validate checks the target without override. A hard conflict rejects the
// transaction; otherwise it waits for confirmation.
func (t *Transaction) Validate() (domain.ValidationResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateTargetSelected {
		return domain.ValidationResult{}, fmt.Errorf("%w: validate in %s", ErrInvalidState, t.state)
	}
	t.state = StateValidating

	res := t.r.validate(t, false)
	if res.Hard() {
		t.finish(StateRejected, res.Err, &Notice{
			Kind:         NoticeConflict,
			Message:      res.Err.Error(),
			DismissAfter: t.r.config.NoticeDismissAfter,
		})
		t.r.metrics.Counter(observability.MetricRescheduleRejected, 1)
		t.logger.Info("reschedule rejected", "reason", res.Err)
		return res, nil
	}

	t.requiresOverride = res.RequiresOverride
	if res.RequiresOverride {
		t.notice = &Notice{Kind: NoticeOverrideRequired, Message: res.Err.Error()}
	}
	t.state = StateAwaitingConfirmation
	return res, nil
}

// Cancel abandons the transaction without side effects.
func (t *Transaction) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateAwaitingConfirmation && t.state != StateTargetSelected {
		return fmt.Errorf("%w: cancel in %s", ErrInvalidState, t.state)
	}
	t.finish(StateIdle, nil, nil)
	t.logger.Debug("reschedule cancelled")
	return nil
}

// Confirm commits the reschedule. Validation runs again first, with the rest
// rule waived when confirmation implied an override. The agenda is only
// patched after the write succeeds or is queued.
func (t *Transaction) Confirm(ctx context.Context) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateAwaitingConfirmation {
		return Result{}, fmt.Errorf("%w: confirm in %s", ErrInvalidState, t.state)
	}
	t.state = StateCommitting
	timer := observability.StartTimer(observability.MetricRescheduleCommit, t.r.metrics).WithLogger(t.logger)

	if res := t.r.validate(t, t.requiresOverride); res.Err != nil {
		t.finish(StateFailed, res.Err, &Notice{
			Kind:         NoticeConflict,
			Message:      res.Err.Error(),
			DismissAfter: t.r.config.NoticeDismissAfter,
		})
		t.r.metrics.Counter(observability.MetricRescheduleFailed, 1, observability.T("cause", "conflict"))
		timer.Stop(res.Err)
		return Result{}, res.Err
	}

	commitCtx, cancel := context.WithTimeout(ctx, t.r.config.CommitTimeout)
	defer cancel()

	written, err := t.r.writer.Reschedule(commitCtx, t.appointment, t.newStart, t.newEnd)
	if err != nil {
		if offline.IsRemoteFailure(err) || errors.Is(err, context.DeadlineExceeded) {
			t.finish(StateFailed, err, &Notice{
				Kind:      NoticeRemoteFailure,
				Message:   "could not save the new time, please try again",
				Retryable: true,
			})
			t.r.metrics.Counter(observability.MetricRescheduleFailed, 1, observability.T("cause", "remote"))
		} else {
			// The store answered and refused; retrying cannot help.
			t.finish(StateFailed, err, &Notice{
				Kind:         NoticeRefused,
				Message:      "cannot move this appointment: " + err.Error(),
				DismissAfter: t.r.config.NoticeDismissAfter,
			})
			t.r.metrics.Counter(observability.MetricRescheduleFailed, 1, observability.T("cause", "refused"))
		}
		timer.Stop(err)
		return Result{}, fmt.Errorf("commit reschedule: %w", err)
	}

	t.r.agenda.Replace(written.Appointment)

	notice := &Notice{Kind: NoticeRescheduled, Message: "appointment moved to " + t.newStart.Format("Mon 02 Jan 15:04"), DismissAfter: t.r.config.NoticeDismissAfter}
	if written.Queued {
		notice = &Notice{Kind: NoticeQueued, Message: "saved offline, will sync when the connection returns", DismissAfter: t.r.config.NoticeDismissAfter}
		t.r.metrics.Counter(observability.MetricRescheduleQueued, 1)
	} else {
		t.r.metrics.Counter(observability.MetricRescheduleCommitted, 1)
		t.r.notifyAsync(ctx, written.Appointment, t.appointment.Start(), t.appointment.End(), t.logger)
	}
	t.finish(StateCommitted, nil, notice)
	timer.Stop(nil)

	t.logger.Info("reschedule committed",
		"new_start", t.newStart,
		"queued", written.Queued,
		"override", t.requiresOverride,
	)
	return Result{
		Appointment:     written.Appointment.Clone(),
		Queued:          written.Queued,
		OverrideApplied: t.requiresOverride,
	}, nil
}

// finish moves to a final state and releases the in-flight token. Callers
// hold t.mu.
func (t *Transaction) finish(state State, err error, notice *Notice) {
	t.state = state
	t.err = err
	t.notice = notice
	t.release()
}
