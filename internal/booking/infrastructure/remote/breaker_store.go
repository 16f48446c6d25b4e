package remote

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/agenda/internal/booking/domain"
	offline "github.com/felixgeelhaar/agenda/internal/offline/domain"
	"github.com/felixgeelhaar/agenda/pkg/observability"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the circuit breaker around the remote store.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of trial requests allowed while half-open.
	HalfOpenRequests uint32
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// BreakerStore guards a RemoteStore with a circuit breaker. While the
// circuit is open calls fail fast with offline.ErrCircuitOpen, which the
// sync layer treats as being offline. Every error it returns is a
// *offline.RemoteError, except business errors from the store, which pass
// through unchanged and do not count as failures.
type BreakerStore struct {
	next    offline.RemoteStore
	breaker *gobreaker.CircuitBreaker[any]
	metrics observability.Metrics
	logger  *slog.Logger
}

var _ offline.RemoteStore = (*BreakerStore)(nil)

// NewBreakerStore wraps next.
func NewBreakerStore(next offline.RemoteStore, config BreakerConfig, metrics observability.Metrics, logger *slog.Logger) *BreakerStore {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = 1
	}

	s := &BreakerStore{next: next, metrics: metrics, logger: logger}
	s.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "remote-store",
		MaxRequests: config.HalfOpenRequests,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || offline.IsRefusal(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Info("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			open := 0.0
			if to == gobreaker.StateOpen {
				open = 1
			}
			s.metrics.Gauge(observability.MetricBreakerOpen, open)
		},
	})
	return s
}

// State reports the breaker state, for status output.
func (s *BreakerStore) State() string {
	return s.breaker.State().String()
}


func call[T any](ctx context.Context, s *BreakerStore, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	timer := observability.StartTimer(observability.MetricRemoteCall, s.metrics, observability.T("op", op))

	result, err := s.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	timer.Stop(err)

	switch {
	case err == nil:
		return result.(T), nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return zero, offline.NewRemoteError(op, offline.ErrCircuitOpen)
	case offline.IsRefusal(err):
		return zero, err
	default:
		return zero, offline.NewRemoteError(op, err)
	}
}

func (s *BreakerStore) FetchAppointments(ctx context.Context, from, to time.Time, role offline.Role) ([]*domain.Appointment, error) {
	return call(ctx, s, "fetch appointments", func(ctx context.Context) ([]*domain.Appointment, error) {
		return s.next.FetchAppointments(ctx, from, to, role)
	})
}

func (s *BreakerStore) FetchBlocks(ctx context.Context, from, to time.Time) ([]*domain.Block, error) {
	return call(ctx, s, "fetch blocks", func(ctx context.Context) ([]*domain.Block, error) {
		return s.next.FetchBlocks(ctx, from, to)
	})
}

func (s *BreakerStore) FetchWorkingHours(ctx context.Context) (*domain.WorkingHours, error) {
	return call(ctx, s, "fetch working hours", s.next.FetchWorkingHours)
}

func (s *BreakerStore) FetchRestConfig(ctx context.Context) (*domain.RestConfig, error) {
	return call(ctx, s, "fetch rest config", s.next.FetchRestConfig)
}

func (s *BreakerStore) PersistReschedule(ctx context.Context, id uuid.UUID, newStart, newEnd time.Time) (*domain.Appointment, error) {
	return call(ctx, s, "persist reschedule", func(ctx context.Context) (*domain.Appointment, error) {
		return s.next.PersistReschedule(ctx, id, newStart, newEnd)
	})
}

func (s *BreakerStore) UpsertAppointment(ctx context.Context, a *domain.Appointment) (*domain.Appointment, error) {
	return call(ctx, s, "upsert appointment", func(ctx context.Context) (*domain.Appointment, error) {
		return s.next.UpsertAppointment(ctx, a)
	})
}

func (s *BreakerStore) UpdateAppointment(ctx context.Context, a *domain.Appointment) (*domain.Appointment, error) {
	return call(ctx, s, "update appointment", func(ctx context.Context) (*domain.Appointment, error) {
		return s.next.UpdateAppointment(ctx, a)
	})
}

func (s *BreakerStore) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	_, err := call(ctx, s, "delete appointment", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.DeleteAppointment(ctx, id)
	})
	return err
}

// Ping bypasses the breaker so connectivity checks still reach the store
// while the circuit is open.
func (s *BreakerStore) Ping(ctx context.Context) error {
	return offline.NewRemoteError("ping", s.next.Ping(ctx))
}
