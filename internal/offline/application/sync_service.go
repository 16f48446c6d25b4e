package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	booking "github.com/felixgeelhaar/agenda/internal/booking/domain"
	"github.com/felixgeelhaar/agenda/internal/offline/domain"
	sharedApplication "github.com/felixgeelhaar/agenda/internal/shared/application"
	"github.com/felixgeelhaar/agenda/pkg/observability"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultReplayBatchSize is how many pending changes are read per drain step.
	DefaultReplayBatchSize = 100
	// DefaultMaxReplayAttempts is how often a change may fail before it is
	// parked.
	DefaultMaxReplayAttempts = 10
)

// SyncConfig configures the sync service.
type SyncConfig struct {
	ReplayBatchSize   int
	MaxReplayAttempts int
}

// DefaultSyncConfig returns the default configuration.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		ReplayBatchSize:   DefaultReplayBatchSize,
		MaxReplayAttempts: DefaultMaxReplayAttempts,
	}
}

// ReconcileResult summarises one reconciliation.
type ReconcileResult struct {
	Replayed  int
	Failed    int
	Parked    int
	Remaining int
	Refreshed bool
}

type activeRange struct {
	from time.Time
	to   time.Time
	role domain.Role
}

// SyncService is the only writer of the local cache. Reads prefer the remote
// store and fall back to the cache; writes go remote first and are queued
// when the remote store cannot be reached.
type SyncService struct {
	remote   domain.RemoteStore
	local    domain.LocalStore
	conn     domain.Connectivity
	gate     *sharedApplication.MutationGate
	notifier booking.Notifier
	metrics  observability.Metrics
	config   SyncConfig
	logger   *slog.Logger

	mu     sync.Mutex
	active *activeRange
}

// NewSyncService creates a sync service. notifier may be nil.
func NewSyncService(
	remote domain.RemoteStore,
	local domain.LocalStore,
	conn domain.Connectivity,
	gate *sharedApplication.MutationGate,
	notifier booking.Notifier,
	metrics observability.Metrics,
	config SyncConfig,
	logger *slog.Logger,
) *SyncService {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if config.ReplayBatchSize <= 0 {
		config.ReplayBatchSize = DefaultReplayBatchSize
	}
	if config.MaxReplayAttempts <= 0 {
		config.MaxReplayAttempts = DefaultMaxReplayAttempts
	}
	return &SyncService{
		remote:   remote,
		local:    local,
		conn:     conn,
		gate:     gate,
		notifier: notifier,
		metrics:  metrics,
		config:   config,
		logger:   logger,
	}
}

// Load returns appointments, blocks and settings for [from, to). When the
// remote store is unreachable the cached snapshot is returned marked stale.
// Changes still waiting for replay are applied to the returned view.
func (s *SyncService) Load(ctx context.Context, from, to time.Time, role domain.Role) (domain.View, error) {
	s.mu.Lock()
	s.active = &activeRange{from: from, to: to, role: role}
	s.mu.Unlock()

	if s.conn.Online() {
		snap, err := s.fetch(ctx, from, to, role)
		if err == nil {
			if err := s.gate.WithLock(ctx, func(ctx context.Context) error {
				return s.local.ReplaceRange(ctx, snap)
			}); err != nil {
				s.logger.Warn("failed to refresh local snapshot", "error", err)
			}
			view := domain.View{Snapshot: snap}
			s.overlayPending(ctx, &view)
			return view, nil
		}
		s.logger.Warn("remote fetch failed, serving cached data",
			"from", from,
			"to", to,
			"error", err,
		)
	}

	s.metrics.Counter(observability.MetricCacheFallback, 1)
	snap, err := s.local.LoadSnapshot(ctx, from, to)
	if err != nil {
		return domain.View{}, fmt.Errorf("load local snapshot: %w", err)
	}
	view := domain.View{Snapshot: snap, Stale: true}
	s.overlayPending(ctx, &view)
	return view, nil
}

// overlayPending shows queued changes on top of view. A failure to read the
// queue is logged and the view is returned as loaded.
func (s *SyncService) overlayPending(ctx context.Context, view *domain.View) {
	changes, err := s.local.Pending(ctx, 0)
	if err != nil {
		s.logger.Warn("failed to read pending changes for view", "error", err)
		return
	}
	view.ApplyPending(changes)
}

func (s *SyncService) fetch(ctx context.Context, from, to time.Time, role domain.Role) (domain.Snapshot, error) {
	snap := domain.Snapshot{Range: booking.TimeRange{Start: from, End: to}}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appts, err := s.remote.FetchAppointments(gctx, from, to, role)
		snap.Appointments = appts
		return domain.NewRemoteError("fetch appointments", err)
	})
	g.Go(func() error {
		blocks, err := s.remote.FetchBlocks(gctx, from, to)
		snap.Blocks = blocks
		return domain.NewRemoteError("fetch blocks", err)
	})
	g.Go(func() error {
		hours, err := s.remote.FetchWorkingHours(gctx)
		snap.Hours = hours
		return domain.NewRemoteError("fetch working hours", err)
	})
	g.Go(func() error {
		rest, err := s.remote.FetchRestConfig(gctx)
		snap.Rest = rest
		return domain.NewRemoteError("fetch rest config", err)
	})
	if err := g.Wait(); err != nil {
		return domain.Snapshot{}, err
	}

	snap.FetchedAt = time.Now().UTC()
	return snap, nil
}

// Reschedule persists a move of current to [newStart, newEnd).
func (s *SyncService) Reschedule(ctx context.Context, current *booking.Appointment, newStart, newEnd time.Time) (domain.WriteResult, error) {
	intended := current.Clone()
	if err := intended.Reschedule(newStart, newEnd); err != nil {
		return domain.WriteResult{}, err
	}
	change, err := domain.NewPendingChange(domain.ChangeUpdate, domain.IntentReschedule, intended)
	if err != nil {
		return domain.WriteResult{}, err
	}
	change = change.WithPrevious(current.Start(), current.End())

	return s.write(ctx, change, func(ctx context.Context) (*booking.Appointment, error) {
		return s.remote.PersistReschedule(ctx, current.ID(), newStart, newEnd)
	})
}

// Save persists an appointment that was created or changed in memory.
func (s *SyncService) Save(ctx context.Context, updated *booking.Appointment, intent domain.Intent) (domain.WriteResult, error) {
	kind := domain.ChangeUpdate
	if intent == domain.IntentCreate {
		kind = domain.ChangeCreate
	}
	change, err := domain.NewPendingChange(kind, intent, updated)
	if err != nil {
		return domain.WriteResult{}, err
	}

	return s.write(ctx, change, func(ctx context.Context) (*booking.Appointment, error) {
		if kind == domain.ChangeCreate {
			return s.remote.UpsertAppointment(ctx, updated)
		}
		return s.remote.UpdateAppointment(ctx, updated)
	})
}

// write runs the remote call when online and queues change otherwise. An
// open circuit counts as offline. A refusal is returned as is and any other
// failure as a remote error.
func (s *SyncService) write(ctx context.Context, change domain.PendingChange, remote func(context.Context) (*booking.Appointment, error)) (domain.WriteResult, error) {
	var result domain.WriteResult

	err := s.gate.WithLock(ctx, func(ctx context.Context) error {
		if s.conn.Online() {
			persisted, err := remote(ctx)
			if err == nil {
				if err := s.local.PutAppointments(ctx, persisted); err != nil {
					s.logger.Warn("failed to update local snapshot",
						"appointment_id", persisted.ID(),
						"error", err,
					)
				}
				result = domain.WriteResult{Appointment: persisted}
				return nil
			}
			if domain.IsRefusal(err) {
				return err
			}
			if !errors.Is(err, domain.ErrCircuitOpen) {
				return domain.NewRemoteError(string(change.Intent), err)
			}
			s.logger.Info("remote circuit open, queueing change", "appointment_id", change.AppointmentID)
		}

		if err := s.local.Enqueue(ctx, change); err != nil {
			return fmt.Errorf("enqueue pending change: %w", err)
		}
		s.metrics.Counter(observability.MetricChangesQueued, 1, observability.T("intent", string(change.Intent)))
		s.recordPending(ctx)
		s.logger.Info("change queued for replay",
			"change_id", change.ID,
			"appointment_id", change.AppointmentID,
			"intent", change.Intent,
		)
		result = domain.WriteResult{Appointment: change.Appointment(), Queued: true}
		return nil
	})
	return result, err
}

// Reconcile drains the pending queue in order and then replaces the cached
// snapshot of the active range with fresh remote data. A change that fails
// to replay stays queued and stops the drain, unless it was refused or has
// used up its attempts, in which case it is parked and the drain goes on.
func (s *SyncService) Reconcile(ctx context.Context) (ReconcileResult, error) {
	if !s.conn.Online() {
		return ReconcileResult{}, domain.ErrOffline
	}

	var result ReconcileResult
	err := s.gate.WithLock(ctx, func(ctx context.Context) error {
		replayed, parked, drainErr := s.drain(ctx)
		result.Replayed = replayed
		result.Parked = parked
		if drainErr != nil {
			result.Failed = 1
		}

		refreshed, refreshErr := s.refresh(ctx)
		result.Refreshed = refreshed

		remaining, countErr := s.local.PendingCount(ctx)
		result.Remaining = remaining
		s.metrics.Gauge(observability.MetricPendingChanges, float64(remaining))

		return errors.Join(drainErr, refreshErr, countErr)
	})

	s.logger.Info("reconciliation finished",
		"replayed", result.Replayed,
		"parked", result.Parked,
		"remaining", result.Remaining,
		"refreshed", result.Refreshed,
		"error", err,
	)
	return result, err
}

func (s *SyncService) drain(ctx context.Context) (replayed, parked int, err error) {
	for {
		batch, err := s.local.Pending(ctx, s.config.ReplayBatchSize)
		if err != nil {
			return replayed, parked, fmt.Errorf("read pending changes: %w", err)
		}
		for _, change := range batch {
			if err := ctx.Err(); err != nil {
				return replayed, parked, err
			}
			persisted, err := s.replay(ctx, change)
			if err != nil {
				s.metrics.Counter(observability.MetricReplayFailed, 1)
				if errors.Is(err, domain.ErrCircuitOpen) {
					return replayed, parked, fmt.Errorf("replay change %s: %w", change.ID, err)
				}
				if markErr := s.local.MarkAttempt(ctx, change.ID, err.Error()); markErr != nil {
					s.logger.Error("failed to record replay attempt", "change_id", change.ID, "error", markErr)
				}
				if !domain.IsRefusal(err) && change.Attempts+1 < s.config.MaxReplayAttempts {
					return replayed, parked, fmt.Errorf("replay change %s: %w", change.ID, err)
				}
				if err := s.park(ctx, change, err); err != nil {
					return replayed, parked, err
				}
				parked++
				continue
			}
			if err := s.local.RemovePending(ctx, change.ID); err != nil {
				return replayed, parked, fmt.Errorf("remove replayed change %s: %w", change.ID, err)
			}
			replayed++
			s.metrics.Counter(observability.MetricChangesReplayed, 1, observability.T("intent", string(change.Intent)))

			if persisted != nil {
				if err := s.local.PutAppointments(ctx, persisted); err != nil {
					s.logger.Warn("failed to cache replayed appointment", "appointment_id", persisted.ID(), "error", err)
				}
				if change.Intent == domain.IntentReschedule {
					s.notify(ctx, persisted, change.PreviousStart, change.PreviousEnd)
				}
			}
		}
		if len(batch) < s.config.ReplayBatchSize {
			return replayed, parked, nil
		}
	}
}

// park takes a change out of the replay queue so later changes are not held
// up behind it.
func (s *SyncService) park(ctx context.Context, change domain.PendingChange, cause error) error {
	if err := s.local.Park(ctx, change.ID, cause.Error()); err != nil {
		return fmt.Errorf("park change %s: %w", change.ID, err)
	}
	s.metrics.Counter(observability.MetricChangesParked, 1, observability.T("intent", string(change.Intent)))
	s.logger.Error("pending change parked",
		"change_id", change.ID,
		"appointment_id", change.AppointmentID,
		"intent", change.Intent,
		"attempts", change.Attempts+1,
		"error", cause,
	)
	return nil
}

func (s *SyncService) replay(ctx context.Context, change domain.PendingChange) (*booking.Appointment, error) {
	switch change.Kind {
	case domain.ChangeCreate:
		return s.remote.UpsertAppointment(ctx, change.Appointment())
	case domain.ChangeUpdate:
		return s.remote.UpdateAppointment(ctx, change.Appointment())
	case domain.ChangeDelete:
		return nil, s.remote.DeleteAppointment(ctx, change.AppointmentID)
	}
	return nil, domain.ErrInvalidChangeKind
}

func (s *SyncService) refresh(ctx context.Context) (bool, error) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return false, nil
	}

	snap, err := s.fetch(ctx, active.from, active.to, active.role)
	if err != nil {
		return false, err
	}
	if err := s.local.ReplaceSnapshot(ctx, snap); err != nil {
		return false, fmt.Errorf("replace local snapshot: %w", err)
	}
	return true, nil
}

func (s *SyncService) notify(ctx context.Context, a *booking.Appointment, oldStart, oldEnd time.Time) {
	if s.notifier == nil {
		return
	}
	event := booking.NewAppointmentRescheduled(a, oldStart, oldEnd)
	event.WithCorrelation(observability.CorrelationIDFromContext(ctx))
	if err := s.notifier.NotifyRescheduled(ctx, event); err != nil {
		s.metrics.Counter(observability.MetricNotifyFailed, 1)
		s.logger.Warn("failed to notify client of replayed reschedule",
			"appointment_id", a.ID(),
			"error", err,
		)
	}
}

func (s *SyncService) recordPending(ctx context.Context) {
	if n, err := s.local.PendingCount(ctx); err == nil {
		s.metrics.Gauge(observability.MetricPendingChanges, float64(n))
	}
}

// Pending lists queued changes in replay order.
func (s *SyncService) Pending(ctx context.Context, limit int) ([]domain.PendingChange, error) {
	return s.local.Pending(ctx, limit)
}

// Parked lists changes that were taken out of the queue after failing to
// replay.
func (s *SyncService) Parked(ctx context.Context, limit int) ([]domain.PendingChange, error) {
	return s.local.Parked(ctx, limit)
}

// PendingCount returns the number of queued changes.
func (s *SyncService) PendingCount(ctx context.Context) (int, error) {
	return s.local.PendingCount(ctx)
}
