package application

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/agenda/internal/offline/domain"
)

// DefaultReconcileInterval is how often the queue is retried while online.
const DefaultReconcileInterval = time.Minute

// Reconcilable is the part of the sync service the reconciler drives.
type Reconcilable interface {
	Reconcile(ctx context.Context) (ReconcileResult, error)
	PendingCount(ctx context.Context) (int, error)
}

// ReconcilerConfig configures the reconciler.
type ReconcilerConfig struct {
	Interval time.Duration
}

// ReconcilerStats tracks reconciliation activity.
type ReconcilerStats struct {
	Runs      int64
	Replayed  int64
	Failed    int64
	Parked    int64
	Pending   int
	LastError string
	LastRunAt time.Time
}

// Reconciler replays queued changes when connectivity returns, and retries
// periodically while changes remain queued.
type Reconciler struct {
	sync   Reconcilable
	conn   domain.Connectivity
	config ReconcilerConfig
	logger *slog.Logger

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	statsMu sync.Mutex
	stats   ReconcilerStats
}

// NewReconciler creates a reconciler.
func NewReconciler(s Reconcilable, conn domain.Connectivity, config ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultReconcileInterval
	}
	return &Reconciler{
		sync:   s,
		conn:   conn,
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Stop is called.
func (r *Reconciler) Run(ctx context.Context) error {
	transitions, unsubscribe := r.conn.Subscribe()
	defer unsubscribe()

	r.running.Store(true)
	defer r.running.Store(false)
	r.logger.Info("reconciler started", "interval", r.config.Interval)

	r.retryPending(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped (context cancelled)")
			return ctx.Err()
		case <-r.stopCh:
			r.logger.Info("reconciler stopped (stop signal)")
			return nil
		case t := <-transitions:
			if t.Online {
				r.logger.Info("connectivity restored, reconciling")
				_, _ = r.RunOnce(ctx)
			}
		case <-ticker.C:
			r.retryPending(ctx)
		}
	}
}

func (r *Reconciler) retryPending(ctx context.Context) {
	if !r.conn.Online() {
		return
	}
	n, err := r.sync.PendingCount(ctx)
	if err != nil {
		r.logger.Error("failed to count pending changes", "error", err)
		return
	}
	if n > 0 {
		_, _ = r.RunOnce(ctx)
	}
}

// RunOnce reconciles immediately and records the outcome.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileResult, error) {
	result, err := r.sync.Reconcile(ctx)

	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.stats.Runs++
	r.stats.Replayed += int64(result.Replayed)
	r.stats.Failed += int64(result.Failed)
	r.stats.Parked += int64(result.Parked)
	r.stats.Pending = result.Remaining
	r.stats.LastRunAt = time.Now().UTC()
	if err != nil {
		r.stats.LastError = err.Error()
		r.logger.Warn("reconciliation incomplete", "error", err)
	} else {
		r.stats.LastError = ""
	}
	return result, err
}

// Stats returns a copy of the current stats.
func (r *Reconciler) Stats() ReconcilerStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// Stop signals Run to return.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// IsRunning returns true while Run is active.
func (r *Reconciler) IsRunning() bool {
	return r.running.Load()
}
