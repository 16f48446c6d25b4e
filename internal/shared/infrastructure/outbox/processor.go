package outbox

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/agenda/pkg/observability"
)

// ProcessorConfig configures how queued notifications are delivered.
type ProcessorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts is how many deliveries a message gets before it is marked
	// dead and left for an operator.
	MaxAttempts int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
	// Retention is how long delivered messages are kept. Zero keeps them.
	Retention time.Duration
}

// DefaultProcessorConfig returns the worker defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval: time.Second,
		BatchSize:    50,
		MaxAttempts:  8,
		RetryDelay:   2 * time.Second,
		MaxDelay:     10 * time.Minute,
		Retention:    7 * 24 * time.Hour,
	}
}

// Delivery is the outcome of one pass over the outbox.
type Delivery struct {
	Sent     int
	Retrying int
	Dead     int
}

// ProcessorStats accumulates deliveries since the processor was created.
type ProcessorStats struct {
	Sent      int64
	Retrying  int64
	Dead      int64
	LastError string
	LastRunAt time.Time
}

// Processor delivers queued client notifications to the broker. A failed
// delivery is retried later with a growing delay until MaxAttempts is spent.
type Processor struct {
	repo      Repository
	publisher eventbus.Publisher
	metrics   observability.Metrics
	config    ProcessorConfig
	logger    *slog.Logger

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	statsMu sync.Mutex
	stats   ProcessorStats
}

// NewProcessor creates a processor. Zero config fields take the defaults.
func NewProcessor(repo Repository, publisher eventbus.Publisher, metrics observability.Metrics, config ProcessorConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	defaults := DefaultProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}
	if config.MaxDelay < config.RetryDelay {
		config.MaxDelay = config.RetryDelay
	}
	return &Processor{
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		config:    config,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Run delivers on every poll until ctx is cancelled or Stop is called.
// Delivered messages past the retention period are pruned once an hour.
func (p *Processor) Run(ctx context.Context) error {
	p.running.Store(true)
	defer p.running.Store(false)
	p.logger.Info("notification relay started", "poll_interval", p.config.PollInterval)

	poll := time.NewTicker(p.config.PollInterval)
	defer poll.Stop()
	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			p.logger.Info("notification relay stopped")
			return nil
		case <-poll.C:
			if _, err := p.ProcessOnce(ctx); err != nil {
				p.logger.Error("failed to read outbox", "error", err)
			}
		case <-prune.C:
			p.prune(ctx)
		}
	}
}

// ProcessOnce delivers one batch of due messages. Delivery failures are
// recorded on the messages, so the error only reports an unreadable outbox.
func (p *Processor) ProcessOnce(ctx context.Context) (Delivery, error) {
	var d Delivery
	messages, err := p.repo.GetUnpublished(ctx, p.config.BatchSize)
	if err != nil {
		p.note(d, err)
		return d, err
	}

	var lastErr error
	for _, msg := range messages {
		if err := p.send(ctx, msg); err != nil {
			lastErr = err
			if msg.RetryCount+1 >= p.config.MaxAttempts {
				p.bury(ctx, msg, err)
				d.Dead++
			} else {
				p.retryLater(ctx, msg, err)
				d.Retrying++
			}
			continue
		}
		if err := p.repo.MarkPublished(ctx, msg.ID); err != nil {
			// The broker has it; a second delivery is possible after a restart.
			p.logger.Error("failed to mark notification sent", "event_id", msg.EventID, "error", err)
		}
		p.metrics.Counter(observability.MetricNotificationSent, 1, observability.T("routing_key", msg.RoutingKey))
		d.Sent++
	}

	p.note(d, lastErr)
	return d, nil
}

func (p *Processor) send(ctx context.Context, msg *Message) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	return p.publisher.Publish(ctx, msg.RoutingKey, msg.Payload)
}

func (p *Processor) retryLater(ctx context.Context, msg *Message, cause error) {
	attempt := msg.RetryCount + 1
	at := time.Now().Add(p.delay(attempt))
	p.logger.Warn("notification delivery failed, will retry",
		"event_id", msg.EventID,
		"routing_key", msg.RoutingKey,
		"correlation_id", msg.CorrelationID,
		"attempt", attempt,
		"retry_at", at,
		"error", cause,
	)
	if err := p.repo.MarkFailed(ctx, msg.ID, cause.Error(), at); err != nil {
		p.logger.Error("failed to record delivery failure", "event_id", msg.EventID, "error", err)
	}
	p.metrics.Counter(observability.MetricNotificationRetried, 1, observability.T("routing_key", msg.RoutingKey))
}

func (p *Processor) bury(ctx context.Context, msg *Message, cause error) {
	p.logger.Error("notification undeliverable, giving up",
		"event_id", msg.EventID,
		"routing_key", msg.RoutingKey,
		"correlation_id", msg.CorrelationID,
		"attempts", msg.RetryCount+1,
		"error", cause,
	)
	if err := p.repo.MarkDead(ctx, msg.ID, cause.Error()); err != nil {
		p.logger.Error("failed to mark notification dead", "event_id", msg.EventID, "error", err)
	}
	p.metrics.Counter(observability.MetricNotificationDead, 1, observability.T("routing_key", msg.RoutingKey))
}

// delay doubles RetryDelay for each failed attempt, capped at MaxDelay.
func (p *Processor) delay(attempt int) time.Duration {
	d := p.config.RetryDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.config.MaxDelay {
			return p.config.MaxDelay
		}
	}
	return d
}

func (p *Processor) prune(ctx context.Context) {
	if p.config.Retention <= 0 {
		return
	}
	n, err := p.repo.DeleteOld(ctx, p.config.Retention)
	if err != nil {
		p.logger.Warn("failed to prune outbox", "error", err)
		return
	}
	if n > 0 {
		p.logger.Debug("pruned delivered notifications", "count", n)
	}
}

func (p *Processor) note(d Delivery, err error) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.Sent += int64(d.Sent)
	p.stats.Retrying += int64(d.Retrying)
	p.stats.Dead += int64(d.Dead)
	p.stats.LastRunAt = time.Now().UTC()
	if err != nil {
		p.stats.LastError = err.Error()
	}
}

// Stats returns a copy of the accumulated stats.
func (p *Processor) Stats() ProcessorStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// Stop signals Run to return.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// IsRunning returns true while Run is active.
func (p *Processor) IsRunning() bool {
	return p.running.Load()
}
