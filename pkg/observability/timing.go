package observability

import (
	"log/slog"
	"time"
)

// Timer measures one operation and reports it to a logger and a collector.
type Timer struct {
	name    string
	start   time.Time
	logger  *slog.Logger
	metrics Metrics
	tags    []Tag
}

// StartTimer begins timing the named metric.
func StartTimer(name string, metrics Metrics, tags ...Tag) *Timer {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Timer{name: name, start: time.Now(), metrics: metrics, tags: tags}
}

// WithLogger makes Stop log the outcome at debug level, or warn on error.
func (t *Timer) WithLogger(logger *slog.Logger) *Timer {
	t.logger = logger
	return t
}

// Stop records the elapsed time, tagging the outcome.
func (t *Timer) Stop(err error) time.Duration {
	elapsed := time.Since(t.start)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.metrics.Timing(t.name, elapsed, append(t.tags, T("outcome", outcome))...)

	if t.logger != nil {
		if err != nil {
			t.logger.Warn("operation failed", "metric", t.name, DurationKey, elapsed.Milliseconds(), ErrorKey, err)
		} else {
			t.logger.Debug("operation completed", "metric", t.name, DurationKey, elapsed.Milliseconds())
		}
	}
	return elapsed
}
