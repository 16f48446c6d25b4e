package observability

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Metric names recorded by the scheduling core and the sync layer.
const (
	MetricRescheduleRejected  = "agenda.reschedule.rejected"
	MetricRescheduleCommitted = "agenda.reschedule.committed"
	MetricRescheduleFailed    = "agenda.reschedule.failed"
	MetricRescheduleQueued    = "agenda.reschedule.queued"
	MetricRescheduleCommit    = "agenda.reschedule.commit"
	MetricNotifyFailed        = "agenda.notify.failed"
	MetricCacheFallback       = "agenda.sync.cache_fallback"
	MetricChangesQueued       = "agenda.sync.changes_queued"
	MetricChangesReplayed     = "agenda.sync.changes_replayed"
	MetricReplayFailed        = "agenda.sync.replay_failed"
	MetricChangesParked       = "agenda.sync.changes_parked"
	MetricPendingChanges      = "agenda.sync.pending"
	MetricConnectivity        = "agenda.sync.online"
	MetricBreakerOpen         = "agenda.remote.breaker_open"
	MetricRemoteCall          = "agenda.remote.call"
	MetricNotificationSent    = "agenda.outbox.sent"
	MetricNotificationRetried = "agenda.outbox.retried"
	MetricNotificationDead    = "agenda.outbox.dead"
)

// Metrics records application metrics.
type Metrics interface {
	Counter(name string, value int64, tags ...Tag)
	Gauge(name string, value float64, tags ...Tag)
	Timing(name string, duration time.Duration, tags ...Tag)
}

// Tag is a key-value metric label.
type Tag struct {
	Key   string
	Value string
}

// T creates a Tag.
func T(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Counter(string, int64, ...Tag)         {}
func (NoopMetrics) Gauge(string, float64, ...Tag)         {}
func (NoopMetrics) Timing(string, time.Duration, ...Tag) {}

// InMemoryMetrics keeps metrics in process, for tests and the CLI summary.
type InMemoryMetrics struct {
	mu       sync.RWMutex
	counters map[string]int64
	gauges   map[string]float64
	timings  map[string][]time.Duration
}

// NewInMemoryMetrics creates an empty collector.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
		timings:  make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Counter(name string, value int64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metricKey(name, tags)] += value
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metricKey(name, tags)] = value
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metricKey(name, tags)
	m.timings[key] = append(m.timings[key], duration)
}

// CounterValue returns the current value of a counter.
func (m *InMemoryMetrics) CounterValue(name string, tags ...Tag) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[metricKey(name, tags)]
}

// GaugeValue returns the last value set on a gauge.
func (m *InMemoryMetrics) GaugeValue(name string, tags ...Tag) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[metricKey(name, tags)]
}

// Timings returns a copy of the recorded durations.
func (m *InMemoryMetrics) Timings(name string, tags ...Tag) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.timings[metricKey(name, tags)]
	out := make([]time.Duration, len(src))
	copy(out, src)
	return out
}

// metricKey is order-independent with respect to tags.
func metricKey(name string, tags []Tag) string {
	if len(tags) == 0 {
		return name
	}
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, t.Key+"="+t.Value)
	}
	sort.Strings(parts)
	return name + ":" + strings.Join(parts, ",")
}
