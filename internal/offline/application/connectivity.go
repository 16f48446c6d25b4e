package application

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/agenda/internal/offline/domain"
	"github.com/felixgeelhaar/agenda/pkg/observability"
)

// DefaultCheckInterval is the default interval between connectivity checks.
const DefaultCheckInterval = 10 * time.Second

// Pinger checks that the remote store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectivityConfig configures the monitor.
type ConnectivityConfig struct {
	CheckInterval   time.Duration
	CheckTimeout    time.Duration
	InitiallyOnline bool
}

// DefaultConnectivityConfig returns the default configuration.
func DefaultConnectivityConfig() ConnectivityConfig {
	return ConnectivityConfig{
		CheckInterval:   DefaultCheckInterval,
		CheckTimeout:    3 * time.Second,
		InitiallyOnline: true,
	}
}

// ConnectivityMonitor tracks whether the remote store is reachable and
// broadcasts online/offline transitions to subscribers.
type ConnectivityMonitor struct {
	pinger  Pinger
	config  ConnectivityConfig
	metrics observability.Metrics
	logger  *slog.Logger

	online atomic.Bool

	subMu  sync.Mutex
	subs   map[uint64]chan domain.Transition
	nextID uint64

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewConnectivityMonitor creates a monitor. pinger may be nil, in which case
// state only changes through SetOnline.
func NewConnectivityMonitor(pinger Pinger, config ConnectivityConfig, metrics observability.Metrics, logger *slog.Logger) *ConnectivityMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultCheckInterval
	}
	m := &ConnectivityMonitor{
		pinger:  pinger,
		config:  config,
		metrics: metrics,
		logger:  logger,
		subs:    make(map[uint64]chan domain.Transition),
		stopCh:  make(chan struct{}),
	}
	m.online.Store(config.InitiallyOnline)
	return m
}

// Online reports the last known state.
func (m *ConnectivityMonitor) Online() bool {
	return m.online.Load()
}

// Subscribe registers for transitions. Each subscriber sees at least the
// latest transition; older undelivered ones are dropped.
func (m *ConnectivityMonitor) Subscribe() (<-chan domain.Transition, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan domain.Transition, 1)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

// SetOnline records a state and notifies subscribers if it changed.
func (m *ConnectivityMonitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	gauge := 0.0
	if online {
		gauge = 1
	}
	m.metrics.Gauge(observability.MetricConnectivity, gauge)
	m.logger.Info("connectivity changed", "online", online)

	t := domain.Transition{Online: online, At: time.Now().UTC()}
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- t:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- t:
			default:
			}
		}
	}
}

// Check pings the remote store once and updates the state.
func (m *ConnectivityMonitor) Check(ctx context.Context) bool {
	if m.pinger == nil {
		return m.Online()
	}
	if m.config.CheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.CheckTimeout)
		defer cancel()
	}
	err := m.pinger.Ping(ctx)
	if err != nil {
		m.logger.Debug("connectivity check failed", "error", err)
	}
	m.SetOnline(err == nil)
	return err == nil
}

// Run checks on an interval until ctx is cancelled or Stop is called.
func (m *ConnectivityMonitor) Run(ctx context.Context) error {
	m.running.Store(true)
	defer m.running.Store(false)
	m.logger.Info("connectivity monitor started", "interval", m.config.CheckInterval)

	m.Check(ctx)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("connectivity monitor stopped (context cancelled)")
			return ctx.Err()
		case <-m.stopCh:
			m.logger.Info("connectivity monitor stopped (stop signal)")
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Stop signals Run to return.
func (m *ConnectivityMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// IsRunning returns true while Run is active.
func (m *ConnectivityMonitor) IsRunning() bool {
	return m.running.Load()
}
