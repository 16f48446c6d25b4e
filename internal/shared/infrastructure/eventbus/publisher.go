package eventbus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Publisher sends messages to subscribers of a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// Handler receives messages from an InProcessPublisher.
type Handler func(ctx context.Context, routingKey string, payload []byte) error

// InProcessPublisher delivers messages synchronously to handlers registered
// in the same process. It is used when no broker is configured.
type InProcessPublisher struct {
	mu       sync.RWMutex
	handlers []route
	logger   *slog.Logger
}

type route struct {
	pattern string
	handler Handler
}

// NewInProcessPublisher creates a publisher without handlers.
func NewInProcessPublisher(logger *slog.Logger) *InProcessPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessPublisher{logger: logger}
}

// Subscribe registers handler for routing keys matching pattern. Patterns
// use the topic exchange syntax: "*" matches one word, "#" matches the rest.
func (p *InProcessPublisher) Subscribe(pattern string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, route{pattern: pattern, handler: handler})
}

// Publish runs every matching handler and returns the first handler error.
func (p *InProcessPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var firstErr error
	delivered := 0
	for _, r := range p.handlers {
		if !matchTopic(r.pattern, routingKey) {
			continue
		}
		delivered++
		if err := r.handler(ctx, routingKey, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.logger.Debug("in-process publish",
		"routing_key", routingKey,
		"handlers", delivered,
	)
	return firstErr
}

// Close is a no-op.
func (p *InProcessPublisher) Close() error {
	return nil
}

func matchTopic(pattern, key string) bool {
	pw := strings.Split(pattern, ".")
	kw := strings.Split(key, ".")
	for i, w := range pw {
		if w == "#" {
			return true
		}
		if i >= len(kw) {
			return false
		}
		if w != "*" && w != kw[i] {
			return false
		}
	}
	return len(pw) == len(kw)
}

// NoopPublisher discards messages.
type NoopPublisher struct {
	logger *slog.Logger
}

// NewNoopPublisher creates a publisher that does nothing.
func NewNoopPublisher(logger *slog.Logger) *NoopPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopPublisher{logger: logger}
}

// Publish logs the message but doesn't actually publish.
func (p *NoopPublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	p.logger.Debug("noop publish",
		"routing_key", routingKey,
		"size", len(payload),
	)
	return nil
}

// Close is a no-op.
func (p *NoopPublisher) Close() error {
	return nil
}
