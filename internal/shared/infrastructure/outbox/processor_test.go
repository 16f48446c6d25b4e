package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/agenda/internal/shared/domain"
	"github.com/felixgeelhaar/agenda/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/agenda/pkg/observability"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rescheduledKey = "agenda.appointment.rescheduled"

// fakeOutbox keeps messages in memory and hands out the due ones.
type fakeOutbox struct {
	mu       sync.Mutex
	messages []*outbox.Message
	readErr  error
}

func (o *fakeOutbox) Save(_ context.Context, msg *outbox.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg.ID = int64(len(o.messages) + 1)
	o.messages = append(o.messages, msg)
	return nil
}

func (o *fakeOutbox) GetUnpublished(_ context.Context, limit int) ([]*outbox.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.readErr != nil {
		return nil, o.readErr
	}
	var due []*outbox.Message
	for _, msg := range o.messages {
		if msg.PublishedAt != nil || msg.DeadLetteredAt != nil {
			continue
		}
		if msg.NextRetryAt != nil && msg.NextRetryAt.After(time.Now()) {
			continue
		}
		due = append(due, msg)
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (o *fakeOutbox) MarkPublished(_ context.Context, id int64) error {
	return o.update(id, func(m *outbox.Message) {
		now := time.Now()
		m.PublishedAt = &now
	})
}

func (o *fakeOutbox) MarkFailed(_ context.Context, id int64, reason string, at time.Time) error {
	return o.update(id, func(m *outbox.Message) {
		m.RetryCount++
		m.LastError = &reason
		m.NextRetryAt = &at
	})
}

func (o *fakeOutbox) MarkDead(_ context.Context, id int64, reason string) error {
	return o.update(id, func(m *outbox.Message) {
		now := time.Now()
		m.DeadLetteredAt = &now
		m.DeadLetterReason = &reason
	})
}

func (o *fakeOutbox) DeleteOld(context.Context, time.Duration) (int64, error) { return 0, nil }

func (o *fakeOutbox) update(id int64, fn func(*outbox.Message)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.messages {
		if m.ID == id {
			fn(m)
		}
	}
	return nil
}

func (o *fakeOutbox) get(id int64) outbox.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *o.messages[id-1]
}

// fakeBroker records what was published and refuses while down is set.
type fakeBroker struct {
	mu           sync.Mutex
	down         bool
	keys         []string
	correlations []string
}

func (b *fakeBroker) Publish(ctx context.Context, routingKey string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errors.New("broker unreachable")
	}
	b.keys = append(b.keys, routingKey)
	b.correlations = append(b.correlations, observability.CorrelationIDFromContext(ctx))
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) sent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.keys)
}

func (b *fakeBroker) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func queueNotification(t *testing.T, box *fakeOutbox, correlationID string) *outbox.Message {
	t.Helper()
	msg := &outbox.Message{
		EventID:       uuid.New(),
		AggregateID:   uuid.New(),
		RoutingKey:    rescheduledKey,
		CorrelationID: correlationID,
		Payload:       json.RawMessage(`{"reason":"client asked"}`),
		CreatedAt:     time.Now(),
	}
	require.NoError(t, box.Save(context.Background(), msg))
	return msg
}

type relayFixture struct {
	box     *fakeOutbox
	broker  *fakeBroker
	metrics *observability.InMemoryMetrics
	relay   *outbox.Processor
}

func newRelay(config outbox.ProcessorConfig) relayFixture {
	f := relayFixture{
		box:     &fakeOutbox{},
		broker:  &fakeBroker{},
		metrics: observability.NewInMemoryMetrics(),
	}
	f.relay = outbox.NewProcessor(f.box, f.broker, f.metrics, config, nil)
	return f
}

func TestProcessor_DeliversDueNotifications(t *testing.T) {
	f := newRelay(outbox.DefaultProcessorConfig())
	first := queueNotification(t, f.box, "corr-1")
	queueNotification(t, f.box, "")

	d, err := f.relay.ProcessOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, outbox.Delivery{Sent: 2}, d)
	assert.Equal(t, []string{rescheduledKey, rescheduledKey}, f.broker.keys)
	assert.Equal(t, []string{"corr-1", ""}, f.broker.correlations)
	delivered := f.box.get(first.ID)
	assert.True(t, delivered.IsPublished())
	assert.Equal(t, int64(2), f.metrics.CounterValue(observability.MetricNotificationSent, observability.T("routing_key", rescheduledKey)))

	again, err := f.relay.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Sent)
	assert.Equal(t, int64(2), f.relay.Stats().Sent)
}

func TestProcessor_FailedDeliveryIsRetriedLater(t *testing.T) {
	config := outbox.DefaultProcessorConfig()
	config.RetryDelay = time.Minute
	f := newRelay(config)
	msg := queueNotification(t, f.box, "")
	f.broker.setDown(true)

	before := time.Now()
	d, err := f.relay.ProcessOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, outbox.Delivery{Retrying: 1}, d)
	stored := f.box.get(msg.ID)
	assert.Equal(t, 1, stored.RetryCount)
	require.NotNil(t, stored.NextRetryAt)
	assert.WithinDuration(t, before.Add(time.Minute), *stored.NextRetryAt, 5*time.Second)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "broker unreachable")
	assert.Equal(t, "broker unreachable", f.relay.Stats().LastError)
	assert.Equal(t, int64(1), f.metrics.CounterValue(observability.MetricNotificationRetried, observability.T("routing_key", rescheduledKey)))

	f.broker.setDown(false)
	d, err = f.relay.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, d.Sent, "not due until the retry time")
}

func TestProcessor_RetryDelayGrowsUpToCeiling(t *testing.T) {
	config := outbox.DefaultProcessorConfig()
	config.RetryDelay = time.Minute
	config.MaxDelay = 3 * time.Minute
	config.MaxAttempts = 10
	f := newRelay(config)
	msg := queueNotification(t, f.box, "")
	f.broker.setDown(true)

	for _, want := range []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute, 3 * time.Minute} {
		f.box.update(msg.ID, func(m *outbox.Message) { m.NextRetryAt = nil })
		before := time.Now()
		_, err := f.relay.ProcessOnce(context.Background())
		require.NoError(t, err)
		assert.WithinDuration(t, before.Add(want), *f.box.get(msg.ID).NextRetryAt, 5*time.Second)
	}
}

func TestProcessor_GivesUpAfterMaxAttempts(t *testing.T) {
	config := outbox.DefaultProcessorConfig()
	config.MaxAttempts = 2
	f := newRelay(config)
	msg := queueNotification(t, f.box, "")
	f.broker.setDown(true)

	d, err := f.relay.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, d.Retrying)

	f.box.update(msg.ID, func(m *outbox.Message) { m.NextRetryAt = nil })
	d, err = f.relay.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, outbox.Delivery{Dead: 1}, d)

	stored := f.box.get(msg.ID)
	assert.NotNil(t, stored.DeadLetteredAt)
	require.NotNil(t, stored.DeadLetterReason)
	assert.Contains(t, *stored.DeadLetterReason, "broker unreachable")
	assert.Equal(t, int64(1), f.metrics.CounterValue(observability.MetricNotificationDead, observability.T("routing_key", rescheduledKey)))

	f.broker.setDown(false)
	d, err = f.relay.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, d.Sent, "a dead notification is not delivered again")
}

func TestProcessor_UnreadableOutbox(t *testing.T) {
	f := newRelay(outbox.DefaultProcessorConfig())
	f.box.readErr = errors.New("database is locked")

	_, err := f.relay.ProcessOnce(context.Background())

	require.Error(t, err)
	assert.Equal(t, "database is locked", f.relay.Stats().LastError)
}

func TestProcessor_RunUntilStopped(t *testing.T) {
	f := newRelay(outbox.ProcessorConfig{PollInterval: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- f.relay.Run(context.Background()) }()
	require.Eventually(t, f.relay.IsRunning, time.Second, 5*time.Millisecond)

	queueNotification(t, f.box, "")
	require.Eventually(t, func() bool { return f.broker.sent() == 1 }, time.Second, 5*time.Millisecond)

	f.relay.Stop()
	f.relay.Stop()
	require.NoError(t, <-done)
	assert.False(t, f.relay.IsRunning())
}

func TestProcessor_RunEndsWithContext(t *testing.T) {
	f := newRelay(outbox.DefaultProcessorConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.relay.Run(ctx) }()
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}

type movedEvent struct {
	domain.BaseEvent
	Reason string `json:"reason"`
}

func TestNewMessage(t *testing.T) {
	event := movedEvent{BaseEvent: domain.NewBaseEvent(uuid.New(), rescheduledKey), Reason: "client asked"}
	event.WithCorrelation("corr-1")

	msg, err := outbox.NewMessage(event)
	require.NoError(t, err)

	assert.Equal(t, event.EventID(), msg.EventID)
	assert.Equal(t, event.AggregateID(), msg.AggregateID)
	assert.Equal(t, rescheduledKey, msg.RoutingKey)
	assert.Equal(t, "corr-1", msg.CorrelationID)
	assert.False(t, msg.IsPublished())

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &fields))
	assert.JSONEq(t, `"client asked"`, string(fields["reason"]))
}
