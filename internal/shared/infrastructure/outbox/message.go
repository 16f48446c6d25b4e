// Package outbox stores outgoing events next to the data that produced them
// and publishes them to the broker later, so a message survives a crash or a
// broker outage.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/felixgeelhaar/agenda/internal/shared/domain"
	"github.com/google/uuid"
)

// Message is an event waiting in the outbox.
type Message struct {
	ID               int64
	EventID          uuid.UUID
	AggregateID      uuid.UUID
	RoutingKey       string
	CorrelationID    string
	Payload          json.RawMessage
	CreatedAt        time.Time
	PublishedAt      *time.Time
	NextRetryAt      *time.Time
	RetryCount       int
	LastError        *string
	DeadLetteredAt   *time.Time
	DeadLetterReason *string
}

// NewMessage serialises a domain event into a message.
func NewMessage(event domain.DomainEvent) (*Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return &Message{
		EventID:       event.EventID(),
		AggregateID:   event.AggregateID(),
		RoutingKey:    event.RoutingKey(),
		CorrelationID: event.CorrelationID(),
		Payload:       payload,
		CreatedAt:     event.OccurredAt(),
	}, nil
}

// IsPublished returns true if the message has been published.
func (m *Message) IsPublished() bool {
	return m.PublishedAt != nil
}

