package domain

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is something that happened in the domain and is published
// to other processes.
type DomainEvent interface {
	EventID() uuid.UUID
	AggregateID() uuid.UUID
	RoutingKey() string
	OccurredAt() time.Time
	CorrelationID() string
}

// BaseEvent provides the common event fields. It is embedded by concrete
// events and serialised with them.
type BaseEvent struct {
	ID          uuid.UUID `json:"event_id"`
	Aggregate   uuid.UUID `json:"aggregate_id"`
	Key         string    `json:"routing_key"`
	At          time.Time `json:"occurred_at"`
	Correlation string    `json:"correlation_id,omitempty"`
}

// NewBaseEvent creates a base event stamped with the current time.
func NewBaseEvent(aggregateID uuid.UUID, routingKey string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New(),
		Aggregate: aggregateID,
		Key:       routingKey,
		At:        time.Now().UTC(),
	}
}

func (e BaseEvent) EventID() uuid.UUID     { return e.ID }
func (e BaseEvent) AggregateID() uuid.UUID { return e.Aggregate }
func (e BaseEvent) RoutingKey() string     { return e.Key }
func (e BaseEvent) OccurredAt() time.Time  { return e.At }
func (e BaseEvent) CorrelationID() string  { return e.Correlation }

// WithCorrelation sets the correlation ID used to trace the event.
func (e *BaseEvent) WithCorrelation(id string) {
	e.Correlation = id
}
