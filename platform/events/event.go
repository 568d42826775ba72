// Package events is the in-process event bus. Modules publish lifecycle
// facts (lead created, scored, routed) and subscribers react without the
// publisher knowing who listens. The bus carries no business logic.
package events

import (
	"context"
	"time"
)

// Event is implemented by everything published on the bus.
type Event interface {
	// EventName identifies the event type; subscriptions key off it.
	EventName() string
	// OccurredAt is when the underlying fact happened.
	OccurredAt() time.Time
}

// BaseEvent holds the timestamp every event carries. Concrete events embed
// it and add their own EventName.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps an event with the current UTC time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now().UTC()}
}

// Handler reacts to one event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function into a Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus publishes events and registers subscribers.
type Bus interface {
	// Publish delivers the event to every handler registered for its name.
	// Delivery is asynchronous and best-effort.
	Publish(ctx context.Context, event Event)

	// PublishSync delivers in order and returns the combined handler error.
	PublishSync(ctx context.Context, event Event) error

	// Subscribe registers a handler for the name an Event reports from
	// EventName.
	Subscribe(eventName string, handler Handler)
}
