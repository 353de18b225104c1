package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventAgentRegistered   EventType = "agent.registered"
	EventAgentUnregistered EventType = "agent.unregistered"
	EventEnvelopeSent      EventType = "envelope.sent"
	EventEnvelopeCompleted EventType = "envelope.completed"
	EventEnvelopeFailed    EventType = "envelope.failed"
	EventEnvelopeExpired   EventType = "envelope.expired"
	EventEnvelopeProcessed EventType = "envelope.processed"
	EventBreakerOpened     EventType = "breaker.opened"
	EventMessageRouted     EventType = "message.routed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event)

// EventBus is an in-process publish/subscribe bus.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) func()
	SubscribeAll(handler EventHandler) func()
	Close()
}
