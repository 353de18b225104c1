package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"shopassist/internal/domain"
)

// wildcard keys subscriptions that receive every event type.
const wildcard domain.EventType = "*"

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus. Handlers run on their own
// goroutines with a context detached from the publisher's cancellation.
type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.EventType][]subscription
	nextID atomic.Uint64
	logger *slog.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[domain.EventType][]subscription),
		logger: logger,
	}
}

// Publish fans out an event to typed subscribers, then wildcard subscribers.
// Panicking handlers are recovered and logged. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs[event.Type])+len(b.subs[wildcard]))
	targets = append(targets, b.subs[event.Type]...)
	targets = append(targets, b.subs[wildcard]...)
	b.mu.RUnlock()

	detached := context.WithoutCancel(ctx)
	for _, sub := range targets {
		b.wg.Add(1)
		go b.run(detached, event, sub)
	}
}

func (b *Bus) run(ctx context.Context, event domain.Event, sub subscription) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", string(event.Type), "panic", r)
		}
	}()
	sub.handler(ctx, event)
}

// Subscribe registers a handler for one event type and returns its unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler for every event and returns its unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(wildcard, handler)
}

func (b *Bus) add(key domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[key]
		for i, s := range list {
			if s.id == id {
				b.subs[key] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Close prevents new publishes and waits for in-flight handlers. Idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

// Emit marshals detail as the payload of a new event and publishes it on bus.
// A nil bus is allowed and ignored.
func Emit(ctx context.Context, bus domain.EventBus, logger *slog.Logger, eventType domain.EventType, sessionID string, detail any) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		logger.Warn("failed to marshal event payload", "event", string(eventType), "error", err)
		return
	}
	bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   payload,
	})
}
