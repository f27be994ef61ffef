package events

import (
	"context"
	"fmt"
	"sync"

	"civicreport_backend/platform/logger"
)

// InMemoryBus is a process-local Bus implementation. Handlers for an event
// run in subscription order; PublishSync preserves the caller's commit order,
// which matters for consumers that rely on per-aggregate event ordering.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logger.Logger
}

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

// Subscribe registers a handler for the named event type.
func (b *InMemoryBus) Subscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish dispatches the event to all handlers on a new goroutine.
// Handler errors and panics are logged, never propagated to the publisher.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	handlers := b.handlersFor(event.EventName())
	if len(handlers) == 0 {
		return
	}

	go func() {
		for _, h := range handlers {
			b.safeHandle(ctx, h, event)
		}
	}()
}

// PublishSync dispatches the event and waits for all handlers. The first
// handler error is returned; remaining handlers still run.
func (b *InMemoryBus) PublishSync(ctx context.Context, event Event) error {
	var firstErr error
	for _, h := range b.handlersFor(event.EventName()) {
		if err := b.safeHandle(ctx, h, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *InMemoryBus) handlersFor(eventName string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[eventName]))
	copy(handlers, b.handlers[eventName])
	return handlers
}

func (b *InMemoryBus) safeHandle(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
			if b.log != nil {
				b.log.Error("event handler panic", "event", event.EventName(), "panic", fmt.Sprint(r))
			}
		}
	}()

	if err := h.Handle(ctx, event); err != nil {
		if b.log != nil {
			b.log.Error("event handler failed", "event", event.EventName(), "error", err)
		}
		return err
	}
	return nil
}
