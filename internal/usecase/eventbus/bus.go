// Package eventbus delivers agent and dispatcher lifecycle events to
// in-process subscribers.
package eventbus

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"xyz-agents/internal/domain"
)

// anyEvent is the subscription key for handlers that receive every event.
const anyEvent domain.EventType = ""

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is a goroutine-safe pub/sub bus. Each delivery runs on its own
// goroutine, so Publish never blocks on a slow handler.
type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.EventType][]subscription
	nextID atomic.Uint64
	logger *slog.Logger

	inflight  sync.WaitGroup
	closed    atomic.Bool
	published atomic.Uint64
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[domain.EventType][]subscription),
		logger: logger,
	}
}

// Publish delivers event to subscribers of its type and to catch-all
// subscribers. Events published after Close are dropped.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs[event.Type])+len(b.subs[anyEvent]))
	targets = append(targets, b.subs[event.Type]...)
	if event.Type != anyEvent {
		targets = append(targets, b.subs[anyEvent]...)
	}
	b.mu.RUnlock()

	b.published.Add(1)
	for _, sub := range targets {
		b.deliver(ctx, event, sub)
	}
}

func (b *Bus) deliver(ctx context.Context, event domain.Event, sub subscription) {
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"agent_id", event.AgentID,
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler for every event and returns its
// unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(anyEvent, handler)
}

func (b *Bus) add(key domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs[key] = append(b.subs[key], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs[key] = slices.DeleteFunc(b.subs[key], func(s subscription) bool {
				return s.id == id
			})
		})
	}
}

// Published returns the number of events accepted by Publish.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Close stops accepting events and waits for in-flight handlers.
// It is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.inflight.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
