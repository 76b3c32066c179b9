package megalodon

import (
	"log/slog"
	"sync"
)

// ============================================================================
// Event Bus
// ============================================================================

// Handler receives events of the kind it was registered for.
type Handler func(Event)

// EventBus fans canonical and lifecycle events out to subscribers. Handlers
// run synchronously, in registration order, on the emitting goroutine. There
// is no buffering: a handler registered after an emission never sees it.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventKind][]Handler
	logger   *slog.Logger
}

// NewEventBus creates an empty bus. A nil logger means slog.Default().
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		handlers: make(map[EventKind][]Handler),
		logger:   logger,
	}
}

// On registers h for kind.
func (b *EventBus) On(kind EventKind, h Handler) {
	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], h)
	b.mu.Unlock()
}

// Emit delivers ev to every handler registered for ev.Kind().
func (b *EventBus) Emit(ev Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.Kind()]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.call(h, ev)
	}
}

// Clear drops every handler.
func (b *EventBus) Clear() {
	b.mu.Lock()
	b.handlers = make(map[EventKind][]Handler)
	b.mu.Unlock()
}

// Len returns the number of handlers registered for kind.
func (b *EventBus) Len(kind EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

func (b *EventBus) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "kind", ev.Kind(), "panic", r)
		}
	}()
	h(ev)
}
