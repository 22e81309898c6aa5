// Package events is a small synchronous publish/subscribe bus for
// authentication lifecycle notifications.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Type identifies an event.
type Type string

const (
	// Login is emitted after a callback completed and tokens were stored.
	Login Type = "login"
	// Logout is emitted after credentials were cleared by a logout.
	Logout Type = "logout"
	// TokenRefreshed is emitted after a refresh stored a new token set.
	TokenRefreshed Type = "token_refreshed"
	// Error is emitted when a refresh or another background operation fails.
	Error Type = "error"
	// StorageChanged is emitted when another process changed stored credentials.
	StorageChanged Type = "storage_changed"
)

// Event is delivered to handlers. Data depends on Type: the token set for
// Login and TokenRefreshed, the error for Error, the changed key for
// StorageChanged, and nil for Logout.
type Event struct {
	Type Type
	Data any
	Time time.Time
}

// Err returns the error carried by an Error event.
func (e Event) Err() error {
	err, _ := e.Data.(error)
	return err
}

// Handler processes an event. A returned error is logged and otherwise ignored.
type Handler func(Event) error

// Subscription identifies a registered handler.
type Subscription struct {
	bus *Bus
	typ Type
	id  uint64
}

// Unsubscribe removes the handler. Calling it more than once is harmless.
func (s Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.Off(s)
	}
}

type entry struct {
	id      uint64
	handler Handler
}

// Bus dispatches events to subscribed handlers. Emit is synchronous and
// iterates over a snapshot of the subscribers taken when it starts, so
// handlers may subscribe or unsubscribe while being dispatched.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]entry
	nextID   uint64
	logger   *slog.Logger
}

// NewBus creates a bus that reports handler failures to logger.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Type][]entry),
		logger:   logger,
	}
}

// On registers handler for events of type t.
func (b *Bus) On(t Type, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[t] = append(b.handlers[t], entry{id: b.nextID, handler: handler})
	return Subscription{bus: b, typ: t, id: b.nextID}
}

// Off removes the handler registered under sub.
func (b *Bus) Off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[sub.typ]
	for i, e := range list {
		if e.id == sub.id {
			next := make([]entry, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			b.handlers[sub.typ] = next
			return
		}
	}
}

// Emit delivers ev to every handler subscribed to ev.Type at the time of the
// call. Handler errors and panics are logged; they never reach the caller
// and never stop delivery to the remaining handlers.
func (b *Bus) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	snapshot := b.handlers[ev.Type]
	b.mu.RUnlock()

	// Off replaces the slice instead of mutating it, so snapshot is stable.
	for _, e := range snapshot {
		b.dispatch(ev, e.handler)
	}
}

func (b *Bus) dispatch(ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked", "event", ev.Type, "panic", fmt.Sprint(r))
		}
	}()
	if err := h(ev); err != nil {
		b.logger.Warn("Event handler failed", "event", ev.Type, "error", err)
	}
}

// Len returns the number of handlers subscribed to t.
func (b *Bus) Len(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}

// Clear removes every handler.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[Type][]entry)
}
