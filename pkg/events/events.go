package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/swms/pkg/log"
	"github.com/cuemby/swms/pkg/metrics"
	"github.com/rs/zerolog"
)

// EventType represents the type of event
type EventType string

const (
	// EventNotification carries a types.Notification pushed by the backend
	EventNotification EventType = "notification"
	// EventStateChanged carries the new types.ConnectionState
	EventStateChanged EventType = "connection.state"
	// EventSessionChanged carries a session.Change
	EventSessionChanged EventType = "session.changed"
)

// Event represents a locally dispatched event
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// Handler receives events. It runs on the publisher's goroutine.
type Handler func(event *Event)

// Subscription identifies one registered handler. It is the only way to
// remove that handler again.
type Subscription struct {
	Type EventType
	id   uint64
}

type entry struct {
	id      uint64
	handler Handler
}

// Broker maps event types to ordered handler lists and dispatches
// synchronously
type Broker struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[EventType][]entry
	logger   zerolog.Logger
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		handlers: make(map[EventType][]entry),
		logger:   log.WithComponent("events"),
	}
}

// Subscribe registers a handler for an event type. The same function may be
// registered more than once; each registration gets its own Subscription.
func (b *Broker) Subscribe(eventType EventType, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], entry{id: b.nextID, handler: handler})
	return Subscription{Type: eventType, id: b.nextID}
}

// Unsubscribe removes exactly the handler registered under sub. It reports
// whether anything was removed.
func (b *Broker) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[sub.Type]
	for i, e := range list {
		if e.id != sub.id {
			continue
		}
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, sub.Type)
		} else {
			b.handlers[sub.Type] = next
		}
		return true
	}
	return false
}

// Publish dispatches the event to every handler of its type in subscription
// order. A panicking handler is recovered and the remaining handlers still run.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	list := b.handlers[event.Type]
	b.mu.RUnlock()

	// list is never mutated in place, so it is safe to iterate unlocked and
	// handlers may subscribe or unsubscribe while being called
	for _, e := range list {
		b.dispatch(e, event)
	}
}

func (b *Broker) dispatch(e entry, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanicsTotal.WithLabelValues(string(event.Type)).Inc()
			b.logger.Error().
				Str("event", string(event.Type)).
				Str("panic", fmt.Sprint(r)).
				Msg("Event handler panicked")
		}
	}()
	e.handler(event)
}

// Clear removes every subscription
func (b *Broker) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]entry)
}

// SubscriberCount returns the number of handlers registered for an event type
func (b *Broker) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
