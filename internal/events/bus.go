package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(ConnectionUpEvent{...})
func (b *Bus) Publish(ev Event) {
	// Use type switch to call the generic Publish with the correct type
	switch e := ev.(type) {
	case ConnectionUpEvent:
		event.Publish(b.dispatcher, e)
	case ConnectionDownEvent:
		event.Publish(b.dispatcher, e)
	case StreamSeenEvent:
		event.Publish(b.dispatcher, e)
	case ConfigReloadedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives (type inference)
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e ConnectionUpEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	// kelindar/event's Subscribe is generic, so dispatch on the concrete
	// handler signature
	switch h := handler.(type) {
	case func(ConnectionUpEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConnectionDownEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StreamSeenEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConfigReloadedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}
