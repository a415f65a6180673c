package metrics

import (
	"github.com/nvrlab/rtsptrace/internal/events"
)

// SubscribeBus binds connection lifecycle metrics to bus events. The
// returned function removes the subscriptions.
func SubscribeBus(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.ConnectionUpEvent) {
			ConnectionStarted(e.Camera)
		}),
		bus.Subscribe(func(e events.ConnectionDownEvent) {
			ConnectionEnded(e.Camera, e.Outcome())
		}),
		bus.Subscribe(func(e events.StreamSeenEvent) {
			StreamSeen(e.Camera, e.Media)
		}),
	}

	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
