package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nvrlab/rtsptrace/internal/events"
)

// eventually polls cond until it holds or the timeout expires. Bus
// delivery is asynchronous, so counter updates lag Publish slightly.
func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSubscribeBus(t *testing.T) {
	bus := events.New()
	unsub := SubscribeBus(bus)
	defer unsub()

	camera := "bus-test-cam"
	connectionsStarted.DeleteLabelValues(camera)
	connectionsEnded.DeleteLabelValues(camera, "lost")
	streamsSeen.DeleteLabelValues(camera, "video")

	bus.Publish(events.ConnectionUpEvent{Camera: camera, ConnID: 1})
	bus.Publish(events.StreamSeenEvent{Camera: camera, ConnID: 1, StreamID: 0, Media: "video"})
	bus.Publish(events.ConnectionDownEvent{Camera: camera, ConnID: 1, Reason: "read timeout"})

	eventually(t, 2*time.Second, func() bool {
		return testutil.ToFloat64(connectionsStarted.WithLabelValues(camera)) == 1 &&
			testutil.ToFloat64(streamsSeen.WithLabelValues(camera, "video")) == 1 &&
			testutil.ToFloat64(connectionsEnded.WithLabelValues(camera, "lost")) == 1
	})
}

func TestSubscribeBusCleanOutcome(t *testing.T) {
	bus := events.New()
	unsub := SubscribeBus(bus)
	defer unsub()

	camera := "bus-clean-cam"
	connectionsEnded.DeleteLabelValues(camera, "clean")

	bus.Publish(events.ConnectionDownEvent{Camera: camera, ConnID: 2, Reason: "shutdown", Clean: true})

	eventually(t, 2*time.Second, func() bool {
		return testutil.ToFloat64(connectionsEnded.WithLabelValues(camera, "clean")) == 1
	})
}

func TestSubscribeBusUnsubscribe(t *testing.T) {
	bus := events.New()
	unsub := SubscribeBus(bus)

	camera := "bus-unsub-cam"
	connectionsStarted.DeleteLabelValues(camera)

	bus.Publish(events.ConnectionUpEvent{Camera: camera, ConnID: 3})
	eventually(t, 2*time.Second, func() bool {
		return testutil.ToFloat64(connectionsStarted.WithLabelValues(camera)) == 1
	})

	unsub()

	bus.Publish(events.ConnectionUpEvent{Camera: camera, ConnID: 4})
	time.Sleep(50 * time.Millisecond)
	if got := testutil.ToFloat64(connectionsStarted.WithLabelValues(camera)); got != 1 {
		t.Errorf("connectionsStarted after unsubscribe = %v, want 1", got)
	}
}
