package events

// Event type constants for kelindar/event.
const (
	TypeConnectionUp uint32 = iota + 1
	TypeConnectionDown
	TypeStreamSeen
	TypeConfigReloaded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// ConnectionUpEvent is published when a producer connection has been
// established and registered.
type ConnectionUpEvent struct {
	Camera    string `json:"camera"`
	URL       string `json:"url"`
	ConnID    int64  `json:"conn_id"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for ConnectionUpEvent.
func (e ConnectionUpEvent) Type() uint32 { return TypeConnectionUp }

// ConnectionDownEvent is published when a producer connection ends, either
// because it was lost or because monitoring shut down cleanly.
type ConnectionDownEvent struct {
	Camera    string `json:"camera"`
	URL       string `json:"url"`
	ConnID    int64  `json:"conn_id"`
	Reason    string `json:"reason"`
	Clean     bool   `json:"clean"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for ConnectionDownEvent.
func (e ConnectionDownEvent) Type() uint32 { return TypeConnectionDown }

// Outcome classifies the connection end for metric labels.
func (e ConnectionDownEvent) Outcome() string {
	if e.Clean {
		return "clean"
	}
	return "lost"
}

// StreamSeenEvent is published once per substream when a connection is set
// up.
type StreamSeenEvent struct {
	Camera    string `json:"camera"`
	ConnID    int64  `json:"conn_id"`
	StreamID  int64  `json:"stream_id"`
	Media     string `json:"media"`
	Encoding  string `json:"encoding"`
	ClockRate int64  `json:"clock_rate"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for StreamSeenEvent.
func (e StreamSeenEvent) Type() uint32 { return TypeStreamSeen }

// ConfigReloadedEvent is published when the camera set changes on disk and
// monitoring has been rewired.
type ConfigReloadedEvent struct {
	Cameras   int    `json:"cameras"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for ConfigReloadedEvent.
func (e ConfigReloadedEvent) Type() uint32 { return TypeConfigReloaded }
