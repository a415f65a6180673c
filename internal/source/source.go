// Package source acquires media telemetry from live producers and hands it
// to a consumer as a normalized event stream.
//
// A Source dials one producer and yields a Session. The session announces
// its substreams up front, then delivers frames and sender reports through
// a Handler until the producer goes away. Everything that depends on the
// producer protocol (loss counting, frame aggregation, random-access
// detection) happens here, so consumers only deal with the normalized
// event types.
package source

import (
	"context"
	"time"
)

// Stream describes one substream announced by a session.
type Stream struct {
	ID        int64
	ClockRate int64
	Media     string // "video", "audio" or "application"
	Encoding  string
}

// Frame is one media unit received from a producer. The timestamp is the
// raw 32-bit RTP value; receive times are local wall-clock instants.
type Frame struct {
	StreamID      int64
	RTPTimestamp  *uint32
	ReceivedStart time.Time
	ReceivedEnd   time.Time
	Pos           int64
	Loss          int64
	Duration      *int64
	IDR           bool
}

// SenderReport is one RTCP sender report received from a producer.
type SenderReport struct {
	StreamID     int64
	RTPTimestamp uint32
	Received     time.Time
	NTPTimestamp uint64
}

// Handler consumes session events. Calls are serialized per session and
// arrive in receive order; returning an error stops delivery and tears
// the session down.
type Handler interface {
	HandleFrame(Frame) error
	HandleSenderReport(SenderReport) error
}

// Session is one live connection to a producer.
type Session interface {
	// Streams lists the substreams announced during setup.
	Streams() []Stream

	// Play starts event delivery to h.
	Play(h Handler) error

	// Wait blocks until the session ends and returns the reason.
	Wait() error

	// Close tears the session down.
	Close()
}

// Source opens sessions against producers of one kind. fps forces the
// video frame rate used for duration accounting; zero trusts whatever the
// producer announces.
type Source interface {
	Open(ctx context.Context, url string, fps int64) (Session, error)
}
