// Package recorder is the single durable write path for capture telemetry.
//
// Connection workers register connections and streams, then feed frames and
// sender reports in delivery order. The recorder resolves foreign keys
// through an in-memory registry of connection handles, advances the
// per-stream sequencing state (dense frame numbers, cumulative durations,
// extended RTP timestamps) and appends exactly one storage row per accepted
// event, durably, before returning.
package recorder

import (
	"database/sql"
	"time"

	"github.com/nvrlab/rtsptrace/internal/metrics"
	"github.com/nvrlab/rtsptrace/internal/rtptime"
	"github.com/nvrlab/rtsptrace/internal/storage"
)

// Recognized media kinds.
const (
	MediaVideo       = "video"
	MediaAudio       = "audio"
	MediaApplication = "application"
)

// Frame describes one received media unit, in the units the storage layer
// keeps: receive times are ticks of the stream's clock since the connection
// was established, duration is in ticks, loss is whatever the producer
// believes was dropped immediately before this unit.
type Frame struct {
	RTPTimestamp  *uint32 // raw wrapping timestamp, nil when the stream has none
	ReceivedStart int64
	ReceivedEnd   int64
	Pos           int64
	Loss          int64
	Duration      *int64 // nil when unknown
	IDR           bool
}

// SenderReport describes one observed RTCP sender report. NTPTimestamp is
// the raw 64-bit NTP value (seconds since 1900 in 32.32 fixed point); it is
// normalized to the Unix epoch at write time.
type SenderReport struct {
	RTPTimestamp *uint32
	Received     int64
	NTPTimestamp uint64
}

// Recorder appends capture telemetry to a store. Methods on different
// handles may be called concurrently; calls for one handle must come from a
// single worker in delivery order.
type Recorder struct {
	store *storage.Store
	reg   *registry
}

// New creates a Recorder writing to store.
func New(store *storage.Store) *Recorder {
	return &Recorder{store: store, reg: newRegistry()}
}

// RecordConnectionStart persists a new connection row and registers a live
// handle for it. Connection ids are monotonic and never reused within a run.
func (r *Recorder) RecordConnectionStart(url string, start time.Time) (Handle, error) {
	t0 := time.Now()
	connID, err := r.store.InsertConnection(url, start.UnixMicro())
	if err != nil {
		return 0, storageError(err, "record connection start for %s", url)
	}
	metrics.ObserveWrite("conn", time.Since(t0))

	return r.reg.open(connID), nil
}

// ConnectionID returns the persisted id behind a handle, for logging.
func (r *Recorder) ConnectionID(h Handle) (int64, bool) {
	cs, ok := r.reg.lookup(h)
	if !ok {
		return 0, false
	}
	return cs.connID, true
}

// RecordConnectionLoss sets the connection's loss timestamp and reason and
// closes the handle. A connection loses at most once: a second call fails
// with ALREADY_RECORDED and leaves the first record untouched.
func (r *Recorder) RecordConnectionLoss(h Handle, lossTime time.Time, reason string) error {
	cs, ok := r.reg.lookup(h)
	if !ok {
		return newError(ErrConnectionClosed, "unknown connection handle %d", h)
	}
	if cs.lossRecorded {
		return newError(ErrAlreadyRecorded, "loss already recorded for conn %d", cs.connID)
	}
	if cs.closed {
		return newError(ErrConnectionClosed, "conn %d already closed", cs.connID)
	}

	t0 := time.Now()
	if err := r.store.MarkConnectionLost(cs.connID, lossTime.UnixMicro(), reason); err != nil {
		return storageError(err, "record connection loss for conn %d", cs.connID)
	}
	metrics.ObserveWrite("conn", time.Since(t0))

	cs.closed = true
	cs.lossRecorded = true
	return nil
}

// CloseConnection marks a clean end-of-stream. The connection keeps empty
// loss fields; further events on the handle fail with CONNECTION_CLOSED.
func (r *Recorder) CloseConnection(h Handle) {
	cs, ok := r.reg.lookup(h)
	if !ok {
		return
	}
	cs.closed = true
}

// ReleaseConnection forgets a handle once its worker is done with it,
// freeing the registry entry and its sequencing state. Persisted rows
// are untouched; any later call on the handle fails with
// CONNECTION_CLOSED like any unknown handle.
func (r *Recorder) ReleaseConnection(h Handle) {
	r.reg.release(h)
}

// RecordStream persists a stream row and initializes its sequencing state.
func (r *Recorder) RecordStream(h Handle, streamID, clockRate int64, media, encodingName string) error {
	cs, err := r.openConn(h)
	if err != nil {
		return err
	}

	if media != MediaVideo && media != MediaAudio && media != MediaApplication {
		return newError(ErrInvalidMedia, "media %q is not video, audio or application", media)
	}
	if clockRate <= 0 {
		return newError(ErrInvalidInput, "clock rate %d is not positive", clockRate)
	}
	if _, exists := cs.streams[streamID]; exists {
		return newError(ErrDuplicateStream, "stream %d already recorded for conn %d", streamID, cs.connID)
	}

	t0 := time.Now()
	err = r.store.InsertStream(storage.StreamRow{
		ConnID:       cs.connID,
		StreamID:     streamID,
		ClockRate:    clockRate,
		Media:        media,
		EncodingName: encodingName,
	})
	if err != nil {
		return storageError(err, "record stream %d for conn %d", streamID, cs.connID)
	}
	metrics.ObserveWrite("stream", time.Since(t0))

	cs.streams[streamID] = newStreamState(clockRate, media)
	return nil
}

// RecordFrame extends the frame's RTP timestamp, assigns its dense sequence
// number and cumulative duration, and appends the frame row. A rejected
// frame appends nothing and does not advance sequencing state.
func (r *Recorder) RecordFrame(h Handle, streamID int64, f Frame) error {
	cs, err := r.openConn(h)
	if err != nil {
		return err
	}
	ss, ok := cs.streams[streamID]
	if !ok {
		return newError(ErrUnknownStream, "stream %d was never recorded for conn %d", streamID, cs.connID)
	}

	if f.ReceivedEnd < f.ReceivedStart {
		return newError(ErrInvalidInput, "receive end %d before receive start %d", f.ReceivedEnd, f.ReceivedStart)
	}
	if f.Duration != nil && *f.Duration < 0 {
		return newError(ErrInvalidInput, "negative duration %d", *f.Duration)
	}

	seq, cum := ss.observeFrame(f.Duration)

	row := storage.FrameRow{
		ConnID:        cs.connID,
		StreamID:      streamID,
		FrameSeq:      seq,
		ReceivedStart: f.ReceivedStart,
		ReceivedEnd:   f.ReceivedEnd,
		Pos:           f.Pos,
		Loss:          f.Loss,
		IDR:           f.IDR,
	}
	if f.RTPTimestamp != nil {
		row.RTPTimestamp = sql.NullInt64{Int64: ss.extender.Extend(*f.RTPTimestamp), Valid: true}
	}
	if f.Duration != nil {
		row.Duration = sql.NullInt64{Int64: *f.Duration, Valid: true}
	}
	if cum != nil {
		row.CumDuration = sql.NullInt64{Int64: *cum, Valid: true}
	}

	t0 := time.Now()
	if err := r.store.InsertFrame(row); err != nil {
		return storageError(err, "record frame %d for stream (%d, %d)", seq, cs.connID, streamID)
	}
	metrics.ObserveWrite("frame", time.Since(t0))
	metrics.FrameRecorded(ss.media, f.Loss)

	return nil
}

// RecordSenderReport assigns the report's independent sequence number and
// appends the sender_report row.
func (r *Recorder) RecordSenderReport(h Handle, streamID int64, sr SenderReport) error {
	cs, err := r.openConn(h)
	if err != nil {
		return err
	}
	ss, ok := cs.streams[streamID]
	if !ok {
		return newError(ErrUnknownStream, "stream %d was never recorded for conn %d", streamID, cs.connID)
	}

	row := storage.SenderReportRow{
		ConnID:       cs.connID,
		StreamID:     streamID,
		SRSeq:        ss.observeSenderReport(),
		Received:     sr.Received,
		NTPTimestamp: rtptime.NTPToUnix(sr.NTPTimestamp),
	}
	if sr.RTPTimestamp != nil {
		row.RTPTimestamp = sql.NullInt64{Int64: ss.extender.Extend(*sr.RTPTimestamp), Valid: true}
	}

	t0 := time.Now()
	if err := r.store.InsertSenderReport(row); err != nil {
		return storageError(err, "record sender report %d for stream (%d, %d)", row.SRSeq, cs.connID, streamID)
	}
	metrics.ObserveWrite("sender_report", time.Since(t0))
	metrics.SenderReportRecorded()

	return nil
}

func (r *Recorder) openConn(h Handle) (*connState, error) {
	cs, ok := r.reg.lookup(h)
	if !ok {
		return nil, newError(ErrConnectionClosed, "unknown connection handle %d", h)
	}
	if cs.closed {
		return nil, newError(ErrConnectionClosed, "conn %d is closed", cs.connID)
	}
	return cs, nil
}
