// Package monitor supervises one capture worker per configured camera.
//
// Each worker runs a reconnect loop against its producer: register the
// connection, dial, relay frames and sender reports to the recorder, and
// record how the connection ended. A worker stops when its camera is
// removed from configuration, the process shuts down, or the recorder
// rejects one of its events; a storage failure stops the whole monitor.
package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvrlab/rtsptrace/internal/config"
	"github.com/nvrlab/rtsptrace/internal/events"
	"github.com/nvrlab/rtsptrace/internal/logging"
	"github.com/nvrlab/rtsptrace/internal/recorder"
	"github.com/nvrlab/rtsptrace/internal/rtptime"
	"github.com/nvrlab/rtsptrace/internal/source"
)

// Loss reasons recorded for non-error connection ends.
const (
	reasonEOF      = "EOF"
	reasonShutdown = "shutdown"
)

// Monitor runs capture workers and reconciles them against the configured
// camera set.
type Monitor struct {
	rec    *recorder.Recorder
	src    source.Source
	bus    *events.Bus
	logger *slog.Logger

	reconnectDelay time.Duration

	mu      sync.Mutex
	group   *errgroup.Group
	ctx     context.Context
	workers map[string]*worker
}

// worker is one running camera loop.
type worker struct {
	cam    config.Camera
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor recording sessions from src into rec and publishing
// lifecycle events on bus.
func New(rec *recorder.Recorder, src source.Source, bus *events.Bus) *Monitor {
	return &Monitor{
		rec:            rec,
		src:            src,
		bus:            bus,
		logger:         logging.GetLogger("monitor"),
		reconnectDelay: time.Second,
		workers:        make(map[string]*worker),
	}
}

// Run starts a worker per camera and blocks until ctx is canceled and all
// workers have drained, or a storage failure ends the run early. The camera
// set may be swapped while running via Reload.
func (m *Monitor) Run(ctx context.Context, cams config.Cameras) error {
	g, gctx := errgroup.WithContext(ctx)

	m.mu.Lock()
	m.group = g
	m.ctx = gctx
	m.mu.Unlock()

	m.logger.Info("Monitor starting", "cameras", len(cams.Cameras))
	m.Reload(cams)

	// Holds the group open while the camera set is empty or churning.
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	return g.Wait()
}

// Reload reconciles the workers against cams: new cameras get workers,
// removed cameras are stopped, changed cameras are restarted. Safe to call
// from the config watcher while workers run; a no-op before Run or after
// shutdown began.
func (m *Monitor) Reload(cams config.Cameras) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.group == nil || m.ctx.Err() != nil {
		return
	}

	seen := make(map[string]bool, len(cams.Cameras))
	var started, stopped int
	for _, cam := range cams.Cameras {
		seen[cam.Name] = true

		prev := m.workers[cam.Name]
		if prev != nil {
			if prev.cam == cam {
				continue
			}
			prev.cancel()
			stopped++
		}
		m.startWorkerLocked(cam, prev)
		started++
	}

	for name, w := range m.workers {
		if !seen[name] {
			w.cancel()
			delete(m.workers, name)
			stopped++
		}
	}

	if started > 0 || stopped > 0 {
		m.logger.Info("Camera set applied",
			"cameras", len(cams.Cameras), "started", started, "stopped", stopped)
	}
	m.bus.Publish(events.ConfigReloadedEvent{
		Cameras:   len(cams.Cameras),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// startWorkerLocked registers and launches a worker. A replacement worker
// waits for its predecessor so two loops never feed the same camera at
// once. Caller holds m.mu.
func (m *Monitor) startWorkerLocked(cam config.Camera, prev *worker) {
	wctx, cancel := context.WithCancel(m.ctx)
	w := &worker{cam: cam, cancel: cancel, done: make(chan struct{})}
	m.workers[cam.Name] = w

	m.group.Go(func() error {
		defer close(w.done)
		defer func() {
			m.mu.Lock()
			if m.workers[cam.Name] == w {
				delete(m.workers, cam.Name)
			}
			m.mu.Unlock()
		}()

		if prev != nil {
			select {
			case <-prev.done:
			case <-wctx.Done():
				return nil
			}
		}
		return m.runWorker(wctx, cam)
	})
}

// runWorker drives the reconnect loop for one camera. Returning an error
// cancels every other worker, so only storage failures propagate; contract
// violations stop this worker alone.
func (m *Monitor) runWorker(ctx context.Context, cam config.Camera) error {
	logger := m.logger.With("camera", cam.Name)
	logger.Info("Camera worker starting", "url", cam.URL)
	defer logger.Info("Camera worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		retry, err := m.streamOnce(ctx, cam, logger)
		if err != nil {
			if recorder.HasCode(err, recorder.ErrStorageFailure) {
				logger.Error("Storage write failed, stopping capture", "error", err)
				return err
			}
			logger.Error("Recorder rejected event, stopping camera worker", "error", err)
			return nil
		}
		if !retry {
			return nil
		}

		select {
		case <-ctx.Done():
		case <-time.After(m.reconnectDelay):
		}
	}
}

// streamOnce runs one connection attempt from registration to loss record.
// The connection row is created before dialing, so failed attempts leave a
// row whose loss reason is the dial error. retry is false when the worker
// should stop; a non-nil error is a recorder refusal.
func (m *Monitor) streamOnce(ctx context.Context, cam config.Camera, logger *slog.Logger) (retry bool, err error) {
	start := time.Now()
	h, err := m.rec.RecordConnectionStart(cam.URL, start)
	if err != nil {
		return false, err
	}
	connID, _ := m.rec.ConnectionID(h)
	logger = logger.With("conn_id", connID)
	logger.Info("Connection starting", "url", cam.URL)
	m.bus.Publish(events.ConnectionUpEvent{
		Camera:    cam.Name,
		URL:       cam.URL,
		ConnID:    connID,
		Timestamp: time.Now().Format(time.RFC3339),
	})

	// Every attempt registers a fresh handle, so drop it when the
	// attempt is over.
	defer m.rec.ReleaseConnection(h)

	reason, retry, werr := m.runSession(ctx, cam, h, connID, start, logger)

	if lossErr := m.rec.RecordConnectionLoss(h, time.Now(), reason); lossErr != nil {
		m.rec.CloseConnection(h)
		if werr == nil {
			werr = lossErr
		}
		retry = false
	}
	logger.Info("Connection ended", "reason", reason)

	m.bus.Publish(events.ConnectionDownEvent{
		Camera:    cam.Name,
		URL:       cam.URL,
		ConnID:    connID,
		Reason:    reason,
		Clean:     reason == reasonEOF || reason == reasonShutdown,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	return retry, werr
}

// runSession opens the producer session, registers its streams and relays
// events until it ends. It returns the loss reason to record, whether the
// worker should reconnect, and any recorder error.
func (m *Monitor) runSession(ctx context.Context, cam config.Camera, h recorder.Handle, connID int64, start time.Time, logger *slog.Logger) (reason string, retry bool, err error) {
	sess, err := m.src.Open(ctx, cam.URL, cam.FPS)
	if err != nil {
		if ctx.Err() != nil {
			return reasonShutdown, false, nil
		}
		logger.Warn("Connection failed", "error", err)
		return err.Error(), true, nil
	}

	streams := sess.Streams()
	relay := &sessionRelay{
		rec:    m.rec,
		handle: h,
		start:  start,
		clock:  make(map[int64]int64, len(streams)),
	}
	for _, st := range streams {
		if err := m.rec.RecordStream(h, st.ID, st.ClockRate, st.Media, st.Encoding); err != nil {
			sess.Close()
			return err.Error(), false, err
		}
		relay.clock[st.ID] = st.ClockRate
		logger.Info("Stream announced",
			"stream_id", st.ID, "media", st.Media, "encoding", st.Encoding, "clock_rate", st.ClockRate)
		m.bus.Publish(events.StreamSeenEvent{
			Camera:    cam.Name,
			ConnID:    connID,
			StreamID:  st.ID,
			Media:     st.Media,
			Encoding:  st.Encoding,
			ClockRate: st.ClockRate,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}

	if err := sess.Play(relay); err != nil {
		sess.Close()
		return err.Error(), true, nil
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		sess.Close()
		<-done
		return reasonShutdown, false, nil
	case err := <-done:
		return endReason(err)
	}
}

// endReason classifies a session end. nil or EOF is the producer cleanly
// ending the stream; recorder errors surface so the worker can decide
// whether they poison only this connection or the whole run.
func endReason(err error) (reason string, retry bool, werr error) {
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return reasonEOF, true, nil
	default:
		var recErr *recorder.Error
		if errors.As(err, &recErr) {
			return err.Error(), false, err
		}
		return err.Error(), true, nil
	}
}

// sessionRelay forwards session events to the recorder, converting local
// receive instants into ticks of each stream's clock since the connection
// row's start timestamp.
type sessionRelay struct {
	rec    *recorder.Recorder
	handle recorder.Handle
	start  time.Time
	clock  map[int64]int64
}

func (r *sessionRelay) HandleFrame(f source.Frame) error {
	rate := r.clock[f.StreamID]
	return r.rec.RecordFrame(r.handle, f.StreamID, recorder.Frame{
		RTPTimestamp:  f.RTPTimestamp,
		ReceivedStart: rtptime.Rescale(f.ReceivedStart.Sub(r.start), rate),
		ReceivedEnd:   rtptime.Rescale(f.ReceivedEnd.Sub(r.start), rate),
		Pos:           f.Pos,
		Loss:          f.Loss,
		Duration:      f.Duration,
		IDR:           f.IDR,
	})
}

func (r *sessionRelay) HandleSenderReport(sr source.SenderReport) error {
	rate := r.clock[sr.StreamID]
	ts := sr.RTPTimestamp
	return r.rec.RecordSenderReport(r.handle, sr.StreamID, recorder.SenderReport{
		RTPTimestamp: &ts,
		Received:     rtptime.Rescale(sr.Received.Sub(r.start), rate),
		NTPTimestamp: sr.NTPTimestamp,
	})
}
