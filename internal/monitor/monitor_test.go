package monitor

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nvrlab/rtsptrace/internal/config"
	"github.com/nvrlab/rtsptrace/internal/events"
	"github.com/nvrlab/rtsptrace/internal/recorder"
	"github.com/nvrlab/rtsptrace/internal/rtptime"
	"github.com/nvrlab/rtsptrace/internal/source"
	"github.com/nvrlab/rtsptrace/internal/storage"
)

// fakeSession scripts one producer session. The script runs on Play and
// delivers events through the handler; a non-nil script error mimics the
// teardown a real session performs when the handler rejects an event.
type fakeSession struct {
	streams []source.Stream
	script  func(h source.Handler) error
	end     error // returned by Wait after the script finishes
	hang    bool  // block after the script until Close

	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	err       error
}

func newFakeSession(s *fakeSession) *fakeSession {
	s.done = make(chan struct{})
	s.closed = make(chan struct{})
	return s
}

func (s *fakeSession) Streams() []source.Stream { return s.streams }

func (s *fakeSession) Play(h source.Handler) error {
	go func() {
		defer close(s.done)
		if s.script != nil {
			if err := s.script(h); err != nil {
				s.err = err
				return
			}
		}
		if s.hang {
			<-s.closed
		}
	}()
	return nil
}

func (s *fakeSession) Wait() error {
	<-s.done
	if s.err != nil {
		return s.err
	}
	return s.end
}

func (s *fakeSession) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

type openCall struct {
	url string
	fps int64
}

type fakeOpen struct {
	sess *fakeSession
	err  error
}

// fakeSource hands out queued sessions per URL. Once a URL's queue is
// drained, Open blocks until the context is canceled, parking the worker.
type fakeSource struct {
	mu    sync.Mutex
	queue map[string][]fakeOpen
	calls []openCall
}

func newFakeSource() *fakeSource {
	return &fakeSource{queue: make(map[string][]fakeOpen)}
}

func (f *fakeSource) add(url string, sess *fakeSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue[url] = append(f.queue[url], fakeOpen{sess: sess})
}

func (f *fakeSource) addErr(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue[url] = append(f.queue[url], fakeOpen{err: err})
}

func (f *fakeSource) Open(ctx context.Context, url string, fps int64) (source.Session, error) {
	f.mu.Lock()
	f.calls = append(f.calls, openCall{url: url, fps: fps})
	var next fakeOpen
	var ok bool
	if q := f.queue[url]; len(q) > 0 {
		next, ok = q[0], true
		f.queue[url] = q[1:]
	}
	f.mu.Unlock()

	if !ok {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if next.err != nil {
		return nil, next.err
	}
	return next.sess, nil
}

func (f *fakeSource) opens() []openCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]openCall(nil), f.calls...)
}

func newTestMonitor(t *testing.T, src source.Source) (*Monitor, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "capture.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	m := New(recorder.New(store), src, events.New())
	m.reconnectDelay = time.Millisecond
	return m, store
}

// startMonitor runs m.Run in the background and returns an idempotent stop
// function that cancels it and fails the test on an unexpected error.
func startMonitor(t *testing.T, m *Monitor, cams config.Cameras) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, cams) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Errorf("Run returned error: %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("monitor did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func connCount(store *storage.Store) int {
	sums, err := store.ConnectionSummaries()
	if err != nil {
		return 0
	}
	return len(sums)
}

func TestMonitorRecordsSession(t *testing.T) {
	dur := int64(3000)
	adur := int64(160)
	sess := newFakeSession(&fakeSession{
		streams: []source.Stream{
			{ID: 0, ClockRate: 90000, Media: "video", Encoding: "H264"},
			{ID: 1, ClockRate: 8000, Media: "audio", Encoding: "PCMU"},
		},
		script: func(h source.Handler) error {
			base := time.Now()
			ts0, ts1, tsAud := uint32(1000), uint32(4000), uint32(8000)

			if err := h.HandleFrame(source.Frame{
				StreamID:      0,
				RTPTimestamp:  &ts0,
				ReceivedStart: base,
				ReceivedEnd:   base.Add(5 * time.Millisecond),
				Pos:           0,
				Duration:      &dur,
				IDR:           true,
			}); err != nil {
				return err
			}
			if err := h.HandleFrame(source.Frame{
				StreamID:      0,
				RTPTimestamp:  &ts1,
				ReceivedStart: base.Add(time.Second),
				ReceivedEnd:   base.Add(time.Second),
				Pos:           1200,
				Loss:          2,
				Duration:      &dur,
			}); err != nil {
				return err
			}
			if err := h.HandleFrame(source.Frame{
				StreamID:      1,
				RTPTimestamp:  &tsAud,
				ReceivedStart: base,
				ReceivedEnd:   base,
				Pos:           2400,
				Duration:      &adur,
			}); err != nil {
				return err
			}
			return h.HandleSenderReport(source.SenderReport{
				StreamID:     0,
				RTPTimestamp: 1000,
				Received:     base.Add(10 * time.Millisecond),
				NTPTimestamp: 0xAABBCCDD11223344,
			})
		},
		end: io.EOF,
	})

	src := newFakeSource()
	src.add("rtsp://cam1/stream", sess)

	m, store := newTestMonitor(t, src)
	stop := startMonitor(t, m, config.Cameras{Cameras: []config.Camera{
		{Name: "cam1", URL: "rtsp://cam1/stream", FPS: 30},
	}})

	// The EOF triggers a reconnect attempt whose connection row appears
	// once the first session is fully recorded.
	waitFor(t, "reconnect attempt", func() bool { return connCount(store) >= 2 })
	stop()

	sums, err := store.ConnectionSummaries()
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(sums))
	}

	first := sums[0]
	if first.URL != "rtsp://cam1/stream" {
		t.Errorf("url = %q", first.URL)
	}
	if first.Streams != 2 || first.Frames != 3 || first.Reports != 1 {
		t.Errorf("counts = %d streams, %d frames, %d reports", first.Streams, first.Frames, first.Reports)
	}
	if !first.Lost.Valid || first.LostReason.String != "EOF" {
		t.Errorf("first connection loss = %+v %q", first.Lost, first.LostReason.String)
	}
	if sums[1].LostReason.String != "shutdown" {
		t.Errorf("second connection loss reason = %q", sums[1].LostReason.String)
	}

	frames, err := store.Frames(first.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 video frames, got %d", len(frames))
	}
	f0, f1 := frames[0], frames[1]
	if f0.FrameSeq != 0 || f1.FrameSeq != 1 {
		t.Errorf("frame seqs = %d, %d", f0.FrameSeq, f1.FrameSeq)
	}
	if f0.RTPTimestamp.Int64 != 1000 || f1.RTPTimestamp.Int64 != 4000 {
		t.Errorf("rtp timestamps = %d, %d", f0.RTPTimestamp.Int64, f1.RTPTimestamp.Int64)
	}
	// One second between receive times is exactly one clock rate of ticks.
	if got := f1.ReceivedStart - f0.ReceivedStart; got != 90000 {
		t.Errorf("receive tick delta = %d, want 90000", got)
	}
	if got := f0.ReceivedEnd - f0.ReceivedStart; got != 450 {
		t.Errorf("first frame receive span = %d ticks, want 450", got)
	}
	if f0.CumDuration.Int64 != 3000 || f1.CumDuration.Int64 != 6000 {
		t.Errorf("cum durations = %d, %d", f0.CumDuration.Int64, f1.CumDuration.Int64)
	}
	if !f0.IDR || f1.IDR {
		t.Errorf("idr flags = %v, %v", f0.IDR, f1.IDR)
	}
	if f0.Loss != 0 || f1.Loss != 2 {
		t.Errorf("loss = %d, %d", f0.Loss, f1.Loss)
	}
	if f0.Pos != 0 || f1.Pos != 1200 {
		t.Errorf("pos = %d, %d", f0.Pos, f1.Pos)
	}

	audio, err := store.Frames(first.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(audio) != 1 || audio[0].Duration.Int64 != 160 || audio[0].CumDuration.Int64 != 160 {
		t.Fatalf("audio frames = %+v", audio)
	}

	reports, err := store.SenderReports(first.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 sender report, got %d", len(reports))
	}
	sr := reports[0]
	if sr.SRSeq != 0 || sr.RTPTimestamp.Int64 != 1000 {
		t.Errorf("sender report seq/rtp = %d/%d", sr.SRSeq, sr.RTPTimestamp.Int64)
	}
	if want := rtptime.NTPToUnix(0xAABBCCDD11223344); sr.NTPTimestamp != want {
		t.Errorf("ntp timestamp = %d, want %d", sr.NTPTimestamp, want)
	}
	if got := sr.Received - f0.ReceivedStart; got != 900 {
		t.Errorf("report receive delta = %d ticks, want 900", got)
	}

	opens := src.opens()
	if len(opens) == 0 || opens[0].fps != 30 {
		t.Fatalf("opens = %+v, want fps override 30", opens)
	}
}

func TestMonitorReconnectsAfterError(t *testing.T) {
	src := newFakeSource()
	streams := []source.Stream{{ID: 0, ClockRate: 90000, Media: "video", Encoding: "H264"}}
	src.add("rtsp://cam/s", newFakeSession(&fakeSession{streams: streams, end: errors.New("connection reset by peer")}))
	src.add("rtsp://cam/s", newFakeSession(&fakeSession{streams: streams, end: errors.New("connection reset by peer")}))

	m, store := newTestMonitor(t, src)
	stop := startMonitor(t, m, config.Cameras{Cameras: []config.Camera{
		{Name: "cam", URL: "rtsp://cam/s"},
	}})

	waitFor(t, "three connection attempts", func() bool { return connCount(store) >= 3 })
	stop()

	sums, err := store.ConnectionSummaries()
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 3 {
		t.Fatalf("expected 3 connections, got %d", len(sums))
	}
	for i := range 2 {
		if sums[i].LostReason.String != "connection reset by peer" {
			t.Errorf("connection %d loss reason = %q", i, sums[i].LostReason.String)
		}
	}
	if sums[2].LostReason.String != "shutdown" {
		t.Errorf("final loss reason = %q", sums[2].LostReason.String)
	}
}

func TestMonitorRecordsDialFailure(t *testing.T) {
	src := newFakeSource()
	src.addErr("rtsp://cam/s", errors.New("connect: connection refused"))

	m, store := newTestMonitor(t, src)
	stop := startMonitor(t, m, config.Cameras{Cameras: []config.Camera{
		{Name: "cam", URL: "rtsp://cam/s"},
	}})

	waitFor(t, "retry after dial failure", func() bool { return connCount(store) >= 2 })
	stop()

	sums, err := store.ConnectionSummaries()
	if err != nil {
		t.Fatal(err)
	}
	if sums[0].LostReason.String != "connect: connection refused" {
		t.Errorf("loss reason = %q", sums[0].LostReason.String)
	}
	if sums[0].Streams != 0 {
		t.Errorf("failed dial recorded %d streams", sums[0].Streams)
	}
}

func TestMonitorShutdownMarksOpenSession(t *testing.T) {
	src := newFakeSource()
	src.add("rtsp://cam/s", newFakeSession(&fakeSession{
		streams: []source.Stream{{ID: 0, ClockRate: 90000, Media: "video", Encoding: "H264"}},
		hang:    true,
	}))

	m, store := newTestMonitor(t, src)
	stop := startMonitor(t, m, config.Cameras{Cameras: []config.Camera{
		{Name: "cam", URL: "rtsp://cam/s"},
	}})

	waitFor(t, "session open", func() bool {
		sums, err := store.ConnectionSummaries()
		return err == nil && len(sums) == 1 && sums[0].Streams == 1
	})
	stop()

	sums, err := store.ConnectionSummaries()
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(sums))
	}
	if sums[0].LostReason.String != "shutdown" {
		t.Errorf("loss reason = %q, want shutdown", sums[0].LostReason.String)
	}
}

func TestMonitorStorageFailureStopsRun(t *testing.T) {
	src := newFakeSource()
	store, err := storage.Open(filepath.Join(t.TempDir(), "capture.db"))
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	m := New(recorder.New(store), src, events.New())
	m.reconnectDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = m.Run(ctx, config.Cameras{Cameras: []config.Camera{
		{Name: "cam", URL: "rtsp://cam/s"},
	}})
	if !recorder.HasCode(err, recorder.ErrStorageFailure) {
		t.Fatalf("Run error = %v, want storage failure", err)
	}
}

func TestMonitorContractViolationStopsWorkerOnly(t *testing.T) {
	src := newFakeSource()
	src.add("rtsp://bad/s", newFakeSession(&fakeSession{
		streams: []source.Stream{{ID: 0, ClockRate: 90000, Media: "video", Encoding: "H264"}},
		script: func(h source.Handler) error {
			// Frame for a stream that was never announced.
			return h.HandleFrame(source.Frame{StreamID: 7, ReceivedStart: time.Now(), ReceivedEnd: time.Now()})
		},
	}))
	src.add("rtsp://good/s", newFakeSession(&fakeSession{
		streams: []source.Stream{{ID: 0, ClockRate: 8000, Media: "audio", Encoding: "PCMU"}},
		hang:    true,
	}))

	m, store := newTestMonitor(t, src)
	stop := startMonitor(t, m, config.Cameras{Cameras: []config.Camera{
		{Name: "bad", URL: "rtsp://bad/s"},
		{Name: "good", URL: "rtsp://good/s"},
	}})

	waitFor(t, "bad camera loss record", func() bool {
		sums, err := store.ConnectionSummaries()
		if err != nil {
			return false
		}
		for _, cs := range sums {
			if cs.URL == "rtsp://bad/s" && cs.Lost.Valid {
				return true
			}
		}
		return false
	})

	// The bad camera's worker must stop rather than reconnect.
	time.Sleep(25 * time.Millisecond)
	sums, err := store.ConnectionSummaries()
	if err != nil {
		t.Fatal(err)
	}
	var bad, good int
	for _, cs := range sums {
		switch cs.URL {
		case "rtsp://bad/s":
			bad++
			if !strings.Contains(cs.LostReason.String, "UNKNOWN_STREAM") {
				t.Errorf("bad camera loss reason = %q", cs.LostReason.String)
			}
		case "rtsp://good/s":
			good++
		}
	}
	if bad != 1 {
		t.Errorf("bad camera connections = %d, want 1", bad)
	}
	if good != 1 {
		t.Errorf("good camera connections = %d, want 1", good)
	}

	stop()
}

func TestMonitorReloadAppliesCameraChanges(t *testing.T) {
	src := newFakeSource()
	streamsA := []source.Stream{{ID: 0, ClockRate: 90000, Media: "video", Encoding: "H264"}}
	src.add("rtsp://a/s", newFakeSession(&fakeSession{streams: streamsA, hang: true}))
	src.add("rtsp://b/s", newFakeSession(&fakeSession{streams: streamsA, hang: true}))

	m, store := newTestMonitor(t, src)
	stop := startMonitor(t, m, config.Cameras{Cameras: []config.Camera{
		{Name: "a", URL: "rtsp://a/s"},
	}})

	waitFor(t, "camera a session", func() bool { return connCount(store) == 1 })

	m.Reload(config.Cameras{Cameras: []config.Camera{
		{Name: "b", URL: "rtsp://b/s"},
	}})

	waitFor(t, "camera swap", func() bool {
		sums, err := store.ConnectionSummaries()
		if err != nil || len(sums) != 2 {
			return false
		}
		return sums[0].URL == "rtsp://a/s" && sums[0].LostReason.String == "shutdown" &&
			sums[1].URL == "rtsp://b/s"
	})

	stop()
}

func TestMonitorReloadRestartsChangedCamera(t *testing.T) {
	src := newFakeSource()
	streams := []source.Stream{{ID: 0, ClockRate: 90000, Media: "video", Encoding: "H264"}}
	src.add("rtsp://cam/old", newFakeSession(&fakeSession{streams: streams, hang: true}))
	src.add("rtsp://cam/new", newFakeSession(&fakeSession{streams: streams, hang: true}))

	m, store := newTestMonitor(t, src)
	stop := startMonitor(t, m, config.Cameras{Cameras: []config.Camera{
		{Name: "cam", URL: "rtsp://cam/old"},
	}})

	waitFor(t, "initial session", func() bool { return connCount(store) == 1 })

	m.Reload(config.Cameras{Cameras: []config.Camera{
		{Name: "cam", URL: "rtsp://cam/new"},
	}})

	waitFor(t, "restart on new url", func() bool {
		sums, err := store.ConnectionSummaries()
		if err != nil || len(sums) != 2 {
			return false
		}
		return sums[0].URL == "rtsp://cam/old" && sums[0].LostReason.String == "shutdown" &&
			sums[1].URL == "rtsp://cam/new" && !sums[1].Lost.Valid
	})

	stop()
}

func TestMonitorPublishesLifecycleEvents(t *testing.T) {
	store, err := storage.Open(filepath.Join(t.TempDir(), "capture.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	bus := events.New()
	up := make(chan events.ConnectionUpEvent, 4)
	down := make(chan events.ConnectionDownEvent, 4)
	seen := make(chan events.StreamSeenEvent, 4)
	bus.Subscribe(func(e events.ConnectionUpEvent) { up <- e })
	bus.Subscribe(func(e events.ConnectionDownEvent) { down <- e })
	bus.Subscribe(func(e events.StreamSeenEvent) { seen <- e })

	src := newFakeSource()
	src.add("rtsp://cam1/s", newFakeSession(&fakeSession{
		streams: []source.Stream{{ID: 0, ClockRate: 90000, Media: "video", Encoding: "H264"}},
		hang:    true,
	}))

	m := New(recorder.New(store), src, bus)
	m.reconnectDelay = time.Millisecond
	stop := startMonitor(t, m, config.Cameras{Cameras: []config.Camera{
		{Name: "cam1", URL: "rtsp://cam1/s"},
	}})

	select {
	case e := <-up:
		if e.Camera != "cam1" || e.ConnID != 1 {
			t.Errorf("up event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no connection up event")
	}

	select {
	case e := <-seen:
		if e.Media != "video" || e.ClockRate != 90000 || e.StreamID != 0 {
			t.Errorf("stream seen event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no stream seen event")
	}

	stop()

	select {
	case e := <-down:
		if e.Reason != "shutdown" || !e.Clean || e.Outcome() != "clean" {
			t.Errorf("down event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no connection down event")
	}
}
