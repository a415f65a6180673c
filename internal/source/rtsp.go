package source

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v5"
	"github.com/bluenviron/gortsplib/v5/pkg/base"
	"github.com/bluenviron/gortsplib/v5/pkg/description"
	"github.com/bluenviron/gortsplib/v5/pkg/format"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/nvrlab/rtsptrace/internal/logging"
)

// RTSP opens sessions against RTSP producers using gortsplib.
type RTSP struct {
	readTimeout time.Duration
	transport   string
	logger      *slog.Logger
}

// NewRTSP returns a source for RTSP producers. transport selects the
// stream transport ("tcp", "udp" or "" for automatic negotiation).
func NewRTSP(readTimeout time.Duration, transport string) *RTSP {
	return &RTSP{
		readTimeout: readTimeout,
		transport:   transport,
		logger:      logging.GetLogger("source"),
	}
}

func transportFor(name string) (*gortsplib.Protocol, error) {
	switch name {
	case "":
		return nil, nil
	case "tcp":
		v := gortsplib.ProtocolTCP
		return &v, nil
	case "udp":
		v := gortsplib.ProtocolUDP
		return &v, nil
	}
	return nil, fmt.Errorf("unknown transport %q", name)
}

// Open dials the producer, describes it and sets up every media. fps
// forces the video frame rate used for duration accounting; zero trusts
// the producer's SDP. The returned session does not deliver events until
// Play is called.
func (s *RTSP) Open(ctx context.Context, rawURL string, fps int64) (Session, error) {
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	transport, err := transportFor(s.transport)
	if err != nil {
		return nil, err
	}

	c := &gortsplib.Client{
		Scheme:       u.Scheme,
		Host:         u.Host,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.readTimeout,
		Protocol:     transport,
		UserAgent:    "rtsptrace",
		DialContext: func(_ context.Context, network, address string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, network, address)
		},
		OnDecodeError: func(err error) {
			s.logger.Warn("Packet decode error", "url", rawURL, "error", err)
		},
	}

	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	desc, res, err := c.Describe(u)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("describe: %w", err)
	}

	if err := c.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		c.Close()
		return nil, fmt.Errorf("setup: %w", err)
	}

	sess := &rtspSession{
		client: c,
		logger: s.logger,
	}
	sess.buildStreams(desc, res.Body, fps)
	return sess, nil
}

// rtspSession is one live RTSP connection. gortsplib delivers packets on
// one goroutine per transport socket, so all receive state is guarded by
// a mutex that also serializes handler calls into a single ordered event
// stream.
type rtspSession struct {
	client  *gortsplib.Client
	logger  *slog.Logger
	streams []Stream

	mu      sync.Mutex
	handler Handler
	states  map[*description.Media]*mediaRecv
	pos     int64
	err     error
}

// mediaRecv tracks receive state for one set-up media.
type mediaRecv struct {
	stream   Stream
	primary  format.Format
	loss     lossCounter
	duration *int64 // fixed per-frame duration for video, nil when unknown
	byteDur  bool   // G711: duration equals payload bytes per channel
	channels int64
	isH264   bool
	isVideo  bool
	pending  *videoFrame
}

// videoFrame accumulates the packets of one access unit.
type videoFrame struct {
	ts    uint32
	start time.Time
	end   time.Time
	pos   int64
	loss  int64
	idr   bool
}

func (s *rtspSession) buildStreams(desc *description.Session, body []byte, fps int64) {
	rates := sessionFramerates(body)
	s.states = make(map[*description.Media]*mediaRecv)

	for i, medi := range desc.Medias {
		switch medi.Type {
		case description.MediaTypeVideo, description.MediaTypeAudio, description.MediaTypeApplication:
		default:
			s.logger.Warn("Ignoring media with unsupported type", "type", string(medi.Type))
			continue
		}
		if len(medi.Formats) == 0 {
			continue
		}
		forma := medi.Formats[0]

		st := Stream{
			ID:        int64(i),
			ClockRate: int64(forma.ClockRate()),
			Media:     string(medi.Type),
			Encoding:  forma.Codec(),
		}

		recv := &mediaRecv{stream: st, primary: forma}
		switch medi.Type {
		case description.MediaTypeVideo:
			recv.isVideo = true
			_, recv.isH264 = forma.(*format.H264)
			rate := fps
			if rate == 0 {
				rate = rates[i]
			}
			recv.duration = durationFromFPS(st.ClockRate, rate)
		case description.MediaTypeAudio:
			if g, ok := forma.(*format.G711); ok && g.ChannelCount > 0 {
				recv.byteDur = true
				recv.channels = int64(g.ChannelCount)
			}
		}

		s.streams = append(s.streams, st)
		s.states[medi] = recv
	}
}

func (s *rtspSession) Streams() []Stream {
	return s.streams
}

func (s *rtspSession) Play(h Handler) error {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()

	s.client.OnPacketRTPAny(s.onPacketRTP)
	s.client.OnPacketRTCPAny(s.onPacketRTCP)

	if _, err := s.client.Play(nil); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

// Wait blocks until the session ends. A handler error takes precedence
// over the transport error produced by the teardown it triggered.
func (s *rtspSession) Wait() error {
	err := s.client.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	return err
}

func (s *rtspSession) Close() {
	s.client.Close()
}

func (s *rtspSession) onPacketRTP(medi *description.Media, forma format.Format, pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recv := s.states[medi]
	if recv == nil || s.handler == nil || s.err != nil {
		return
	}
	// A secondary format would run on its own timestamp and sequence
	// space; tracking only the primary keeps the per-stream chains
	// consistent.
	if forma != recv.primary {
		return
	}

	now := time.Now()
	pos := s.pos
	s.pos += int64(len(pkt.Payload))
	loss := recv.loss.count(pkt.SequenceNumber)

	if recv.isVideo {
		s.aggregateVideo(recv, pkt, now, pos, loss)
		return
	}

	ts := pkt.Timestamp
	frame := Frame{
		StreamID:      recv.stream.ID,
		RTPTimestamp:  &ts,
		ReceivedStart: now,
		ReceivedEnd:   now,
		Pos:           pos,
		Loss:          loss,
	}
	if recv.byteDur {
		d := int64(len(pkt.Payload)) / recv.channels
		frame.Duration = &d
	}
	s.dispatchFrame(frame)
}

// aggregateVideo groups RTP packets that share a timestamp into one
// access unit. The pending unit is flushed when the timestamp changes or
// the marker bit announces its end; a partial unit left at session end is
// dropped.
func (s *rtspSession) aggregateVideo(recv *mediaRecv, pkt *rtp.Packet, now time.Time, pos, loss int64) {
	cur := recv.pending
	if cur != nil && cur.ts != pkt.Timestamp {
		s.flushVideo(recv)
		cur = nil
	}

	if cur == nil {
		cur = &videoFrame{
			ts:    pkt.Timestamp,
			start: now,
			pos:   pos,
		}
		recv.pending = cur
	}

	cur.end = now
	cur.loss += loss
	if recv.isH264 && h264HasIDR(pkt.Payload) {
		cur.idr = true
	}

	if pkt.Marker {
		s.flushVideo(recv)
	}
}

func (s *rtspSession) flushVideo(recv *mediaRecv) {
	cur := recv.pending
	if cur == nil {
		return
	}
	recv.pending = nil

	ts := cur.ts
	s.dispatchFrame(Frame{
		StreamID:      recv.stream.ID,
		RTPTimestamp:  &ts,
		ReceivedStart: cur.start,
		ReceivedEnd:   cur.end,
		Pos:           cur.pos,
		Loss:          cur.loss,
		Duration:      recv.duration,
		IDR:           cur.idr,
	})
}

func (s *rtspSession) onPacketRTCP(medi *description.Media, pkt rtcp.Packet) {
	sr, ok := pkt.(*rtcp.SenderReport)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recv := s.states[medi]
	if recv == nil || s.handler == nil || s.err != nil {
		return
	}

	report := SenderReport{
		StreamID:     recv.stream.ID,
		RTPTimestamp: sr.RTPTime,
		Received:     time.Now(),
		NTPTimestamp: sr.NTPTime,
	}
	if err := s.handler.HandleSenderReport(report); err != nil {
		s.fail(err)
	}
}

func (s *rtspSession) dispatchFrame(frame Frame) {
	if err := s.handler.HandleFrame(frame); err != nil {
		s.fail(err)
	}
}

// fail records the first handler error and tears the session down so that
// Wait returns it. Close runs on its own goroutine because it waits for
// the reader goroutines this is called from.
func (s *rtspSession) fail(err error) {
	if s.err != nil {
		return
	}
	s.err = err
	go s.client.Close()
}
