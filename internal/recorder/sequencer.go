package recorder

import "github.com/nvrlab/rtsptrace/internal/rtptime"

// streamState carries the sequencing state of one stream within one
// connection: the dense frame counter, the independent sender-report
// counter, the cumulative-duration chain and the timestamp extender.
//
// State is advanced only through Recorder calls, which the owning
// connection worker must make in delivery order; streamState itself is not
// safe for concurrent use.
type streamState struct {
	clockRate int64
	media     string

	extender rtptime.Extender

	frameSeq int64
	srSeq    int64

	// cum is the running sum of known durations. cumKnown starts true with
	// cum zero, so the first frame with a known duration gets cum equal to
	// that duration; a frame with unknown duration breaks the chain and the
	// next known duration restarts it.
	cum      int64
	cumKnown bool
}

func newStreamState(clockRate int64, media string) *streamState {
	return &streamState{
		clockRate: clockRate,
		media:     media,
		cumKnown:  true,
	}
}

// observeFrame assigns the next dense frame sequence number and advances the
// cumulative-duration chain. duration must already be validated non-negative.
func (s *streamState) observeFrame(duration *int64) (seq int64, cum *int64) {
	seq = s.frameSeq
	s.frameSeq++

	if duration == nil {
		s.cumKnown = false
		return seq, nil
	}

	if s.cumKnown {
		s.cum += *duration
	} else {
		s.cum = *duration
		s.cumKnown = true
	}
	c := s.cum
	return seq, &c
}

// observeSenderReport assigns the next sender-report sequence number.
func (s *streamState) observeSenderReport() int64 {
	seq := s.srSeq
	s.srSeq++
	return seq
}
