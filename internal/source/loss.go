package source

// lossCounter detects missing packets by watching 16-bit RTP sequence
// numbers. Wraparound is absorbed by the unsigned subtraction; a packet
// arriving out of order counts as a large gap, the same way an actual
// burst loss would.
type lossCounter struct {
	initialized bool
	expectedSeq uint16
}

// count returns the number of packets lost immediately before seq.
func (c *lossCounter) count(seq uint16) int64 {
	if !c.initialized {
		c.initialized = true
		c.expectedSeq = seq + 1
		return 0
	}

	lost := seq - c.expectedSeq
	c.expectedSeq = seq + 1
	return int64(lost)
}
