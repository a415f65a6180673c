// Package rtptime converts the wrapping 32-bit timestamps carried by RTP
// into values usable for offline analysis: monotonically extended 64-bit
// timestamps, NTP wall-clock normalization, and clock-rate rescaling.
package rtptime

// Extender turns a wrapping 32-bit RTP timestamp into an extended 64-bit
// value, independently per stream. It tracks the last extended value and
// interprets each new raw value with the nearest-wrap heuristic: the signed
// 32-bit difference from the previous raw value is added to the running
// total, so the interpretation that minimizes the absolute jump wins. A
// difference of exactly 2^31 is ambiguous; it is resolved as forward
// progress. Out-of-order or duplicated values near a wrap boundary can be
// extended incorrectly; that is an accepted limitation.
//
// The zero value is ready to use. Extender is not safe for concurrent use;
// each stream's packets must be fed by a single in-order caller.
type Extender struct {
	seeded   bool
	prev     uint32
	extended int64
}

const halfModulus = 1 << 31

// Extend returns the extended form of raw. The first call seeds the state
// with the raw value as-is. Extended values can move backward (and even go
// negative) when the raw input does; monotonicity is only as good as the
// input.
func (e *Extender) Extend(raw uint32) int64 {
	if !e.seeded {
		e.seeded = true
		e.prev = raw
		e.extended = int64(raw)
		return e.extended
	}

	delta := int64(int32(raw - e.prev))
	if delta == -halfModulus {
		delta = halfModulus
	}

	e.prev = raw
	e.extended += delta
	return e.extended
}
