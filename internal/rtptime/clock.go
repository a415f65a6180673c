package rtptime

import "time"

// multiplyAndDivide computes v * m / d without overflowing an int64 and
// without losing resolution, by splitting the division into integer and
// remainder parts.
func multiplyAndDivide(v, m, d int64) int64 {
	secs := v / d
	dec := v % d
	return secs*m + dec*m/d
}

// Rescale converts an elapsed duration into ticks of the given media clock.
func Rescale(v time.Duration, clockRate int64) int64 {
	return multiplyAndDivide(int64(v), clockRate, int64(time.Second))
}
