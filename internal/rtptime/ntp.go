package rtptime

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffset = 2208988800

// NTPToUnix normalizes a 64-bit NTP timestamp (32.32 fixed point, seconds
// since 1900) so that zero means the Unix epoch, keeping the 32.32 layout.
// The subtraction wraps, so values from NTP era 0 map onto the signed range
// directly; the result is meaningful until the signed boundary in 2038.
func NTPToUnix(ntp uint64) int64 {
	return int64(ntp - ntpEpochOffset<<32)
}
