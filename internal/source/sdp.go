package source

import (
	"strconv"
	"strings"

	"github.com/bluenviron/gortsplib/v5/pkg/sdp"
	psdp "github.com/pion/sdp/v3"
)

// mediaFramerate returns the integer a=framerate attribute of a media
// section, if present. Fractional rates are rejected because they cannot
// yield a whole per-frame tick count.
func mediaFramerate(md *psdp.MediaDescription) (int64, bool) {
	for _, attr := range md.Attributes {
		if attr.Key != "framerate" {
			continue
		}

		value := strings.TrimSpace(attr.Value)
		if fps, err := strconv.ParseInt(value, 10, 64); err == nil && fps > 0 {
			return fps, true
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 && f == float64(int64(f)) {
			return int64(f), true
		}
		return 0, false
	}
	return 0, false
}

// sessionFramerates maps media section indexes to their declared integer
// frame rates, parsed from a raw DESCRIBE body.
func sessionFramerates(body []byte) map[int]int64 {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return nil
	}

	rates := make(map[int]int64)
	for i, md := range sd.MediaDescriptions {
		if fps, ok := mediaFramerate(md); ok {
			rates[i] = fps
		}
	}
	return rates
}

// durationFromFPS converts a frame rate into a per-frame duration in clock
// ticks. Rates that do not divide the clock rate evenly are rejected, so
// stored durations stay exact.
func durationFromFPS(clockRate, fps int64) *int64 {
	if fps <= 0 || clockRate <= 0 || clockRate%fps != 0 {
		return nil
	}

	d := clockRate / fps
	return &d
}
