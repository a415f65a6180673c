package source

// H264 NALU types that can carry an IDR picture inside an RTP payload.
const (
	h264NALUTypeIDR   = 5
	h264NALUTypeSTAPA = 24
	h264NALUTypeFUA   = 28
)

// h264HasIDR reports whether an RTP payload carries the start of an IDR
// picture. Single NALUs and STAP-A aggregates are inspected directly;
// FU-A fragments only report true on the starting fragment, so a picture
// split across packets is flagged exactly once.
func h264HasIDR(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}

	switch payload[0] & 0x1F {
	case h264NALUTypeIDR:
		return true

	case h264NALUTypeSTAPA:
		payload = payload[1:]
		for len(payload) >= 2 {
			size := int(payload[0])<<8 | int(payload[1])
			payload = payload[2:]
			if size == 0 || size > len(payload) {
				return false
			}
			if payload[0]&0x1F == h264NALUTypeIDR {
				return true
			}
			payload = payload[size:]
		}

	case h264NALUTypeFUA:
		if len(payload) >= 2 && payload[1]>>7 == 1 {
			return payload[1]&0x1F == h264NALUTypeIDR
		}
	}

	return false
}
