package source

import "testing"

func TestH264HasIDR(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    bool
	}{
		{
			name:    "empty payload",
			payload: nil,
			want:    false,
		},
		{
			name:    "single IDR",
			payload: []byte{0x65, 0x88, 0x84},
			want:    true,
		},
		{
			name:    "single non-IDR slice",
			payload: []byte{0x41, 0x9a, 0x24},
			want:    false,
		},
		{
			name: "stap-a with IDR after parameter sets",
			payload: []byte{
				0x18,
				0x00, 0x02, 0x67, 0x42, // SPS
				0x00, 0x01, 0x68, // PPS
				0x00, 0x03, 0x65, 0x88, 0x84, // IDR
			},
			want: true,
		},
		{
			name: "stap-a without IDR",
			payload: []byte{
				0x18,
				0x00, 0x02, 0x67, 0x42,
				0x00, 0x01, 0x68,
			},
			want: false,
		},
		{
			name: "stap-a truncated entry",
			payload: []byte{
				0x18,
				0x00, 0x09, 0x65, // size points past the payload
			},
			want: false,
		},
		{
			name:    "fu-a starting IDR fragment",
			payload: []byte{0x7c, 0x85, 0x88, 0x84},
			want:    true,
		},
		{
			name:    "fu-a continuation of IDR",
			payload: []byte{0x7c, 0x05, 0x88, 0x84},
			want:    false,
		},
		{
			name:    "fu-a starting non-IDR fragment",
			payload: []byte{0x7c, 0x81, 0x9a},
			want:    false,
		},
		{
			name:    "fu-a too short",
			payload: []byte{0x7c},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h264HasIDR(tt.payload); got != tt.want {
				t.Errorf("h264HasIDR(%#v) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}
