package recorder

import "testing"

func TestObserveFrameAssignsDenseSequence(t *testing.T) {
	ss := newStreamState(90000, MediaVideo)

	for want := int64(0); want < 5; want++ {
		seq, _ := ss.observeFrame(nil)
		if seq != want {
			t.Errorf("observeFrame() seq = %d, want %d", seq, want)
		}
	}
}

func TestObserveFrameCumulativeDuration(t *testing.T) {
	tests := []struct {
		name      string
		durations []*int64
		want      []*int64
	}{
		{
			name:      "all known",
			durations: []*int64{i64(100), i64(200), i64(300)},
			want:      []*int64{i64(100), i64(300), i64(600)},
		},
		{
			name:      "first unknown leaves chain broken until restart",
			durations: []*int64{nil, i64(100), i64(100)},
			want:      []*int64{nil, i64(100), i64(200)},
		},
		{
			name:      "gap restarts accumulation",
			durations: []*int64{i64(100), nil, i64(50), i64(50)},
			want:      []*int64{i64(100), nil, i64(50), i64(100)},
		},
		{
			name:      "zero duration is known",
			durations: []*int64{i64(0), i64(10)},
			want:      []*int64{i64(0), i64(10)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ss := newStreamState(90000, MediaVideo)
			for i, d := range tt.durations {
				_, cum := ss.observeFrame(d)
				want := tt.want[i]
				switch {
				case want == nil && cum != nil:
					t.Errorf("frame %d cum = %d, want nil", i, *cum)
				case want != nil && cum == nil:
					t.Errorf("frame %d cum = nil, want %d", i, *want)
				case want != nil && cum != nil && *cum != *want:
					t.Errorf("frame %d cum = %d, want %d", i, *cum, *want)
				}
			}
		})
	}
}

func TestSenderReportCounterSeparateFromFrames(t *testing.T) {
	ss := newStreamState(90000, MediaVideo)

	ss.observeFrame(nil)
	ss.observeFrame(nil)

	if seq := ss.observeSenderReport(); seq != 0 {
		t.Errorf("first observeSenderReport() = %d, want 0", seq)
	}
	if seq := ss.observeSenderReport(); seq != 1 {
		t.Errorf("second observeSenderReport() = %d, want 1", seq)
	}
	if seq, _ := ss.observeFrame(nil); seq != 2 {
		t.Errorf("observeFrame() after reports = %d, want 2", seq)
	}
}
