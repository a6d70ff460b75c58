package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

func TestClampPreRoll(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want time.Duration
	}{
		{0, audio.MinPreRoll},
		{50 * time.Millisecond, 100 * time.Millisecond},
		{500 * time.Millisecond, 500 * time.Millisecond},
		{10 * time.Second, 3 * time.Second},
	}
	for _, tt := range tests {
		if got := audio.ClampPreRoll(tt.in); got != tt.want {
			t.Errorf("ClampPreRoll(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPreRoll_KeepsMostRecentAudio(t *testing.T) {
	t.Parallel()
	// 100 ms at 100 Hz holds 10 samples.
	p := audio.NewPreRoll(true, 100*time.Millisecond, 100)

	p.Write([]float32{1, 2, 3})
	assertSamples(t, p.Snapshot(), []float32{1, 2, 3})

	p.Write([]float32{4, 5, 6, 7, 8, 9, 10, 11, 12})
	assertSamples(t, p.Snapshot(), []float32{3, 4, 5, 6, 7, 8, 9, 10, 11, 12})

	p.Write(make([]float32, 25))
	if got := p.Snapshot(); len(got) != 10 {
		t.Errorf("len after oversize write = %d, want 10", len(got))
	}
}

func TestPreRoll_Disabled(t *testing.T) {
	t.Parallel()
	p := audio.NewPreRoll(false, time.Second, 16000)
	p.Write([]float32{1, 2, 3})
	if got := p.Snapshot(); len(got) != 0 {
		t.Errorf("disabled buffer retained %d samples", len(got))
	}
}

func TestPreRoll_ReconfigureClearsBuffer(t *testing.T) {
	t.Parallel()
	p := audio.NewPreRoll(true, 200*time.Millisecond, 100)
	p.Write([]float32{1, 2, 3})

	if p.Reconfigure(true, 200*time.Millisecond) {
		t.Error("identical settings reported as changed")
	}
	if len(p.Snapshot()) != 3 {
		t.Error("no-op reconfigure discarded audio")
	}

	if !p.Reconfigure(true, 5*time.Second) {
		t.Fatal("changed duration not reported")
	}
	if got := p.Duration(); got != audio.MaxPreRoll {
		t.Errorf("duration = %v, want clamped %v", got, audio.MaxPreRoll)
	}
	if len(p.Snapshot()) != 0 {
		t.Error("reconfigure kept stale audio")
	}
}

func TestPreRoll_Reset(t *testing.T) {
	t.Parallel()
	p := audio.NewPreRoll(true, 100*time.Millisecond, 100)
	p.Write([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11})
	p.Reset()
	if len(p.Snapshot()) != 0 {
		t.Error("reset kept audio")
	}
}

func TestFramer(t *testing.T) {
	t.Parallel()
	f := audio.NewFramer(4)

	if frames := f.Push([]float32{1, 2, 3}); len(frames) != 0 {
		t.Fatalf("got %d frames from a partial chunk", len(frames))
	}
	frames := f.Push([]float32{4, 5, 6, 7, 8, 9})
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	assertSamples(t, frames[0], []float32{1, 2, 3, 4})
	assertSamples(t, frames[1], []float32{5, 6, 7, 8})
	if f.Pending() != 1 {
		t.Errorf("pending = %d, want 1", f.Pending())
	}
	f.Reset()
	if f.Pending() != 0 {
		t.Errorf("pending after reset = %d", f.Pending())
	}
}
