package energy_test

import (
	"context"
	"math"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
)

func tone(n int, amp float32) vad.Input {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(math.Sin(float64(i) * 0.1))
	}
	return vad.Input{Samples: s, Gain: amp}
}

func TestScore_SilenceIsZero(t *testing.T) {
	t.Parallel()
	p, err := energy.New().Score(context.Background(), vad.Input{Samples: make([]float32, 512)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != 0 {
		t.Errorf("p = %v, want 0", p)
	}
}

func TestScore_MonotonicInLevel(t *testing.T) {
	t.Parallel()
	s := energy.New()
	ctx := context.Background()
	quiet, _ := s.Score(ctx, tone(512, 0.001))
	mid, _ := s.Score(ctx, tone(512, 0.02))
	loud, _ := s.Score(ctx, tone(512, 0.5))
	if !(quiet < mid && mid < loud) {
		t.Errorf("scores not increasing: %v, %v, %v", quiet, mid, loud)
	}
	if quiet > 0.1 {
		t.Errorf("quiet frame scored %v, want < 0.1", quiet)
	}
	if loud < 0.9 {
		t.Errorf("loud frame scored %v, want > 0.9", loud)
	}
}

func TestScore_Midpoint(t *testing.T) {
	t.Parallel()
	// A constant frame of magnitude 0.01 is exactly -40 dBFS.
	in := vad.Input{Samples: []float32{1, 1, 1, 1}, Gain: 0.01}
	p, _ := energy.New().Score(context.Background(), in)
	if math.Abs(p-0.5) > 1e-6 {
		t.Errorf("p = %v, want 0.5", p)
	}
	p, _ = energy.New(energy.WithMidpoint(-20)).Score(context.Background(), in)
	if p > 0.01 {
		t.Errorf("with -20 dB midpoint p = %v, want ~0", p)
	}
}
