package vad_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/vad"
	"github.com/MrWong99/earshot/pkg/audio"
	provider "github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
	"github.com/MrWong99/earshot/pkg/provider/vad/mock"
)

func newEngine(t *testing.T, sc provider.Scorer, opts ...vad.Option) *vad.Engine {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return vad.New(sc, append([]vad.Option{vad.WithMetrics(m)}, opts...)...)
}

func frame(n int, v float32) audio.Frame {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return audio.Frame{Samples: s, SampleRate: 16000, Channels: 1}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScore_ExponentialSmoothing(t *testing.T) {
	t.Parallel()
	e := newEngine(t, &mock.Scorer{Results: []float64{1, 1, 0}})
	ctx := context.Background()

	want := []float64{0.3, 0.51, 0.357}
	for i, w := range want {
		r := e.Score(ctx, frame(512, 0.1))
		if r.Err != nil || r.Stale {
			t.Fatalf("frame %d: unexpected result %+v", i, r)
		}
		if !near(r.Probability, w) {
			t.Errorf("frame %d: p = %v, want %v", i, r.Probability, w)
		}
	}
}

func TestScore_SilenceWithEnergyScorer(t *testing.T) {
	t.Parallel()
	e := newEngine(t, energy.New())
	r := e.Score(context.Background(), frame(1536, 0))
	if r.Probability != 0 || r.Speaking {
		t.Errorf("silent frame: %+v", r)
	}
}

func TestHysteresis(t *testing.T) {
	t.Parallel()
	th := provider.DefaultThresholds()
	tests := []struct {
		speaking bool
		p        float64
		want     bool
	}{
		{false, 0.49, false},
		{false, 0.5, true},
		{true, 0.31, true},
		{true, 0.3, true},
		{true, 0.29, false},
		{false, 0.0, false},
	}
	for _, tt := range tests {
		if got := vad.Hysteresis(tt.speaking, tt.p, th); got != tt.want {
			t.Errorf("Hysteresis(%v, %v) = %v, want %v", tt.speaking, tt.p, got, tt.want)
		}
	}
}

func TestHysteresis_NoFlickerInsideBand(t *testing.T) {
	t.Parallel()
	th := provider.DefaultThresholds()
	for _, start := range []bool{true, false} {
		state := start
		for i := range 1000 {
			p := 0.3 + 0.2*float64(i%97+1)/99 // strictly inside (0.3, 0.5)
			state = vad.Hysteresis(state, p, th)
			if state != start {
				t.Fatalf("state flipped from %v at p=%v", start, p)
			}
		}
	}
}

func TestScore_ClassifiesWithHysteresis(t *testing.T) {
	t.Parallel()
	sc := &mock.Scorer{}
	e := newEngine(t, sc, vad.WithSmoothing(1))
	ctx := context.Background()

	steps := []struct {
		raw  float64
		want bool
	}{
		{0.4, false},
		{0.6, true},
		{0.4, true},
		{0.35, true},
		{0.2, false},
		{0.45, false},
	}
	for i, st := range steps {
		sc.SetDefault(st.raw)
		if r := e.Score(ctx, frame(512, 0.1)); r.Speaking != st.want {
			t.Errorf("step %d (raw %v): speaking = %v, want %v", i, st.raw, r.Speaking, st.want)
		}
	}
}

func TestReset_ZeroesStateAndAdvancesEpoch(t *testing.T) {
	t.Parallel()
	sc := &mock.Scorer{Default: 0.9}
	e := newEngine(t, sc)
	ctx := context.Background()
	for range 5 {
		e.Score(ctx, frame(512, 0.5))
	}
	before := e.Probability()
	epoch := e.Epoch()

	e.Reset()
	if e.Probability() != 0 || e.Speaking() || e.Average() != 0 {
		t.Errorf("state not cleared: p=%v speaking=%v avg=%v", e.Probability(), e.Speaking(), e.Average())
	}
	if e.Epoch() != epoch+1 {
		t.Errorf("epoch = %d, want %d", e.Epoch(), epoch+1)
	}

	sc.SetDefault(0)
	if r := e.Score(ctx, frame(512, 0)); r.Probability >= before {
		t.Errorf("post-reset silent score %v not below pre-reset %v", r.Probability, before)
	}
}

func TestScore_DiscardsResultsFromBeforeReset(t *testing.T) {
	t.Parallel()
	sc := &mock.Scorer{
		Default: 1,
		Gate:    make(chan struct{}),
		Entered: make(chan struct{}, 1),
	}
	e := newEngine(t, sc)

	done := make(chan vad.Result, 1)
	go func() { done <- e.Score(context.Background(), frame(512, 0.5)) }()

	<-sc.Entered
	e.Reset()
	close(sc.Gate)

	r := <-done
	if !r.Stale {
		t.Fatal("in-flight result was not marked stale")
	}
	if e.Probability() != 0 || e.Average() != 0 {
		t.Errorf("stale result leaked into state: p=%v avg=%v", e.Probability(), e.Average())
	}
}

func TestScore_CancellationDoesNotTripGuard(t *testing.T) {
	t.Parallel()
	sc := &mock.Scorer{
		Default: 0.8,
		Gate:    make(chan struct{}),
		Entered: make(chan struct{}, 1),
	}
	e := newEngine(t, sc, vad.WithFailureGuard(1, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan vad.Result, 1)
	go func() { done <- e.Score(ctx, frame(512, 0.5)) }()

	<-sc.Entered
	cancel()
	if r := <-done; !errors.Is(r.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", r.Err)
	}

	close(sc.Gate)
	r := e.Score(context.Background(), frame(512, 0.5))
	<-sc.Entered
	if r.Err != nil {
		t.Errorf("scorer suspended after a cancelled call: %v", r.Err)
	}
}

func TestScore_FailureReturnsLastKnownGood(t *testing.T) {
	t.Parallel()
	sc := &mock.Scorer{Default: 1}
	e := newEngine(t, sc)
	ctx := context.Background()

	good := e.Score(ctx, frame(512, 0.5)).Probability
	boom := errors.New("inference failed")
	sc.SetErr(boom)

	r := e.Score(ctx, frame(512, 0.5))
	if !errors.Is(r.Err, boom) {
		t.Fatalf("err = %v, want %v", r.Err, boom)
	}
	if r.Probability != good {
		t.Errorf("p = %v, want last good %v", r.Probability, good)
	}
}

func TestScore_GuardSuspendsFailingScorer(t *testing.T) {
	t.Parallel()
	sc := &mock.Scorer{Err: errors.New("model missing")}
	e := newEngine(t, sc, vad.WithFailureGuard(2, time.Hour))
	ctx := context.Background()

	e.Score(ctx, frame(512, 0.5))
	e.Score(ctx, frame(512, 0.5))
	r := e.Score(ctx, frame(512, 0.5))

	if !errors.Is(r.Err, resilience.ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", r.Err)
	}
	if got := sc.CallCount(); got != 2 {
		t.Errorf("scorer calls = %d, want 2", got)
	}
}

func TestScore_GuardProbesAfterCooldown(t *testing.T) {
	t.Parallel()
	sc := &mock.Scorer{Err: errors.New("transient"), Default: 0.8}
	e := newEngine(t, sc, vad.WithFailureGuard(1, 20*time.Millisecond))
	ctx := context.Background()

	e.Score(ctx, frame(512, 0.5))
	if r := e.Score(ctx, frame(512, 0.5)); !errors.Is(r.Err, resilience.ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", r.Err)
	}

	sc.SetErr(nil)
	time.Sleep(40 * time.Millisecond)
	if r := e.Score(ctx, frame(512, 0.5)); r.Err != nil {
		t.Fatalf("probe failed: %v", r.Err)
	}
	if r := e.Score(ctx, frame(512, 0.5)); r.Err != nil {
		t.Errorf("guard did not close after successful probe: %v", r.Err)
	}
}

func TestStability(t *testing.T) {
	t.Parallel()
	sc := &mock.Scorer{}
	e := newEngine(t, sc)
	ctx := context.Background()

	if got := e.Stability(); got != 1 {
		t.Errorf("fresh stability = %v, want 1", got)
	}

	alt := make([]float64, 10)
	for i := range alt {
		alt[i] = float64(i % 2)
	}
	sc.Results = alt
	for range alt {
		e.Score(ctx, frame(512, 0.5))
	}
	// stddev 0.5 → 1 - 2·0.5 = 0
	if got := e.Stability(); !near(got, 0) {
		t.Errorf("alternating stability = %v, want 0", got)
	}

	sc.SetDefault(0.7)
	for range 10 {
		e.Score(ctx, frame(512, 0.5))
	}
	if got := e.Stability(); !near(got, 1) {
		t.Errorf("constant stability = %v, want 1", got)
	}
}

func TestPrepare(t *testing.T) {
	t.Parallel()
	samples := make([]float32, 48*2*10) // 10 ms of 48 kHz stereo
	for i := range samples {
		samples[i] = 0.25
	}
	samples[0] = 0.5 // left channel peak; mono mix gives 0.375

	in := vad.Prepare(audio.Frame{Samples: samples, SampleRate: 48000, Channels: 2})
	if len(in.Samples) != 160 {
		t.Fatalf("samples = %d, want 160", len(in.Samples))
	}
	if math.Abs(float64(in.Gain)-0.375) > 1e-6 {
		t.Errorf("gain = %v, want 0.375", in.Gain)
	}
	if in.Samples[0] != 1 {
		t.Errorf("peak sample = %v, want 1", in.Samples[0])
	}
}
