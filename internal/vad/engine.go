// Package vad turns raw per-frame speech probabilities into a stable
// speaking/not-speaking signal.
//
// The [Engine] prepares each captured frame for a [provider.Scorer] (mono mix,
// resample to 16 kHz, peak normalisation), smooths the returned probability
// with an exponential moving average and classifies it through a hysteresis
// band. A reset increments an epoch; scores computed for an older epoch are
// discarded so a late inference can never leak into a fresh session.
package vad

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio"
	provider "github.com/MrWong99/earshot/pkg/provider/vad"
)

// Defaults for [New].
const (
	DefaultSmoothing       = 0.3
	DefaultHistorySize     = 30
	DefaultStabilityWindow = 10
)

// Result is the outcome of scoring one frame.
type Result struct {
	// Probability is the smoothed speech probability in [0, 1].
	Probability float64

	// Raw is the unsmoothed scorer output for this frame. Zero when the
	// scorer failed.
	Raw float64

	// Speaking is the hysteresis classification after this frame.
	Speaking bool

	// Stability is 1 minus twice the standard deviation of the most recent
	// raw probabilities, floored at 0.
	Stability float64

	// Epoch is the engine epoch the result belongs to.
	Epoch uint64

	// Stale is set when the engine was reset while the frame was being
	// scored. Stale results must be ignored; engine state was not touched.
	Stale bool

	// Err is set when the scorer failed and Probability is the last known
	// good value.
	Err error
}

// Engine is safe for concurrent use. Scoring runs outside the lock, so a
// slow scorer never blocks [Engine.Reset].
type Engine struct {
	scorer  provider.Scorer
	breaker *resilience.Breaker
	metrics *observe.Metrics
	alpha   float64
	window  int
	timeout time.Duration

	mu         sync.Mutex
	thresholds provider.Thresholds
	smoothed   float64
	history    []float64 // ring of raw probabilities, oldest at head
	head       int
	speaking   bool
	epoch      uint64
	failing    bool
}

// Option configures an [Engine].
type Option func(*Engine)

// WithThresholds sets the hysteresis band. The default is 0.5 / 0.3.
func WithThresholds(t provider.Thresholds) Option {
	return func(e *Engine) { e.thresholds = t }
}

// WithSmoothing sets the EMA weight of the newest sample. Values outside
// (0, 1] are ignored.
func WithSmoothing(alpha float64) Option {
	return func(e *Engine) {
		if alpha > 0 && alpha <= 1 {
			e.alpha = alpha
		}
	}
}

// WithHistorySize sets how many raw probabilities are retained.
func WithHistorySize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.history = make([]float64, n)
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithInferenceTimeout bounds a single scorer call. Zero disables the bound.
func WithInferenceTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithFailureGuard suspends the scorer for cooldown after maxFailures
// consecutive errors.
func WithFailureGuard(maxFailures int, cooldown time.Duration) Option {
	return func(e *Engine) { e.breaker = newBreaker(maxFailures, cooldown) }
}

func newBreaker(maxFailures int, cooldown time.Duration) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerConfig{
		Name:        "vad scorer",
		MaxFailures: max(maxFailures, 1),
		Cooldown:    cooldown,
	})
}

// New returns an engine driving scorer.
func New(scorer provider.Scorer, opts ...Option) *Engine {
	e := &Engine{
		scorer:     scorer,
		breaker:    newBreaker(10, 5*time.Second),
		alpha:      DefaultSmoothing,
		window:     DefaultStabilityWindow,
		timeout:    500 * time.Millisecond,
		thresholds: provider.DefaultThresholds(),
		history:    make([]float64, DefaultHistorySize),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Score prepares f, runs the scorer and folds the result into the engine
// state. If the scorer fails, the last smoothed probability is returned with
// Err set and the state is left untouched. Cancellation of ctx is reported
// the same way but is not held against the scorer.
func (e *Engine) Score(ctx context.Context, f audio.Frame) Result {
	e.mu.Lock()
	epoch := e.epoch
	e.mu.Unlock()

	in := Prepare(f)

	start := time.Now()
	var raw float64
	var cancelled error
	err := e.breaker.Do(func() error {
		callCtx := ctx
		if e.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}
		var err error
		raw, err = e.scorer.Score(callCtx, in)
		// The caller going away says nothing about the scorer.
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			cancelled = err
			return nil
		}
		return err
	})
	elapsed := time.Since(start)

	if cancelled != nil {
		e.metrics.RecordInference(ctx, elapsed, "cancelled")
		e.mu.Lock()
		defer e.mu.Unlock()
		return Result{
			Probability: e.smoothed,
			Speaking:    e.speaking,
			Epoch:       e.epoch,
			Stale:       e.epoch != epoch,
			Err:         cancelled,
		}
	}
	if err != nil {
		reason := "scorer_error"
		if errors.Is(err, resilience.ErrOpen) {
			reason = "suspended"
		}
		e.metrics.RecordInference(ctx, elapsed, reason)
		return e.fallback(epoch, err)
	}
	e.metrics.RecordInference(ctx, elapsed, "")

	raw = min(max(raw, 0), 1)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch {
		e.metrics.VADStaleResults.Add(ctx, 1)
		return Result{Probability: e.smoothed, Speaking: e.speaking, Epoch: e.epoch, Stale: true}
	}
	if e.failing {
		slog.Info("vad: scoring recovered")
		e.failing = false
	}

	e.history[e.head] = raw
	e.head = (e.head + 1) % len(e.history)

	e.smoothed = e.alpha*raw + (1-e.alpha)*e.smoothed
	e.speaking = Hysteresis(e.speaking, e.smoothed, e.thresholds)

	return Result{
		Probability: e.smoothed,
		Raw:         raw,
		Speaking:    e.speaking,
		Stability:   e.stabilityLocked(),
		Epoch:       epoch,
	}
}

func (e *Engine) fallback(epoch uint64, err error) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.failing {
		slog.Warn("vad: scoring failed, holding last probability", "err", err, "probability", e.smoothed)
		e.failing = true
	}
	return Result{
		Probability: e.smoothed,
		Speaking:    e.speaking,
		Stability:   e.stabilityLocked(),
		Epoch:       e.epoch,
		Stale:       e.epoch != epoch,
		Err:         err,
	}
}

// Prepare converts a captured frame into scorer input: mono, 16 kHz, peak
// normalised with the removed gain recorded.
func Prepare(f audio.Frame) provider.Input {
	mono := audio.Resample(f.Mono(), f.SampleRate, provider.ModelSampleRate)
	var peak float32
	for _, s := range mono {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	return provider.Input{Samples: audio.PeakNormalize(mono), Gain: peak}
}

// Hysteresis classifies p given the previous decision. A speaking stream
// stays speaking while p ≥ Silence; a silent stream starts speaking once
// p ≥ Speech. Probabilities inside the band never flip the state.
func Hysteresis(speaking bool, p float64, t provider.Thresholds) bool {
	if speaking {
		return p >= t.Silence
	}
	return p >= t.Speech
}

// Reset zeroes the smoothed probability, history and classification, and
// advances the epoch so in-flight scores are discarded.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.smoothed = 0
	clear(e.history)
	e.head = 0
	e.speaking = false
	e.epoch++
	slog.Debug("vad: state reset", "epoch", e.epoch)
}

// Epoch returns the current epoch.
func (e *Engine) Epoch() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch
}

// Probability returns the current smoothed probability.
func (e *Engine) Probability() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.smoothed
}

// Speaking returns the current classification.
func (e *Engine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaking
}

// Stability returns 1 - 2·stddev over the most recent raw probabilities,
// floored at 0. A freshly reset engine reports 1.
func (e *Engine) Stability() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stabilityLocked()
}

// Average returns the mean of the whole raw probability history.
func (e *Engine) Average() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var sum float64
	for _, p := range e.history {
		sum += p
	}
	return sum / float64(len(e.history))
}

// Thresholds returns the active hysteresis band.
func (e *Engine) Thresholds() provider.Thresholds {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thresholds
}

// SetThresholds replaces the hysteresis band. The caller validates t.
func (e *Engine) SetThresholds(t provider.Thresholds) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.thresholds = t
}

func (e *Engine) stabilityLocked() float64 {
	n := min(e.window, len(e.history))
	var mean float64
	for i := 1; i <= n; i++ {
		mean += e.recentLocked(i)
	}
	mean /= float64(n)
	var variance float64
	for i := 1; i <= n; i++ {
		d := e.recentLocked(i) - mean
		variance += d * d
	}
	variance /= float64(n)
	return max(0, 1-2*math.Sqrt(variance))
}

// recentLocked returns the i-th most recent raw probability (1 = newest).
func (e *Engine) recentLocked(i int) float64 {
	size := len(e.history)
	return e.history[((e.head-i)%size+size)%size]
}
