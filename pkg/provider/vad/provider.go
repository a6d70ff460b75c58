// Package vad defines the Scorer interface for neural voice activity
// detection backends.
//
// A Scorer wraps a frame-level speech model (e.g., Silero, WebRTC VAD, or a
// simple energy detector) and reports the raw probability that a frame
// contains speech. It is stateless from the caller's point of view: smoothing,
// hysteresis and session bookkeeping live in the engine that drives it, so a
// backend only has to turn one frame into one number.
//
// Implementations must be safe for concurrent use.
package vad

import (
	"context"
	"errors"
	"fmt"
)

// ModelSampleRate is the rate in Hz every [Input] is delivered at.
const ModelSampleRate = 16000

// Scorer estimates speech probability for one analysis frame.
type Scorer interface {
	// Score returns the probability in [0, 1] that in contains speech.
	// Returns an error if the backend failed to initialise or the inference
	// call failed; callers fall back to their last known good value.
	Score(ctx context.Context, in Input) (float64, error)
}

// Thresholds holds the hysteresis band used to turn probabilities into a
// speaking/not-speaking decision.
type Thresholds struct {
	// Speech is the probability at or above which a non-speaking stream
	// starts speaking. Range: [0.0, 1.0]. Typical: 0.5.
	Speech float64

	// Silence is the probability below which a speaking stream stops
	// speaking. Range: [0.0, 1.0]. Must be ≤ Speech. Typical: 0.3.
	Silence float64
}

// DefaultThresholds returns the standard 0.5 / 0.3 band.
func DefaultThresholds() Thresholds {
	return Thresholds{Speech: 0.5, Silence: 0.3}
}

// Validate checks that both thresholds are in range and ordered.
func (t Thresholds) Validate() error {
	var errs []error
	if t.Speech < 0 || t.Speech > 1 {
		errs = append(errs, fmt.Errorf("vad: speech threshold %.2f is out of range [0, 1]", t.Speech))
	}
	if t.Silence < 0 || t.Silence > 1 {
		errs = append(errs, fmt.Errorf("vad: silence threshold %.2f is out of range [0, 1]", t.Silence))
	}
	if t.Silence > t.Speech {
		errs = append(errs, fmt.Errorf("vad: silence threshold %.2f exceeds speech threshold %.2f", t.Silence, t.Speech))
	}
	return errors.Join(errs...)
}
