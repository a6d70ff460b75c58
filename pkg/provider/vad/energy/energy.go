// Package energy provides a pure-Go [vad.Scorer] that maps frame loudness
// onto a speech probability with a logistic curve. It needs no model files
// and is the default backend when no neural model is configured.
package energy

import (
	"context"
	"math"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Scorer scores frames by RMS level in dBFS.
type Scorer struct {
	midpoint float64 // dBFS mapped to probability 0.5
	width    float64 // dB per logistic unit
}

var _ vad.Scorer = (*Scorer)(nil)

// Option configures a [Scorer].
type Option func(*Scorer)

// WithMidpoint sets the level in dBFS that scores 0.5. The default is -40.
func WithMidpoint(dbfs float64) Option {
	return func(s *Scorer) { s.midpoint = dbfs }
}

// WithWidth sets the steepness of the curve in dB. The default is 4.
func WithWidth(db float64) Option {
	return func(s *Scorer) {
		if db > 0 {
			s.width = db
		}
	}
}

// New returns an energy scorer.
func New(opts ...Option) *Scorer {
	s := &Scorer{midpoint: -40, width: 4}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Score implements [vad.Scorer]. It never fails.
func (s *Scorer) Score(_ context.Context, in vad.Input) (float64, error) {
	level := rms(in.Samples) * float64(in.Gain)
	if level <= 0 {
		return 0, nil
	}
	db := 20 * math.Log10(level)
	return 1 / (1 + math.Exp(-(db-s.midpoint)/s.width)), nil
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
