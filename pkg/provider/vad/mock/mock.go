// Package mock provides a test double for the [vad.Scorer] interface.
//
// Use Scorer to script probabilities and errors and to inspect the frames
// that were submitted for scoring.
//
// Example:
//
//	sc := &mock.Scorer{Results: []float64{0.1, 0.9, 0.9}}
//	p, _ := sc.Score(ctx, in) // 0.1
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Scorer is a mock implementation of [vad.Scorer].
type Scorer struct {
	mu sync.Mutex

	// Results is consumed in order, one value per Score call. Once exhausted
	// the last value is repeated (or Default when Results is empty).
	Results []float64

	// Default is returned when Results is empty.
	Default float64

	// Err, if non-nil, is returned by every Score call.
	Err error

	// Gate, if non-nil, is received from before Score returns. Tests use it
	// to hold an inference call in flight.
	Gate chan struct{}

	// Entered, if non-nil, receives a value each time Score starts.
	Entered chan struct{}

	// Calls records every Input passed to Score.
	Calls []vad.Input

	next int
}

var _ vad.Scorer = (*Scorer)(nil)

// Score implements [vad.Scorer].
func (s *Scorer) Score(ctx context.Context, in vad.Input) (float64, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, in)
	gate := s.Gate
	entered := s.Entered
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	if len(s.Results) == 0 {
		return s.Default, nil
	}
	i := min(s.next, len(s.Results)-1)
	s.next++
	return s.Results[i], nil
}

// SetErr replaces Err under the lock.
func (s *Scorer) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

// SetDefault replaces Default and clears any scripted Results.
func (s *Scorer) SetDefault(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results = nil
	s.Default = p
}

// CallCount returns the number of Score calls.
func (s *Scorer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
