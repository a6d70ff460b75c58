// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.Renderer] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{}
//	frames, _ := src.Start(ctx)
//	src.Push(audio.Frame{Samples: speech, SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Frames are injected with
// [Source.Push] while a capture is active.
type Source struct {
	mu sync.Mutex

	// StartErr is returned by Start when non-nil.
	StartErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	out chan audio.Frame
}

var _ audio.Source = (*Source)(nil)

// Start implements [audio.Source].
func (s *Source) Start(_ context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	if s.out != nil {
		return nil, audio.ErrSourceStarted
	}
	s.out = make(chan audio.Frame, 256)
	return s.out, nil
}

// Stop implements [audio.Source].
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	return nil
}

// Active reports whether a capture is in progress.
func (s *Source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out != nil
}

// Push delivers f to the active capture. It reports false when no capture
// is active.
func (s *Source) Push(f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return false
	}
	s.out <- f
	return true
}

// Starts returns the number of Start calls.
func (s *Source) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStart
}

// Stops returns the number of Stop calls.
func (s *Source) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop
}

// ─── Renderer ─────────────────────────────────────────────────────────────────

// Renderer is a mock implementation of [audio.Renderer] and [audio.Expresser].
type Renderer struct {
	mu sync.Mutex

	// PlayErr, when non-nil, is consulted for every Play call. Returning a
	// non-nil error fails that call.
	PlayErr func(clip audio.Clip) error

	// Block makes Play wait until the channel is closed (or a value is
	// received), ctx is done, or StopCurrent is called.
	Block chan struct{}

	// Played records every clip whose Play call completed without error.
	Played []audio.Clip

	// Started records every clip passed to Play, in order.
	Started []audio.Clip

	// Expressions records every SetExpression argument.
	Expressions []audio.Emotion

	// CallCountStopCurrent records how many times StopCurrent was called.
	CallCountStopCurrent int

	playing int
	maxPar  int
	stop    chan struct{}
}

var (
	_ audio.Renderer  = (*Renderer)(nil)
	_ audio.Expresser = (*Renderer)(nil)
)

// Play implements [audio.Renderer].
func (r *Renderer) Play(ctx context.Context, clip audio.Clip) error {
	r.mu.Lock()
	r.Started = append(r.Started, clip)
	r.playing++
	r.maxPar = max(r.maxPar, r.playing)
	if r.stop == nil {
		r.stop = make(chan struct{})
	}
	stop := r.stop
	block := r.Block
	failFn := r.PlayErr
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.playing--
		r.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return audio.ErrPlaybackStopped
		case <-stop:
			return audio.ErrPlaybackStopped
		}
	}
	if failFn != nil {
		if err := failFn(clip); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.Played = append(r.Played, clip)
	r.mu.Unlock()
	return nil
}

// SetBlock replaces Block under the lock.
func (r *Renderer) SetBlock(ch chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Block = ch
}

// SetPlayErr replaces PlayErr under the lock.
func (r *Renderer) SetPlayErr(fn func(clip audio.Clip) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PlayErr = fn
}

// StopCurrent implements [audio.Renderer].
func (r *Renderer) StopCurrent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStopCurrent++
	if r.stop != nil {
		close(r.stop)
	}
	r.stop = make(chan struct{})
}

// SetExpression implements [audio.Expresser].
func (r *Renderer) SetExpression(e audio.Emotion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Expressions = append(r.Expressions, e)
}

// PlayedClips returns a copy of the successfully played clips.
func (r *Renderer) PlayedClips() []audio.Clip {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audio.Clip(nil), r.Played...)
}

// StartedClips returns a copy of every clip passed to Play.
func (r *Renderer) StartedClips() []audio.Clip {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audio.Clip(nil), r.Started...)
}

// ExpressionLog returns a copy of the recorded expressions.
func (r *Renderer) ExpressionLog() []audio.Emotion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audio.Emotion(nil), r.Expressions...)
}

// MaxConcurrent returns the highest number of overlapping Play calls seen.
func (r *Renderer) MaxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxPar
}
