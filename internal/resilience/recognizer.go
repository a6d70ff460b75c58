package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// Recognizer wraps an [stt.Provider] so stream starts go through a [Breaker].
// Open streams are not affected.
type Recognizer struct {
	p stt.Provider
	b *Breaker
}

var _ stt.Provider = (*Recognizer)(nil)

// GuardRecognizer returns p guarded by b.
func GuardRecognizer(p stt.Provider, b *Breaker) *Recognizer {
	return &Recognizer{p: p, b: b}
}

// StartStream implements [stt.Provider]. Cancellation of ctx does not count
// as a backend failure.
func (r *Recognizer) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	var h stt.SessionHandle
	var cancelled error
	err := r.b.Do(func() error {
		var err error
		h, err = r.p.StartStream(ctx, cfg)
		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			cancelled = err
			return nil
		}
		return err
	})
	if cancelled != nil {
		return nil, cancelled
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Breaker returns the guarding breaker.
func (r *Recognizer) Breaker() *Breaker { return r.b }
