package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ErrPlaybackStopped is returned by [Renderer.Play] when playback was cut
// short by [Renderer.StopCurrent].
var ErrPlaybackStopped = errors.New("audio: playback stopped")

// Renderer plays synthesized clips. Play blocks until the clip finished,
// failed, or was cancelled through ctx or StopCurrent.
//
// Implementations must be safe for concurrent use, but callers are expected
// to play one clip at a time.
type Renderer interface {
	Play(ctx context.Context, clip Clip) error
	StopCurrent()
}

// Expresser is implemented by renderers that show an expression alongside
// the audio (an avatar, a status LED). Callers type-assert for it.
type Expresser interface {
	SetExpression(e Emotion)
}

// WriterRenderer writes clips as raw PCM16 to an [io.Writer] (a pipe into
// aplay, ffplay, a sound server socket) in real-time paced slices, so that
// stopping takes effect within one slice.
type WriterRenderer struct {
	w          io.Writer
	sampleRate int
	channels   int
	slice      time.Duration
	paced      bool

	mu         sync.Mutex
	seq        uint64
	cancel     context.CancelFunc
	expression Emotion
}

var (
	_ Renderer  = (*WriterRenderer)(nil)
	_ Expresser = (*WriterRenderer)(nil)
)

// WriterRendererOption configures a [WriterRenderer].
type WriterRendererOption func(*WriterRenderer)

// WithSlice sets the pacing granularity. The default is 20 ms.
func WithSlice(d time.Duration) WriterRendererOption {
	return func(r *WriterRenderer) {
		if d > 0 {
			r.slice = d
		}
	}
}

// WithPacing toggles real-time pacing. Unpaced renderers write as fast as
// the writer accepts data.
func WithPacing(paced bool) WriterRendererOption {
	return func(r *WriterRenderer) { r.paced = paced }
}

// NewWriterRenderer returns a renderer emitting PCM16 at sampleRate and
// channels to w. Clips in other formats are converted first.
func NewWriterRenderer(w io.Writer, sampleRate, channels int, opts ...WriterRendererOption) *WriterRenderer {
	r := &WriterRenderer{
		w:          w,
		sampleRate: sampleRate,
		channels:   max(channels, 1),
		slice:      20 * time.Millisecond,
		paced:      true,
		expression: EmotionNeutral,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Play implements [Renderer].
func (r *WriterRenderer) Play(ctx context.Context, clip Clip) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.seq++
	id := r.seq
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		if r.seq == id {
			r.cancel = nil
		}
		r.mu.Unlock()
	}()

	if clip.Emotion != "" {
		r.SetExpression(clip.Emotion)
	}

	clip = ConvertClip(clip, r.sampleRate, r.channels)
	step := int(r.slice*time.Duration(r.sampleRate)/time.Second) * r.channels * 2
	step = max(step, 2*r.channels)

	start := time.Now()
	var written time.Duration
	for off := 0; off < len(clip.PCM); off += step {
		if err := ctx.Err(); err != nil {
			return stopCause(err)
		}
		end := min(off+step, len(clip.PCM))
		if _, err := r.w.Write(clip.PCM[off:end]); err != nil {
			return fmt.Errorf("audio: write playback: %w", err)
		}
		written += time.Duration((end-off)/(2*r.channels)) * time.Second / time.Duration(r.sampleRate)
		if !r.paced {
			continue
		}
		wait := time.Until(start.Add(written))
		if wait <= 0 {
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return stopCause(ctx.Err())
		case <-t.C:
		}
	}
	return nil
}

// stopCause maps the cancellation of Play's private context onto
// [ErrPlaybackStopped] while keeping caller deadlines visible.
func stopCause(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ErrPlaybackStopped
}

// StopCurrent implements [Renderer].
func (r *WriterRenderer) StopCurrent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// SetExpression implements [Expresser].
func (r *WriterRenderer) SetExpression(e Emotion) {
	r.mu.Lock()
	prev := r.expression
	r.expression = e
	r.mu.Unlock()
	if prev != e {
		slog.Debug("renderer: expression changed", "from", prev, "to", e)
	}
}

// Expression returns the expression currently shown.
func (r *WriterRenderer) Expression() Emotion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expression
}
