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

var (
	// ErrSourceStarted is returned by [Source.Start] when capture is already active.
	ErrSourceStarted = errors.New("audio: source already started")

	// ErrSourceClosed is returned by [Source.Start] once the underlying device
	// or stream is gone.
	ErrSourceClosed = errors.New("audio: source closed")
)

// Source is a capture device. Start acquires the device and returns a channel
// of frames that is closed when capture ends; Stop releases it.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Start begins delivering frames. It fails when the device cannot be
	// acquired (permission denied, missing device, exhausted stream).
	Start(ctx context.Context) (<-chan Frame, error)

	// Stop ends capture and closes the channel returned by Start. Calling Stop
	// on an idle source is a no-op.
	Stop() error
}

// ReaderSource captures signed 16-bit little-endian interleaved PCM from an
// [io.Reader] such as a pipe from arecord or ffmpeg. The reader is drained
// continuously in the background; frames are only delivered while a capture
// is active, everything else is discarded.
type ReaderSource struct {
	r          io.Reader
	sampleRate int
	channels   int
	chunk      int // samples per channel per frame

	readOnce sync.Once

	mu      sync.Mutex
	out     chan Frame
	closed  bool
	readErr error
	dropped int
}

var _ Source = (*ReaderSource)(nil)

// ReaderSourceOption configures a [ReaderSource].
type ReaderSourceOption func(*ReaderSource)

// WithChunkSamples sets the number of samples per channel in each delivered
// frame. The default is 1024.
func WithChunkSamples(n int) ReaderSourceOption {
	return func(s *ReaderSource) {
		if n > 0 {
			s.chunk = n
		}
	}
}

// NewReaderSource returns a source reading PCM16 at sampleRate with the
// given interleaved channel count from r.
func NewReaderSource(r io.Reader, sampleRate, channels int, opts ...ReaderSourceOption) *ReaderSource {
	s := &ReaderSource{
		r:          r,
		sampleRate: sampleRate,
		channels:   max(channels, 1),
		chunk:      1024,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start implements [Source].
func (s *ReaderSource) Start(_ context.Context) (<-chan Frame, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrSourceClosed, s.readErr)
	}
	if s.out != nil {
		s.mu.Unlock()
		return nil, ErrSourceStarted
	}
	out := make(chan Frame, 64)
	s.out = out
	s.mu.Unlock()

	s.readOnce.Do(func() { go s.readLoop() })
	return out, nil
}

// Stop implements [Source].
func (s *ReaderSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	return nil
}

func (s *ReaderSource) readLoop() {
	buf := make([]byte, s.chunk*s.channels*2)
	var ts time.Duration
	for {
		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			samples := DecodePCM16(buf[:n-n%(2*s.channels)])
			f := Frame{Samples: samples, SampleRate: s.sampleRate, Channels: s.channels, Timestamp: ts}
			ts += f.Duration()
			s.deliver(f)
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			s.fail(err)
			return
		}
	}
}

func (s *ReaderSource) deliver(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return
	}
	select {
	case s.out <- f:
	default:
		s.dropped++
		if s.dropped == 1 || s.dropped%100 == 0 {
			slog.Warn("audio source: consumer too slow, dropping frames", "dropped", s.dropped)
		}
	}
}

func (s *ReaderSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slog.Info("audio source: capture stream ended", "err", err)
	s.closed = true
	s.readErr = err
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
}
