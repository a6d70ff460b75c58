package audio

import (
	"sync"
	"time"
)

// Pre-roll duration bounds. Requested durations are clamped into this range.
const (
	MinPreRoll = 100 * time.Millisecond
	MaxPreRoll = 3000 * time.Millisecond
)

// ClampPreRoll bounds d to [MinPreRoll, MaxPreRoll].
func ClampPreRoll(d time.Duration) time.Duration {
	return min(max(d, MinPreRoll), MaxPreRoll)
}

// PreRoll is a bounded ring of the most recent mono samples captured before
// speech was confirmed, so an utterance does not lose its leading syllable.
// It is safe for concurrent use.
type PreRoll struct {
	mu       sync.Mutex
	enabled  bool
	duration time.Duration
	rate     int
	buf      []float32
	head     int // next write position
	full     bool
}

// NewPreRoll returns a pre-roll buffer holding duration of audio at
// sampleRate. The duration is clamped with [ClampPreRoll].
func NewPreRoll(enabled bool, duration time.Duration, sampleRate int) *PreRoll {
	p := &PreRoll{}
	p.configure(enabled, duration, sampleRate)
	return p
}

func (p *PreRoll) configure(enabled bool, duration time.Duration, sampleRate int) {
	p.enabled = enabled
	p.duration = ClampPreRoll(duration)
	p.rate = sampleRate
	n := 0
	if enabled && sampleRate > 0 {
		n = int(p.duration * time.Duration(sampleRate) / time.Second)
	}
	p.buf = make([]float32, n)
	p.head = 0
	p.full = false
}

// Reconfigure replaces the buffer settings and discards any buffered audio.
// It reports whether the settings actually changed.
func (p *PreRoll) Reconfigure(enabled bool, duration time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	duration = ClampPreRoll(duration)
	if enabled == p.enabled && duration == p.duration {
		return false
	}
	p.configure(enabled, duration, p.rate)
	return true
}

// Enabled reports whether the buffer retains audio.
func (p *PreRoll) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Duration returns the configured (clamped) buffer length.
func (p *PreRoll) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// SampleRate returns the rate the buffer was sized for.
func (p *PreRoll) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// Write appends samples, overwriting the oldest audio once full. It is a
// no-op while the buffer is disabled.
func (p *PreRoll) Write(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	size := len(p.buf)
	if size == 0 {
		return
	}
	if len(samples) >= size {
		copy(p.buf, samples[len(samples)-size:])
		p.head = 0
		p.full = true
		return
	}
	n := copy(p.buf[p.head:], samples)
	if n < len(samples) {
		copy(p.buf, samples[n:])
	}
	next := p.head + len(samples)
	if next >= size {
		p.full = true
	}
	p.head = next % size
}

// Snapshot returns the buffered samples in capture order.
func (p *PreRoll) Snapshot() []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.full {
		return append([]float32(nil), p.buf[:p.head]...)
	}
	out := make([]float32, 0, len(p.buf))
	out = append(out, p.buf[p.head:]...)
	return append(out, p.buf[:p.head]...)
}

// Reset discards buffered audio without changing the settings.
func (p *PreRoll) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.buf)
	p.head = 0
	p.full = false
}
