// Package speak serialises synthesized speech into a single playback stream.
//
// A [Queue] plays [Task] values strictly in arrival order, one at a time,
// through an [audio.Renderer]. Playback is gated by a speaking flag that is
// raised when a new response session begins ([Queue.CheckSession]) and
// dropped by [Queue.Interrupt]; tasks queued while the flag is down never
// play. Shortly after the queue drains, the renderer is returned to its
// neutral expression.
package speak

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
)

// DefaultIdleDelay is how long the queue must stay empty before the
// renderer is returned to neutral.
const DefaultIdleDelay = 1500 * time.Millisecond

// Default PCM format assumed for tasks that do not specify one.
const (
	DefaultSampleRate = 24000
	DefaultChannels   = 1
)

// Task is one unit of synthesized speech.
type Task struct {
	// Audio is raw PCM16 LE, or an encoded WAV file when NeedsDecode is set.
	Audio []byte

	// Emotion is shown by the renderer while the task plays.
	Emotion audio.Emotion

	// NeedsDecode marks Audio as a WAV container.
	NeedsDecode bool

	// SampleRate and Channels describe raw PCM payloads. Zero values mean
	// [DefaultSampleRate] and [DefaultChannels].
	SampleRate int
	Channels   int

	// OnComplete, if set, is called after the task played to the end. It is
	// not called for tasks that failed or were interrupted.
	OnComplete func()
}

// Decoder turns an encoded payload into a playable clip.
type Decoder func(data []byte) (audio.Clip, error)

// Option configures a [Queue].
type Option func(*Queue)

// WithIdleDelay sets the neutral-return delay. The default is
// [DefaultIdleDelay].
func WithIdleDelay(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.idleDelay = d
		}
	}
}

// WithOnIdle registers a callback run when the queue returns to neutral.
func WithOnIdle(fn func()) Option {
	return func(q *Queue) { q.onIdle = fn }
}

// WithDecoder replaces the payload decoder. The default is [audio.DecodeWAV].
func WithDecoder(d Decoder) Option {
	return func(q *Queue) { q.decode = d }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue is safe for concurrent use. A single background goroutine consumes
// tasks, so at most one task renders at any instant.
type Queue struct {
	renderer  audio.Renderer
	decode    Decoder
	metrics   *observe.Metrics
	idleDelay time.Duration
	onIdle    func()

	mu         sync.Mutex
	tasks      []Task
	processing bool
	speaking   bool
	sessionID  string
	gen        uint64             // bumped by Interrupt; fences in-flight tasks
	cancelPlay context.CancelFunc // cancels the task being rendered
	idleTimer  *time.Timer
	closed     bool

	notify chan struct{}
	done   chan struct{}
}

// New returns a queue rendering through r and starts its consumer goroutine.
// Call [Queue.Close] to stop it.
func New(r audio.Renderer, opts ...Option) *Queue {
	q := &Queue{
		renderer:  r,
		decode:    audio.DecodeWAV,
		idleDelay: DefaultIdleDelay,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	if q.metrics == nil {
		q.metrics = observe.DefaultMetrics()
	}
	go q.run()
	return q
}

// Enqueue appends t and wakes the consumer.
func (q *Queue) Enqueue(t Task) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
	q.metrics.QueueDepth.Add(context.Background(), 1)

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Interrupt stops the task being rendered, drops everything queued and
// lowers the speaking flag. No task can start again until a new session is
// announced through [Queue.CheckSession].
func (q *Queue) Interrupt() {
	q.mu.Lock()
	q.gen++
	if q.cancelPlay != nil {
		q.cancelPlay()
		q.cancelPlay = nil
	}
	dropped := q.clearLocked()
	q.processing = false
	q.speaking = false
	q.stopIdleLocked()
	q.mu.Unlock()

	q.renderer.StopCurrent()
	q.recordDropped(dropped)
	slog.Debug("speak: interrupted", "dropped", dropped)
}

// CheckSession announces the response session subsequent tasks belong to.
// A new id drops tasks left over from the previous session and raises the
// speaking flag; repeating the current id changes nothing.
func (q *Queue) CheckSession(id string) {
	q.mu.Lock()
	if id == q.sessionID {
		q.mu.Unlock()
		return
	}
	q.sessionID = id
	dropped := q.clearLocked()
	q.speaking = true
	q.mu.Unlock()

	q.recordDropped(dropped)
	slog.Debug("speak: new session", "session_id", id, "dropped", dropped)

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Speaking reports the speaking flag.
func (q *Queue) Speaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.speaking
}

// Busy reports whether a task is rendering or waiting to render.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing || (q.speaking && len(q.tasks) > 0)
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// SessionID returns the current response session.
func (q *Queue) SessionID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sessionID
}

// Close interrupts playback, cancels the pending neutral return and stops
// the consumer. Close is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.Interrupt()
	close(q.done)
	return nil
}

// clearLocked empties the queue and returns how many tasks were dropped.
// Must be called with q.mu held.
func (q *Queue) clearLocked() int {
	n := len(q.tasks)
	q.tasks = nil
	return n
}

func (q *Queue) recordDropped(n int) {
	if n == 0 {
		return
	}
	ctx := context.Background()
	q.metrics.QueueDepth.Add(ctx, int64(-n))
	for range n {
		q.metrics.RecordSpeakTask(ctx, "dropped", 0)
	}
}

// run is the consumer goroutine. It runs until [Queue.Close].
func (q *Queue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}
		if q.drain() {
			q.scheduleIdle()
		}
	}
}

// drain plays tasks until the queue is empty or the speaking flag drops.
// It reports whether anything was attempted.
func (q *Queue) drain() bool {
	q.mu.Lock()
	if len(q.tasks) == 0 || !q.speaking || q.closed {
		q.mu.Unlock()
		return false
	}
	q.processing = true
	q.stopIdleLocked()
	q.mu.Unlock()

	for {
		q.mu.Lock()
		if !q.speaking {
			dropped := q.clearLocked()
			q.processing = false
			q.mu.Unlock()
			q.recordDropped(dropped)
			return true
		}
		if len(q.tasks) == 0 {
			q.processing = false
			q.mu.Unlock()
			return true
		}
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		gen := q.gen
		ctx, cancel := context.WithCancel(context.Background())
		q.cancelPlay = cancel
		q.mu.Unlock()

		q.metrics.QueueDepth.Add(ctx, -1)
		start := time.Now()
		err := q.play(ctx, t)
		elapsed := time.Since(start)

		q.mu.Lock()
		interrupted := q.gen != gen
		if !interrupted {
			q.cancelPlay = nil
		}
		q.mu.Unlock()
		cancel()

		switch {
		case interrupted:
			q.metrics.RecordSpeakTask(context.Background(), "interrupted", elapsed)
		case err != nil:
			slog.Error("speak: playback failed", "err", err, "emotion", t.Emotion)
			q.metrics.RecordSpeakTask(context.Background(), "failed", elapsed)
		default:
			q.metrics.RecordSpeakTask(context.Background(), "completed", elapsed)
			if t.OnComplete != nil {
				t.OnComplete()
			}
		}
	}
}

func (q *Queue) play(ctx context.Context, t Task) error {
	var clip audio.Clip
	if t.NeedsDecode {
		var err error
		if clip, err = q.decode(t.Audio); err != nil {
			return err
		}
	} else {
		clip = audio.Clip{
			PCM:        t.Audio,
			SampleRate: t.SampleRate,
			Channels:   t.Channels,
		}
		if clip.SampleRate <= 0 {
			clip.SampleRate = DefaultSampleRate
		}
		if clip.Channels <= 0 {
			clip.Channels = DefaultChannels
		}
	}
	clip.Emotion = t.Emotion
	if clip.Emotion == "" {
		clip.Emotion = audio.EmotionNeutral
	}
	return q.renderer.Play(ctx, clip)
}

// scheduleIdle arms the neutral return. The check fires only if the queue
// was empty when armed and is still empty and idle when the delay elapses.
func (q *Queue) scheduleIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.stopIdleLocked()
	initialLen := len(q.tasks)
	q.idleTimer = time.AfterFunc(q.idleDelay, func() {
		q.mu.Lock()
		ok := initialLen == 0 && len(q.tasks) == 0 && !q.processing && !q.closed
		q.mu.Unlock()
		if !ok {
			return
		}
		if ex, isExp := q.renderer.(audio.Expresser); isExp {
			ex.SetExpression(audio.EmotionNeutral)
		}
		if q.onIdle != nil {
			q.onIdle()
		}
	})
}

// stopIdleLocked cancels a pending neutral return. Must be called with q.mu
// held.
func (q *Queue) stopIdleLocked() {
	if q.idleTimer != nil {
		q.idleTimer.Stop()
		q.idleTimer = nil
	}
}
