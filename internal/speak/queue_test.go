package speak_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/speak"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/mock"
)

func newQueue(t *testing.T, r audio.Renderer, opts ...speak.Option) *speak.Queue {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	q := speak.New(r, append([]speak.Option{speak.WithMetrics(m)}, opts...)...)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// recorder collects completion callbacks.
type recorder struct {
	mu   sync.Mutex
	done []int
}

func (r *recorder) task(i int, e audio.Emotion) speak.Task {
	return speak.Task{
		Audio:   []byte{byte(i), 0},
		Emotion: e,
		OnComplete: func() {
			r.mu.Lock()
			r.done = append(r.done, i)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) completed() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.done...)
}

func TestQueue_PlaysInOrderOneAtATime(t *testing.T) {
	t.Parallel()
	r := &mock.Renderer{}
	q := newQueue(t, r)
	rec := &recorder{}

	q.CheckSession("resp-1")
	q.Enqueue(rec.task(0, audio.EmotionHappy))
	q.Enqueue(rec.task(1, audio.EmotionSad))
	q.Enqueue(rec.task(2, ""))

	waitFor(t, time.Second, func() bool { return len(rec.completed()) == 3 })

	got := rec.completed()
	for i, v := range got {
		if v != i {
			t.Errorf("completion %d = task %d", i, v)
		}
	}
	clips := r.PlayedClips()
	if clips[0].Emotion != audio.EmotionHappy || clips[2].Emotion != audio.EmotionNeutral {
		t.Errorf("emotions = %q, %q", clips[0].Emotion, clips[2].Emotion)
	}
	if clips[0].SampleRate != speak.DefaultSampleRate || clips[0].Channels != speak.DefaultChannels {
		t.Errorf("default format not applied: %d/%d", clips[0].SampleRate, clips[0].Channels)
	}
	if r.MaxConcurrent() != 1 {
		t.Errorf("max concurrent plays = %d, want 1", r.MaxConcurrent())
	}
}

func TestQueue_InterruptStopsEverything(t *testing.T) {
	t.Parallel()
	r := &mock.Renderer{Block: make(chan struct{})}
	q := newQueue(t, r)
	rec := &recorder{}

	q.CheckSession("resp-1")
	for i := range 3 {
		q.Enqueue(rec.task(i, ""))
	}
	waitFor(t, time.Second, func() bool { return len(r.StartedClips()) == 1 })

	q.Interrupt()

	if q.Len() != 0 {
		t.Errorf("queue length after interrupt = %d", q.Len())
	}
	if q.Speaking() {
		t.Error("speaking flag still raised")
	}
	waitFor(t, time.Second, func() bool { return !q.Busy() })
	time.Sleep(30 * time.Millisecond)

	if got := rec.completed(); len(got) != 0 {
		t.Errorf("completion callbacks fired: %v", got)
	}
	if n := len(r.StartedClips()); n != 1 {
		t.Errorf("tasks started = %d, want 1", n)
	}
}

func TestQueue_NothingPlaysUntilNewSession(t *testing.T) {
	t.Parallel()
	r := &mock.Renderer{}
	q := newQueue(t, r)
	rec := &recorder{}

	q.CheckSession("resp-1")
	q.Interrupt()

	q.Enqueue(rec.task(0, ""))
	q.CheckSession("resp-1") // same session: still silenced
	time.Sleep(50 * time.Millisecond)
	if len(r.StartedClips()) != 0 {
		t.Fatal("task played after interrupt without a new session")
	}

	q.CheckSession("resp-2")
	if q.Len() != 0 {
		t.Errorf("stale task survived session change")
	}
	q.Enqueue(rec.task(1, ""))
	waitFor(t, time.Second, func() bool { return len(rec.completed()) == 1 })
	if got := rec.completed(); got[0] != 1 {
		t.Errorf("played task %d, want 1", got[0])
	}
}

func TestQueue_NewSessionDropsQueuedTasks(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	r := &mock.Renderer{Block: block}
	q := newQueue(t, r)
	rec := &recorder{}

	q.CheckSession("A")
	for i := range 3 {
		q.Enqueue(rec.task(i, ""))
	}
	waitFor(t, time.Second, func() bool { return len(r.StartedClips()) == 1 })
	if q.Len() != 2 {
		t.Fatalf("queued = %d, want 2", q.Len())
	}

	q.CheckSession("B")
	if q.Len() != 0 {
		t.Errorf("queued after session change = %d, want 0", q.Len())
	}
	if !q.Speaking() {
		t.Error("speaking flag lowered by session change")
	}

	q.Enqueue(rec.task(3, ""))
	close(block)
	waitFor(t, time.Second, func() bool { return len(rec.completed()) == 2 })
	time.Sleep(30 * time.Millisecond)

	got := rec.completed()
	if len(got) != 2 || got[0] != 0 || got[1] != 3 {
		t.Errorf("completed = %v, want [0 3]", got)
	}
	if n := len(r.StartedClips()); n != 2 {
		t.Errorf("tasks started = %d, want 2", n)
	}
}

func TestQueue_FailedTaskDoesNotStopQueue(t *testing.T) {
	t.Parallel()
	r := &mock.Renderer{
		PlayErr: func(c audio.Clip) error {
			if c.PCM[0] == 1 {
				return errors.New("device lost")
			}
			return nil
		},
	}
	q := newQueue(t, r)
	rec := &recorder{}

	q.CheckSession("resp-1")
	for i := range 3 {
		q.Enqueue(rec.task(i, ""))
	}
	waitFor(t, time.Second, func() bool { return len(rec.completed()) == 2 })

	if got := rec.completed(); got[0] != 0 || got[1] != 2 {
		t.Errorf("completed = %v, want [0 2]", got)
	}
}

func TestQueue_ReturnsToNeutralWhenIdle(t *testing.T) {
	t.Parallel()
	r := &mock.Renderer{}
	var idle atomic.Int32
	q := newQueue(t, r, speak.WithIdleDelay(30*time.Millisecond), speak.WithOnIdle(func() { idle.Add(1) }))
	rec := &recorder{}

	q.CheckSession("resp-1")
	q.Enqueue(rec.task(0, audio.EmotionAngry))

	waitFor(t, time.Second, func() bool { return idle.Load() == 1 })
	exprs := r.ExpressionLog()
	if len(exprs) == 0 || exprs[len(exprs)-1] != audio.EmotionNeutral {
		t.Errorf("expressions = %v, want trailing neutral", exprs)
	}
}

func TestQueue_NoNeutralWhileNewTaskPlays(t *testing.T) {
	t.Parallel()
	r := &mock.Renderer{}
	var idle atomic.Int32
	q := newQueue(t, r, speak.WithIdleDelay(80*time.Millisecond), speak.WithOnIdle(func() { idle.Add(1) }))
	rec := &recorder{}

	q.CheckSession("resp-1")
	q.Enqueue(rec.task(0, ""))
	waitFor(t, time.Second, func() bool { return len(rec.completed()) == 1 })

	release := make(chan struct{})
	r.SetBlock(release)
	time.Sleep(20 * time.Millisecond)
	q.Enqueue(rec.task(1, ""))

	time.Sleep(150 * time.Millisecond)
	if idle.Load() != 0 {
		t.Fatal("returned to neutral while a task was playing")
	}

	close(release)
	waitFor(t, time.Second, func() bool { return idle.Load() == 1 })
}

func makeWAV(samples []int16, rate int) []byte {
	var b bytes.Buffer
	n := len(samples) * 2
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+n))
	b.WriteString("WAVEfmt ")
	for _, v := range []any{uint32(16), uint16(1), uint16(1), uint32(rate), uint32(rate * 2), uint16(2), uint16(16)} {
		binary.Write(&b, binary.LittleEndian, v)
	}
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(n))
	binary.Write(&b, binary.LittleEndian, samples)
	return b.Bytes()
}

func TestQueue_DecodesWAVTasks(t *testing.T) {
	t.Parallel()
	r := &mock.Renderer{}
	q := newQueue(t, r)
	rec := &recorder{}

	q.CheckSession("resp-1")
	bad := rec.task(0, "")
	bad.NeedsDecode = true
	q.Enqueue(bad)

	good := rec.task(1, audio.EmotionRelaxed)
	good.Audio = makeWAV([]int16{100, 200, 300}, 16000)
	good.NeedsDecode = true
	q.Enqueue(good)

	waitFor(t, time.Second, func() bool { return len(rec.completed()) == 1 })
	clips := r.PlayedClips()
	if len(clips) != 1 {
		t.Fatalf("played %d clips, want 1", len(clips))
	}
	if clips[0].SampleRate != 16000 || len(clips[0].PCM) != 6 {
		t.Errorf("decoded clip = %d Hz, %d bytes", clips[0].SampleRate, len(clips[0].PCM))
	}
	if clips[0].Emotion != audio.EmotionRelaxed {
		t.Errorf("emotion = %q", clips[0].Emotion)
	}
}
