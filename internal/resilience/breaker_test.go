package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
)

var errBackend = errors.New("backend down")

// fakeClock is advanced manually by tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(max int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: max, Cooldown: cooldown})
	b.now = clk.now
	return b, clk
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{})
	if b.maxFailures != DefaultMaxFailures {
		t.Errorf("maxFailures = %d, want %d", b.maxFailures, DefaultMaxFailures)
	}
	if b.cooldown != DefaultCooldown {
		t.Errorf("cooldown = %v, want %v", b.cooldown, DefaultCooldown)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3, time.Minute)

	for i := range 3 {
		if err := b.Do(fail); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: err = %v, want backend error", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Error("open breaker must not call fn")
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3, time.Minute)

	_ = b.Do(fail)
	_ = b.Do(fail)
	_ = b.Do(succeed)
	_ = b.Do(fail)
	_ = b.Do(fail)

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		probe func() error
		want  State
	}{
		{name: "probe succeeds", probe: succeed, want: StateClosed},
		{name: "probe fails", probe: fail, want: StateOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b, clk := newTestBreaker(1, time.Minute)
			_ = b.Do(fail)

			clk.advance(time.Minute)
			if b.State() != StateHalfOpen {
				t.Fatalf("state = %v, want half-open", b.State())
			}
			_ = b.Do(tc.probe)
			if b.State() != tc.want {
				t.Errorf("state = %v, want %v", b.State(), tc.want)
			}
		})
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	t.Parallel()
	b, clk := newTestBreaker(1, time.Minute)
	_ = b.Do(fail)
	clk.advance(time.Minute)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := b.Do(succeed); !errors.Is(err, ErrOpen) {
		t.Errorf("concurrent call during probe: err = %v, want ErrOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(1, time.Hour)
	_ = b.Do(fail)
	b.Reset()
	if err := b.Do(succeed); err != nil {
		t.Errorf("after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

// ─── Recognizer ──────────────────────────────────────────────────────────────

func TestGuardRecognizer_FailsFastWhenOpen(t *testing.T) {
	t.Parallel()
	p := &sttmock.Provider{StartStreamErr: errBackend}
	b, _ := newTestBreaker(2, time.Minute)
	r := GuardRecognizer(p, b)

	for range 2 {
		if _, err := r.StartStream(context.Background(), stt.StreamConfig{}); !errors.Is(err, errBackend) {
			t.Fatalf("err = %v, want backend error", err)
		}
	}
	if _, err := r.StartStream(context.Background(), stt.StreamConfig{}); !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
	if got := p.CallCount(); got != 2 {
		t.Errorf("backend calls = %d, want 2", got)
	}
}

func TestGuardRecognizer_PassesStreams(t *testing.T) {
	t.Parallel()
	sess := sttmock.NewSession()
	p := &sttmock.Provider{Session: sess}
	r := GuardRecognizer(p, NewBreaker(BreakerConfig{Name: "recognizer"}))

	cfg := stt.StreamConfig{SampleRate: 16000, Channels: 1}
	h, err := r.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if h != stt.SessionHandle(sess) {
		t.Error("handle should be the backend session")
	}
	if got := p.StartStreamCalls[0].Cfg; got.SampleRate != 16000 {
		t.Errorf("forwarded config = %+v", got)
	}
}

func TestGuardRecognizer_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &sttmock.Provider{StartStreamErr: context.Canceled}
	b, _ := newTestBreaker(1, time.Minute)
	r := GuardRecognizer(p, b)

	if _, err := r.StartStream(ctx, stt.StreamConfig{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}
