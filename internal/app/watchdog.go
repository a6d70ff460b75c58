package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/earshot/internal/speech"
)

// Always-listening watchdog timings.
const (
	DefaultWatchdogInterval = 5 * time.Second
	DefaultWatchdogDelay    = 500 * time.Millisecond
	DefaultWatchdogInitial  = time.Second
)

type watchdogTiming struct {
	interval time.Duration // periodic idle check
	delay    time.Duration // between noticing idleness and starting
	initial  time.Duration // first check after boot
}

func defaultWatchdogTiming() watchdogTiming {
	return watchdogTiming{
		interval: DefaultWatchdogInterval,
		delay:    DefaultWatchdogDelay,
		initial:  DefaultWatchdogInitial,
	}
}

// WithWatchdog overrides the always-listening timings. Zero values keep the
// defaults.
func WithWatchdog(interval, delay, initial time.Duration) Option {
	return func(a *App) {
		if interval > 0 {
			a.wd.interval = interval
		}
		if delay > 0 {
			a.wd.delay = delay
		}
		if initial > 0 {
			a.wd.initial = initial
		}
	}
}

// nudge asks the watchdog for an early check. It never blocks.
func (a *App) nudge() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// watch restarts listening whenever the controller sits idle while
// always-listening is on. It returns nil when ctx ends.
func (a *App) watch(ctx context.Context) error {
	initial := time.NewTimer(a.wd.initial)
	defer initial.Stop()
	ticker := time.NewTicker(a.wd.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-initial.C:
		case <-ticker.C:
		case <-a.kick:
		}
		a.maybeListen(ctx)
	}
}

// shouldListen reports whether the watchdog may start a session now.
func (a *App) shouldListen() bool {
	if !a.alwaysListening.Load() || a.paused.Load() {
		return false
	}
	if a.ctrl.Phase() != speech.PhaseIdle {
		return false
	}
	// System speech blocks listening unless the user may talk over it.
	if a.queue.Busy() && !a.ctrl.BargeIn() {
		return false
	}
	return true
}

func (a *App) maybeListen(ctx context.Context) {
	if !a.shouldListen() {
		return
	}

	t := time.NewTimer(a.wd.delay)
	select {
	case <-ctx.Done():
		t.Stop()
		return
	case <-t.C:
	}
	if !a.shouldListen() {
		return
	}

	err := a.ctrl.Start(ctx)
	switch {
	case err == nil:
		slog.Debug("watchdog: listening resumed", "session_id", a.ctrl.Status().SessionID)
	case errors.Is(err, speech.ErrNotIdle), errors.Is(err, speech.ErrClosed), ctx.Err() != nil:
	case errors.Is(err, speech.ErrCaptureUnavailable):
		slog.Warn("watchdog: capture unavailable, retrying on next tick", "err", err)
	default:
		slog.Warn("watchdog: could not start listening", "err", err)
	}
}
