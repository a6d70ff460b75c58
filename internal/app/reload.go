package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/earshot/internal/config"
)

// reloadTimeout bounds a pre-roll triggered session restart.
const reloadTimeout = 5 * time.Second

// Reload applies the live settings of new to the running pipeline. It is
// the config watcher callback; sections that need a restart are only logged.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)

	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()

	if len(d.RestartRequired) > 0 {
		slog.Warn("config: some changes take effect after a restart", "sections", d.RestartRequired)
	}
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("config: log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdsChanged {
		a.engine.SetThresholds(new.VAD.Thresholds())
		slog.Info("config: vad thresholds changed",
			"speech", new.VAD.SpeechThreshold,
			"silence", new.VAD.SilenceThreshold,
		)
	}
	if d.AutoSubmitChanged {
		a.ctrl.SetAutoSubmit(new.Listen.AutoSubmitTimeout)
		slog.Info("config: auto-submit timeout changed", "timeout", new.Listen.AutoSubmitTimeout)
	}
	if d.BargeInChanged {
		a.ctrl.SetBargeIn(new.Listen.BargeIn)
		slog.Info("config: barge-in changed", "enabled", new.Listen.BargeIn)
	}
	if d.ContentTypeChanged {
		a.ctrl.SetMode(new.Realtime.ContentType.Mode())
		slog.Info("config: content type changed", "content_type", new.Realtime.ContentType)
	}
	if d.PreRollChanged {
		ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
		err := a.ctrl.SetPreRoll(ctx, new.Listen.PreRoll.Enabled, new.Listen.PreRoll.Duration)
		cancel()
		if err != nil {
			slog.Warn("config: pre-roll restart failed", "err", err)
		} else {
			slog.Info("config: pre-roll changed",
				"enabled", new.Listen.PreRoll.Enabled,
				"duration", new.Listen.PreRoll.Duration,
			)
		}
	}
	if d.AlwaysListenChanged {
		a.alwaysListening.Store(new.Listen.AlwaysListening)
		slog.Info("config: always-listening changed", "enabled", new.Listen.AlwaysListening)
		if new.Listen.AlwaysListening {
			a.nudge()
		}
	}
}
