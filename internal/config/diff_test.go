package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no live changes, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart sections, got %v", d.RestartRequired)
	}
}

func TestDiff_LiveFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.ConfigDiff) bool
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check:  func(d config.ConfigDiff) bool { return d.LogLevelChanged && d.NewLogLevel == config.LogDebug },
		},
		{
			name:   "speech threshold",
			mutate: func(c *config.Config) { c.VAD.SpeechThreshold = 0.7 },
			check:  func(d config.ConfigDiff) bool { return d.ThresholdsChanged },
		},
		{
			name:   "silence threshold",
			mutate: func(c *config.Config) { c.VAD.SilenceThreshold = 0.1 },
			check:  func(d config.ConfigDiff) bool { return d.ThresholdsChanged },
		},
		{
			name:   "auto submit",
			mutate: func(c *config.Config) { c.Listen.AutoSubmitTimeout = 0 },
			check:  func(d config.ConfigDiff) bool { return d.AutoSubmitChanged },
		},
		{
			name:   "barge in",
			mutate: func(c *config.Config) { c.Listen.BargeIn = false },
			check:  func(d config.ConfigDiff) bool { return d.BargeInChanged },
		},
		{
			name:   "always listening",
			mutate: func(c *config.Config) { c.Listen.AlwaysListening = false },
			check:  func(d config.ConfigDiff) bool { return d.AlwaysListenChanged },
		},
		{
			name:   "preroll duration",
			mutate: func(c *config.Config) { c.Listen.PreRoll.Duration = time.Second },
			check:  func(d config.ConfigDiff) bool { return d.PreRollChanged },
		},
		{
			name:   "preroll toggle",
			mutate: func(c *config.Config) { c.Listen.PreRoll.Enabled = false },
			check:  func(d config.ConfigDiff) bool { return d.PreRollChanged },
		},
		{
			name:   "content type",
			mutate: func(c *config.Config) { c.Realtime.ContentType = config.ContentText },
			check:  func(d config.ConfigDiff) bool { return d.ContentTypeChanged && len(d.RestartRequired) == 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			new := config.Default()
			tt.mutate(new)

			d := config.Diff(old, new)
			if !d.Changed() {
				t.Fatal("expected Changed()=true")
			}
			if !tt.check(d) {
				t.Errorf("unexpected diff: %+v", d)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":1234"
	new.Audio.InputSampleRate = 16000
	new.VAD.Scorer = "silero"
	new.Realtime.Voice = "verse"
	new.Recognizer.Keywords = []config.KeywordConfig{{Keyword: "Eldrinax", Boost: 2}}
	new.Journal.PostgresDSN = "postgres://localhost/earshot"

	d := config.Diff(old, new)
	if d.Changed() {
		t.Errorf("restart-only changes should not count as live: %+v", d)
	}
	want := []string{"server", "audio", "vad", "realtime", "recognizer", "journal"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
}

func TestDiff_KeywordBoostChange(t *testing.T) {
	t.Parallel()
	old := config.Default()
	old.Recognizer.Keywords = []config.KeywordConfig{{Keyword: "Eldrinax", Boost: 2}}
	new := config.Default()
	new.Recognizer.Keywords = []config.KeywordConfig{{Keyword: "Eldrinax", Boost: 3}}

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartRequired, "recognizer") {
		t.Errorf("expected recognizer restart, got %v", d.RestartRequired)
	}
}
