package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Pre-roll bounds accepted by [Validate].
const (
	MinPreRoll = 100 * time.Millisecond
	MaxPreRoll = 3000 * time.Millisecond
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"scorer":     {"energy"},
	"recognizer": {"deepgram"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	a := cfg.Audio
	if a.InputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate must be positive, got %d", a.InputSampleRate))
	}
	if a.OutputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate must be positive, got %d", a.OutputSampleRate))
	}
	if a.InputChannels != 1 && a.InputChannels != 2 {
		errs = append(errs, fmt.Errorf("audio.input_channels must be 1 or 2, got %d", a.InputChannels))
	}
	if a.OutputChannels != 1 && a.OutputChannels != 2 {
		errs = append(errs, fmt.Errorf("audio.output_channels must be 1 or 2, got %d", a.OutputChannels))
	}
	if a.ChunkSamples <= 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_samples must be positive, got %d", a.ChunkSamples))
	}
	if a.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples must be positive, got %d", a.FrameSamples))
	}

	// VAD
	v := cfg.VAD
	if v.Scorer == "" {
		errs = append(errs, errors.New("vad.scorer is required"))
	}
	validateProviderName("scorer", v.Scorer)
	if v.SpeechThreshold < 0 || v.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.2f is out of range [0, 1]", v.SpeechThreshold))
	}
	if v.SilenceThreshold < 0 || v.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.2f is out of range [0, 1]", v.SilenceThreshold))
	}
	if v.SpeechThreshold < v.SilenceThreshold {
		errs = append(errs, fmt.Errorf("vad.speech_threshold %.2f must not be below vad.silence_threshold %.2f", v.SpeechThreshold, v.SilenceThreshold))
	}
	if v.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("vad.history_size must not be negative, got %d", v.HistorySize))
	}
	if v.Smoothing < 0 || v.Smoothing > 1 {
		errs = append(errs, fmt.Errorf("vad.smoothing %.2f is out of range [0, 1]", v.Smoothing))
	}

	// Listen
	l := cfg.Listen
	if l.AutoSubmitTimeout < 0 {
		errs = append(errs, fmt.Errorf("listen.auto_submit_timeout must not be negative, got %s", l.AutoSubmitTimeout))
	}
	if l.PreRoll.Enabled && (l.PreRoll.Duration < MinPreRoll || l.PreRoll.Duration > MaxPreRoll) {
		errs = append(errs, fmt.Errorf("listen.preroll.duration %s is out of range [%s, %s]", l.PreRoll.Duration, MinPreRoll, MaxPreRoll))
	}

	// Realtime
	rt := cfg.Realtime
	if rt.URL == "" {
		errs = append(errs, errors.New("realtime.url is required"))
	}
	if !rt.ContentType.IsValid() {
		errs = append(errs, fmt.Errorf("realtime.content_type %q is invalid; valid values: input_text, input_audio", rt.ContentType))
	}
	if rt.APIKey == "" {
		slog.Warn("realtime.api_key is empty; the synthesis endpoint will likely reject the connection")
	}

	// Recognizer
	rec := cfg.Recognizer
	validateProviderName("recognizer", rec.Name)
	if rec.Name == "" && rt.ContentType == ContentText {
		slog.Warn("no recognizer configured but realtime.content_type is input_text; sessions will never produce a transcript")
	}
	for i, kw := range rec.Keywords {
		if kw.Keyword == "" {
			errs = append(errs, fmt.Errorf("recognizer.keywords[%d].keyword is required", i))
		}
	}
	if rec.CorrectKeywords && len(rec.Keywords) == 0 {
		slog.Warn("recognizer.correct_keywords is set but no keywords are configured")
	}

	// Journal
	if cfg.Journal.Capacity < 0 {
		errs = append(errs, fmt.Errorf("journal.capacity must not be negative, got %d", cfg.Journal.Capacity))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
