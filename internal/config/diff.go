package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied to a running pipeline are tracked; any
// other change requires a restart and is reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdsChanged   bool
	AutoSubmitChanged   bool
	BargeInChanged      bool
	AlwaysListenChanged bool

	// PreRollChanged forces an active session to restart.
	PreRollChanged bool

	ContentTypeChanged bool

	// RestartRequired lists the top-level sections whose changes are ignored
	// until the process restarts.
	RestartRequired []string
}

// Changed reports whether d carries any live change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ThresholdsChanged || d.AutoSubmitChanged ||
		d.BargeInChanged || d.AlwaysListenChanged || d.PreRollChanged || d.ContentTypeChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.VAD.SpeechThreshold != new.VAD.SpeechThreshold || old.VAD.SilenceThreshold != new.VAD.SilenceThreshold {
		d.ThresholdsChanged = true
	}

	d.AutoSubmitChanged = old.Listen.AutoSubmitTimeout != new.Listen.AutoSubmitTimeout
	d.BargeInChanged = old.Listen.BargeIn != new.Listen.BargeIn
	d.AlwaysListenChanged = old.Listen.AlwaysListening != new.Listen.AlwaysListening
	d.PreRollChanged = old.Listen.PreRoll != new.Listen.PreRoll
	d.ContentTypeChanged = old.Realtime.ContentType != new.Realtime.ContentType

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.VAD.Scorer != new.VAD.Scorer || old.VAD.HistorySize != new.VAD.HistorySize || old.VAD.Smoothing != new.VAD.Smoothing {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}
	rtOld, rtNew := old.Realtime, new.Realtime
	rtOld.ContentType, rtNew.ContentType = "", ""
	if rtOld != rtNew {
		d.RestartRequired = append(d.RestartRequired, "realtime")
	}
	if !sameRecognizer(old.Recognizer, new.Recognizer) {
		d.RestartRequired = append(d.RestartRequired, "recognizer")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}

	return d
}

func sameRecognizer(a, b RecognizerConfig) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.Model != b.Model || a.Language != b.Language ||
		a.CorrectKeywords != b.CorrectKeywords {
		return false
	}
	if len(a.Keywords) != len(b.Keywords) {
		return false
	}
	for i := range a.Keywords {
		if a.Keywords[i] != b.Keywords[i] {
			return false
		}
	}
	return true
}
