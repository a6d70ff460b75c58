package speech

import (
	"context"
	"strings"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// session is one listening attempt. Fields below mu-guarded are accessed
// under Controller.mu; the rest belong to the session goroutine.
type session struct {
	id        string
	epoch     uint64
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	rec       stt.SessionHandle

	// guarded by Controller.mu
	lastSpeechAt   time.Time
	speechDetected bool
	submitted      bool
	ended          bool
	final          []string
	interim        string
	audio          []float32
	sampleRate     int
	truncated      bool
}

// transcriptLocked joins committed segments and the current interim segment.
func (s *session) transcriptLocked() string {
	parts := make([]string, 0, len(s.final)+1)
	for _, seg := range s.final {
		if seg = strings.TrimSpace(seg); seg != "" {
			parts = append(parts, seg)
		}
	}
	if in := strings.TrimSpace(s.interim); in != "" {
		parts = append(parts, in)
	}
	return strings.Join(parts, " ")
}

// audioDurationLocked returns the length of the captured speech audio.
func (s *session) audioDurationLocked() time.Duration {
	if s.sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.audio)) * time.Second / time.Duration(s.sampleRate)
}

// applyResultLocked folds a recognizer result into the transcript buffer.
// It reports whether the result carried any words.
func (s *session) applyResultLocked(ev stt.Event) bool {
	text := strings.TrimSpace(ev.Text)
	if ev.IsFinal {
		if text != "" {
			s.final = append(s.final, text)
		}
		s.interim = ""
	} else {
		s.interim = text
	}
	return text != ""
}
