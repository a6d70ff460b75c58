// Package speech implements the listening session controller.
//
// A [Controller] owns one capture session at a time. It feeds captured audio
// through the VAD engine (and an optional streaming recognizer), tracks when
// the user starts and stops talking, and hands the finished utterance to a
// [Submitter]. Every session ends in exactly one [Outcome]; afterwards the
// controller waits a short settle delay before a new session may start.
//
//	Idle → Listening → (SpeechDetected ⇄ Silence) → Submitting → Idle
//	                                                Aborting  → Idle
package speech

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/earshot/internal/vad"
	"github.com/MrWong99/earshot/pkg/audio"
)

var (
	// ErrEmptyTranscript is returned by Submit for empty or whitespace-only text.
	ErrEmptyTranscript = errors.New("speech: transcript is empty")

	// ErrSubmitInFlight is returned while a submission or its cool-down is
	// still pending.
	ErrSubmitInFlight = errors.New("speech: submission already in flight")

	// ErrNotIdle is returned by Start while a session is active.
	ErrNotIdle = errors.New("speech: session already active")

	// ErrCaptureUnavailable wraps capture device failures reported by Start.
	ErrCaptureUnavailable = errors.New("speech: capture unavailable")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("speech: controller closed")
)

// Phase is the state of the controller.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseSpeechDetected
	PhaseSilence
	PhaseSubmitting
	PhaseAborting
)

// String returns the phase name used in logs and the control API.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseSpeechDetected:
		return "speech_detected"
	case PhaseSilence:
		return "silence"
	case PhaseSubmitting:
		return "submitting"
	case PhaseAborting:
		return "aborting"
	default:
		return "unknown"
	}
}

// Outcome describes how a session ended.
type Outcome string

const (
	OutcomeSubmitted       Outcome = "submitted"
	OutcomeNoSpeech        Outcome = "no_speech"
	OutcomeLongSilence     Outcome = "long_silence"
	OutcomeStopped         Outcome = "stopped"
	OutcomeCaptureError    Outcome = "capture_error"
	OutcomeRecognizerError Outcome = "recognizer_error"
)

// Mode selects what a session submits.
type Mode string

const (
	// ModeText submits the recognizer transcript.
	ModeText Mode = "input_text"

	// ModeAudio submits the captured speech audio. A transcript, when
	// available, is attached for logging.
	ModeAudio Mode = "input_audio"
)

// Utterance is the content handed to the [Submitter].
type Utterance struct {
	SessionID string
	Text      string

	// Audio holds mono samples at SampleRate: the pre-roll window followed
	// by everything captured after speech was confirmed. Empty for manual
	// input.
	Audio      []float32
	SampleRate int

	// Manual is set for typed input submitted through [Controller.Submit].
	Manual bool
}

// HasAudio reports whether the utterance carries captured audio.
func (u Utterance) HasAudio() bool { return len(u.Audio) > 0 && u.SampleRate > 0 }

// Report summarises a finished session. It is passed to the handler
// registered with [WithOnEnd].
type Report struct {
	SessionID  string
	StartedAt  time.Time
	EndedAt    time.Time
	Outcome    Outcome
	Transcript string

	// AudioDuration is the length of the captured speech audio.
	AudioDuration time.Duration

	// Err is set for capture and recognizer failures.
	Err error
}

// Status is a point-in-time view of the controller.
type Status struct {
	Phase          Phase
	SessionID      string
	SpeechDetected bool
	Transcript     string
	StartedAt      time.Time
	LastSpeechAt   time.Time
}

// Detector scores audio frames. [vad.Engine] satisfies it.
type Detector interface {
	Score(ctx context.Context, f audio.Frame) vad.Result
	Reset()
	Epoch() uint64
}

// Submitter delivers a finished utterance downstream.
type Submitter interface {
	Submit(ctx context.Context, u Utterance) error
}

// SubmitterFunc adapts a function to [Submitter].
type SubmitterFunc func(ctx context.Context, u Utterance) error

// Submit implements [Submitter].
func (f SubmitterFunc) Submit(ctx context.Context, u Utterance) error { return f(ctx, u) }

// Corrector rewrites a recognized transcript before submission.
// internal/transcript.KeywordCorrector satisfies it.
type Corrector interface {
	Correct(text string) string
}

// Interrupter tears down system speech output on barge-in.
type Interrupter interface {
	// Interrupt stops playback synchronously.
	Interrupt()

	// Busy reports whether system speech is queued or playing.
	Busy() bool
}

var _ Detector = (*vad.Engine)(nil)
