// Package audio holds the sample-level building blocks of the listening
// pipeline: frame types, format conversion, the pre-roll buffer, capture
// sources and playback renderers.
package audio

import (
	"strings"
	"time"
)

// Frame is one block of captured audio. Samples are normalised floats in
// [-1, 1], interleaved when Channels > 1.
type Frame struct {
	Samples []float32

	// SampleRate in Hz (e.g., 48000 for a typical capture device, 16000 for VAD).
	SampleRate int

	// Channels is 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Mono returns the frame's samples mixed down to a single channel.
func (f Frame) Mono() []float32 {
	if f.Channels <= 1 {
		return f.Samples
	}
	return ToMono(Deinterleave(f.Samples, f.Channels))
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	ch := max(f.Channels, 1)
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)/ch) * time.Second / time.Duration(f.SampleRate)
}

// Emotion tags a piece of synthesized speech with the expression the
// renderer should show while it plays.
type Emotion string

const (
	EmotionNeutral   Emotion = "neutral"
	EmotionHappy     Emotion = "happy"
	EmotionSad       Emotion = "sad"
	EmotionAngry     Emotion = "angry"
	EmotionRelaxed   Emotion = "relaxed"
	EmotionSurprised Emotion = "surprised"
)

// IsValid reports whether e is a recognised emotion.
func (e Emotion) IsValid() bool {
	switch e {
	case EmotionNeutral, EmotionHappy, EmotionSad, EmotionAngry, EmotionRelaxed, EmotionSurprised:
		return true
	}
	return false
}

// ParseEmotion extracts a leading "[emotion]" tag from text. It returns the
// emotion and the remaining text. Unknown or missing tags yield
// [EmotionNeutral] and the input unchanged.
func ParseEmotion(text string) (Emotion, string) {
	trimmed := strings.TrimLeft(text, " \t\n")
	if !strings.HasPrefix(trimmed, "[") {
		return EmotionNeutral, text
	}
	end := strings.IndexByte(trimmed, ']')
	if end < 0 {
		return EmotionNeutral, text
	}
	e := Emotion(strings.ToLower(strings.TrimSpace(trimmed[1:end])))
	if !e.IsValid() {
		return EmotionNeutral, text
	}
	return e, strings.TrimLeft(trimmed[end+1:], " ")
}

// Clip is a unit of synthesized audio handed to a [Renderer].
type Clip struct {
	// PCM is signed 16-bit little-endian audio.
	PCM []byte

	SampleRate int
	Channels   int

	Emotion Emotion
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	ch := max(c.Channels, 1)
	if c.SampleRate <= 0 {
		return 0
	}
	samples := len(c.PCM) / 2 / ch
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}
