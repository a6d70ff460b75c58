// Package stt defines the Provider interface for streaming speech
// recognizers.
//
// A recognizer turns a live PCM stream into an incremental transcript plus a
// handful of lifecycle events (speech started, speech ended, stream ended,
// error). The listening session uses those events alongside the VAD engine:
// a recognised word counts as detected speech and the transcript becomes the
// submitted utterance.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// recognition stream.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz of the PCM passed to SendAudio.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US", "ja").
	// An empty string lets the provider pick its default.
	Language string

	// Keywords boosts recognition of uncommon words (names, jargon).
	Keywords []KeywordBoost
}

// SessionHandle represents an open recognition stream. Callers must call
// Close when done; Close flushes pending audio and closes the Events channel.
// All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers signed 16-bit little-endian PCM in the format agreed
	// in StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Events returns the stream of recognition events. The first event is
	// [EventStart]; the channel is closed after [EventEnd].
	Events() <-chan Event

	// Close terminates the stream. Calling Close more than once is safe.
	Close() error
}

// Provider opens recognition streams.
type Provider interface {
	// StartStream opens a new stream. Returns an error if the backend cannot
	// be reached or rejects the configuration.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
