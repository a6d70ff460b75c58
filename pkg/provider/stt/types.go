package stt

// EventType classifies recognition events.
type EventType int

const (
	// EventStart is emitted once the stream is live.
	EventStart EventType = iota

	// EventSpeechStart is emitted when the recognizer hears speech begin.
	EventSpeechStart

	// EventResult carries an updated transcript.
	EventResult

	// EventSpeechEnd is emitted when the recognizer considers the utterance over.
	EventSpeechEnd

	// EventEnd is the final event of every stream.
	EventEnd

	// EventError reports a recognizer failure. The stream ends afterwards.
	EventError
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventSpeechStart:
		return "speech_start"
	case EventResult:
		return "result"
	case EventSpeechEnd:
		return "speech_end"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one recognition event.
type Event struct {
	Type EventType

	// Text is the transcript segment for [EventResult].
	Text string

	// IsFinal marks Text as committed. Non-final segments are replaced by
	// later results for the same audio.
	IsFinal bool

	// Confidence in [0, 1] for [EventResult], when the backend reports it.
	Confidence float64

	// Err is set for [EventError].
	Err error
}

// KeywordBoost raises the recognition likelihood of Keyword.
type KeywordBoost struct {
	Keyword string

	// Boost is the provider-specific intensity (Deepgram accepts roughly -10..10).
	Boost float64
}
