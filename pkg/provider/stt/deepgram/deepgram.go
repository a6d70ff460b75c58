// Package deepgram provides a Deepgram-backed recognizer using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Streams are opened with interim results and server-side VAD events enabled,
// so a session receives [stt.EventSpeechStart] on "SpeechStarted" and
// [stt.EventSpeechEnd] on "UtteranceEnd" in addition to transcript results.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel        = "nova-3"
	defaultLanguage     = "en"
	defaultSampleRate   = 16000
	defaultUtteranceEnd = 1000 * time.Millisecond
	closeTimeout        = 2 * time.Second
)

// ErrClosed is returned by SendAudio after the stream was closed.
var ErrClosed = errors.New("deepgram: session is closed")

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz used when StreamConfig
// leaves it zero.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithUtteranceEnd sets how long Deepgram waits after the last word before
// sending "UtteranceEnd". Deepgram rejects values below one second.
func WithUtteranceEnd(d time.Duration) Option {
	return func(p *Provider) {
		p.utteranceEnd = d
	}
}

// WithEndpoint overrides the streaming endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey       string
	endpoint     string
	model        string
	language     string
	sampleRate   int
	utteranceEnd time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		endpoint:     deepgramEndpoint,
		model:        defaultModel,
		language:     defaultLanguage,
		sampleRate:   defaultSampleRate,
		utteranceEnd: defaultUtteranceEnd,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming recognition session with Deepgram. The
// returned handle outlives ctx only until Close; cancelling ctx ends the
// stream.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	sess := &session{
		conn:       conn,
		events:     make(chan stt.Event, 64),
		audio:      make(chan []byte, 256),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		cancel:     cancel,
	}
	sess.events <- stt.Event{Type: stt.EventStart}

	sess.wg.Add(2)
	go sess.readLoop(sctx)
	go sess.writeLoop(sctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("vad_events", "true")
	q.Set("utterance_end_ms", strconv.FormatInt(p.utteranceEnd.Milliseconds(), 10))
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}

	for _, kw := range cfg.Keywords {
		// word:boost, e.g. "Eldrinax:5"
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramMessage covers the server messages a session reacts to.
type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn   *websocket.Conn
	events chan stt.Event
	audio  chan []byte

	done       chan struct{}
	readerDone chan struct{}
	cancel     context.CancelFunc
	once       sync.Once
	wg         sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Events returns the recognition event channel.
func (s *session) Events() <-chan stt.Event { return s.events }

// Close asks Deepgram to flush and finish the stream, then tears down the
// connection. Calling Close more than once is safe.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		select {
		case <-s.readerDone:
		case <-ctx.Done():
		}
		s.cancel()
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop forwards queued audio as binary messages.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop receives JSON messages from Deepgram and translates them into
// events. It always finishes with EventEnd and closes the channel.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.readerDone)
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			if !expectedClose(err, s.done) {
				slog.Warn("deepgram: read failed", "err", err)
				s.emit(stt.Event{Type: stt.EventError, Err: fmt.Errorf("deepgram: read: %w", err)})
			}
			s.emit(stt.Event{Type: stt.EventEnd})
			return
		}

		ev, ok := parseDeepgramMessage(msg)
		if !ok {
			continue
		}
		s.emit(ev)
		if ev.Type == stt.EventError {
			s.emit(stt.Event{Type: stt.EventEnd})
			return
		}
	}
}

// emit delivers ev unless the consumer has gone away after Close.
func (s *session) emit(ev stt.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
		select {
		case s.events <- ev:
		default:
		}
	}
}

// expectedClose reports whether a read error is the normal end of a stream.
func expectedClose(err error, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return websocket.CloseStatus(err) == websocket.StatusNormalClosure
}

// parseDeepgramMessage converts a raw Deepgram WebSocket message into an
// event. Returns (zero, false) if the message should be ignored.
func parseDeepgramMessage(data []byte) (stt.Event, bool) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return stt.Event{}, false
	}
	switch msg.Type {
	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return stt.Event{}, false
		}
		alt := msg.Channel.Alternatives[0]
		return stt.Event{
			Type:       stt.EventResult,
			Text:       alt.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: alt.Confidence,
		}, true
	case "SpeechStarted":
		return stt.Event{Type: stt.EventSpeechStart}, true
	case "UtteranceEnd":
		return stt.Event{Type: stt.EventSpeechEnd}, true
	case "Error":
		return stt.Event{Type: stt.EventError, Err: fmt.Errorf("deepgram: %s", msg.Description)}, true
	default:
		return stt.Event{}, false
	}
}
