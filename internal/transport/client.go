// Package transport connects the pipeline to an OpenAI-Realtime-style duplex
// endpoint.
//
// A [Client] keeps one WebSocket open (re-dialling with exponential backoff
// when it drops), configures the remote session on every connect, submits
// finished utterances as conversation items followed by a response request,
// and forwards synthesized response audio to a [Handler]. Submissions while
// the connection is down are logged and dropped, never queued.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/speech"
	"github.com/MrWong99/earshot/pkg/audio"
)

const (
	defaultURL   = "wss://api.openai.com/v1/realtime"
	defaultModel = "gpt-4o-realtime-preview"

	// SampleRate is the PCM16 rate used in both directions.
	SampleRate = 24000

	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ErrNotReady is returned when a message is sent while no connection is open.
var ErrNotReady = errors.New("transport: connection not ready")

// Handler receives response events. Calls happen on the read goroutine in
// arrival order and must not block for long.
type Handler interface {
	// ResponseStarted is called when the remote side begins a response.
	ResponseStarted(id string)

	// ResponseAudio delivers one chunk of mono PCM16 at [SampleRate]. emotion
	// is taken from a leading "[tag]" in the response transcript and stays
	// neutral until one is seen.
	ResponseAudio(id string, pcm []byte, emotion audio.Emotion)

	// ResponseDone is called when the response finished or was cancelled.
	ResponseDone(id, status string)
}

// Config describes the remote endpoint and session.
type Config struct {
	URL          string
	APIKey       string
	Model        string
	Voice        string
	Instructions string
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithBackoff sets the initial and maximum reconnect delay.
func WithBackoff(initial, maximum time.Duration) Option {
	return func(c *Client) {
		if initial > 0 {
			c.backoff = initial
		}
		if maximum >= c.backoff {
			c.maxBackoff = maximum
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is a reconnecting realtime connection. It implements
// [speech.Submitter]. All methods are safe for concurrent use.
type Client struct {
	cfg        Config
	handler    Handler
	metrics    *observe.Metrics
	backoff    time.Duration
	maxBackoff time.Duration

	mu   sync.Mutex
	conn *websocket.Conn

	// per-response state, owned by the read goroutine
	responseID string
	transcript strings.Builder
	emotion    audio.Emotion
	tagDone    bool
}

var _ speech.Submitter = (*Client)(nil)

// New returns a client for cfg delivering responses to h. Call [Client.Run]
// to connect.
func New(cfg Config, h Handler, opts ...Option) *Client {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	c := &Client{
		cfg:        cfg,
		handler:    h,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
		emotion:    audio.EmotionNeutral,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Run keeps the connection open until ctx is cancelled. Dial failures and
// dropped connections are retried with exponential backoff; the delay resets
// after a connection was established. Run returns nil on cancellation.
func (c *Client) Run(ctx context.Context) error {
	delay := c.backoff
	for {
		connected, err := c.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = c.backoff
		}
		slog.Warn("transport: connection lost, reconnecting", "err", err, "backoff", delay)
		c.metrics.TransportReconnects.Add(ctx, 1)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		delay = min(delay*2, c.maxBackoff)
	}
}

// Ready reports whether a connection is open.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Submit implements [speech.Submitter]. An utterance carrying audio is sent
// as an input_audio item (mono, resampled to [SampleRate]); otherwise its
// text is sent as an input_text item. A response request follows either way.
func (c *Client) Submit(ctx context.Context, u speech.Utterance) error {
	var part conversationPart
	switch {
	case u.HasAudio():
		samples := audio.Resample(u.Audio, u.SampleRate, SampleRate)
		part = conversationPart{Type: "input_audio", Audio: audio.EncodePCM16Base64(samples)}
	case strings.TrimSpace(u.Text) != "":
		part = conversationPart{Type: "input_text", Text: u.Text}
	default:
		return speech.ErrEmptyTranscript
	}

	msg := createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []conversationPart{part},
		},
	}
	if err := c.send(ctx, msg); err != nil {
		if errors.Is(err, ErrNotReady) {
			slog.Warn("transport: not connected, dropping submission", "session_id", u.SessionID, "type", part.Type)
		}
		return err
	}
	if err := c.send(ctx, typeOnlyMessage{Type: "response.create"}); err != nil {
		return err
	}
	slog.Debug("transport: submitted", "session_id", u.SessionID, "type", part.Type)
	return nil
}

// Cancel asks the remote side to stop the response in progress.
func (c *Client) Cancel(ctx context.Context) error {
	return c.send(ctx, typeOnlyMessage{Type: "response.cancel"})
}

// send marshals v and writes it as a text message on the open connection.
func (c *Client) send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotReady
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// serve dials once, configures the session and reads until the connection
// fails. It reports whether the connection was established.
func (c *Client) serve(ctx context.Context) (bool, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.CloseNow()

	update := sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Voice:             c.cfg.Voice,
			Instructions:      c.cfg.Instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			Modalities:        []string{"text", "audio"},
		},
	}
	data, err := json.Marshal(update)
	if err != nil {
		return true, fmt.Errorf("transport: marshal: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return true, fmt.Errorf("transport: session update: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	slog.Info("transport: connected", "url", c.cfg.URL, "model", c.cfg.Model)

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, fmt.Errorf("transport: read: %w", err)
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("transport: undecodable event", "err", err)
			continue
		}
		c.handle(&evt)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	// Response audio deltas easily exceed the 32 KiB default.
	conn.SetReadLimit(16 << 20)
	return conn, nil
}

func (c *Client) handle(evt *serverEvent) {
	switch evt.Type {
	case "response.created":
		id := ""
		if evt.Response != nil {
			id = evt.Response.ID
		}
		c.responseID = id
		c.transcript.Reset()
		c.emotion = audio.EmotionNeutral
		c.tagDone = false
		c.handler.ResponseStarted(id)

	case "response.audio_transcript.delta":
		if c.tagDone || evt.Delta == "" {
			return
		}
		c.transcript.WriteString(evt.Delta)
		c.parseEmotion()

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		id := evt.ResponseID
		if id == "" {
			id = c.responseID
		}
		c.handler.ResponseAudio(id, pcm, c.emotion)

	case "response.done":
		id, status := c.responseID, ""
		if evt.Response != nil {
			id, status = evt.Response.ID, evt.Response.Status
		}
		c.handler.ResponseDone(id, status)

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		slog.Warn("transport: server error", "message", msg)
	}
}

// parseEmotion looks for a leading "[emotion]" tag in the transcript seen so
// far. Once the tag is resolved (or the transcript clearly has none) the
// transcript is no longer inspected.
func (c *Client) parseEmotion() {
	text := strings.TrimLeft(c.transcript.String(), " \t\n")
	if text == "" {
		return
	}
	if text[0] != '[' {
		c.tagDone = true
		return
	}
	if !strings.Contains(text, "]") {
		if len(text) > 32 {
			c.tagDone = true
		}
		return
	}
	c.tagDone = true
	c.emotion, _ = audio.ParseEmotion(text)
}
