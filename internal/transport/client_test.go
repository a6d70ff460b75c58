package transport_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/internal/speech"
	"github.com/MrWong99/earshot/internal/transport"
	"github.com/MrWong99/earshot/pkg/audio"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

type recordingHandler struct {
	mu       sync.Mutex
	started  []string
	chunks   [][]byte
	emotions []audio.Emotion
	done     []string
	events   chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: make(chan string, 64)}
}

func (h *recordingHandler) ResponseStarted(id string) {
	h.mu.Lock()
	h.started = append(h.started, id)
	h.mu.Unlock()
	h.events <- "started"
}

func (h *recordingHandler) ResponseAudio(_ string, pcm []byte, e audio.Emotion) {
	h.mu.Lock()
	h.chunks = append(h.chunks, pcm)
	h.emotions = append(h.emotions, e)
	h.mu.Unlock()
	h.events <- "audio"
}

func (h *recordingHandler) ResponseDone(id, _ string) {
	h.mu.Lock()
	h.done = append(h.done, id)
	h.mu.Unlock()
	h.events <- "done"
}

func (h *recordingHandler) waitFor(t *testing.T, want string) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

// fakeRealtime is a test WebSocket server that records every client message
// and lets the test push server events.
type fakeRealtime struct {
	srv      *httptest.Server
	received chan map[string]any
	conns    atomic.Int64
	header   chan http.Header
	query    chan string

	mu   sync.Mutex
	conn *websocket.Conn

	// dropAfterUpdate closes each connection right after session.update.
	dropAfterUpdate atomic.Bool
}

func startFakeRealtime(t *testing.T) *fakeRealtime {
	t.Helper()
	f := &fakeRealtime{
		received: make(chan map[string]any, 64),
		header:   make(chan http.Header, 8),
		query:    make(chan string, 8),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		f.conns.Add(1)
		select {
		case f.header <- r.Header.Clone():
		default:
		}
		select {
		case f.query <- r.URL.Query().Get("model"):
		default:
		}

		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var msg map[string]any
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			select {
			case f.received <- msg:
			default:
			}
			if msg["type"] == "session.update" && f.dropAfterUpdate.Load() {
				conn.Close(websocket.StatusGoingAway, "bye")
				return
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRealtime) url() string { return "ws" + strings.TrimPrefix(f.srv.URL, "http") }

func (f *fakeRealtime) push(t *testing.T, v any) {
	t.Helper()
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		t.Fatal("no client connected")
	}
	data, _ := json.Marshal(v)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func (f *fakeRealtime) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client message")
		return nil
	}
}

func runClient(t *testing.T, c *transport.Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	deadline := time.Now().Add(3 * time.Second)
	for !c.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("client never became ready")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestSubmit_NotReady(t *testing.T) {
	t.Parallel()
	c := transport.New(transport.Config{URL: "ws://127.0.0.1:1"}, newRecordingHandler())
	if c.Ready() {
		t.Fatal("Ready before Run")
	}
	err := c.Submit(context.Background(), speech.Utterance{Text: "hello"})
	if !errors.Is(err, transport.ErrNotReady) {
		t.Errorf("Submit = %v, want ErrNotReady", err)
	}
	if err := c.Cancel(context.Background()); !errors.Is(err, transport.ErrNotReady) {
		t.Errorf("Cancel = %v, want ErrNotReady", err)
	}
}

func TestRun_ConfiguresSession(t *testing.T) {
	t.Parallel()
	f := startFakeRealtime(t)
	c := transport.New(transport.Config{
		URL:          f.url(),
		APIKey:       "sk-test",
		Model:        "test-model",
		Voice:        "alloy",
		Instructions: "be brief",
	}, newRecordingHandler())
	runClient(t, c)

	h := <-f.header
	if got := h.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got)
	}
	if got := h.Get("OpenAI-Beta"); got != "realtime=v1" {
		t.Errorf("OpenAI-Beta = %q", got)
	}
	if got := <-f.query; got != "test-model" {
		t.Errorf("model query = %q", got)
	}

	msg := f.next(t)
	if msg["type"] != "session.update" {
		t.Fatalf("first message = %v, want session.update", msg["type"])
	}
	sess := msg["session"].(map[string]any)
	if sess["voice"] != "alloy" || sess["instructions"] != "be brief" {
		t.Errorf("session = %v", sess)
	}
	if sess["input_audio_format"] != "pcm16" || sess["output_audio_format"] != "pcm16" {
		t.Errorf("audio formats = %v / %v", sess["input_audio_format"], sess["output_audio_format"])
	}
	if v, ok := sess["turn_detection"]; !ok || v != nil {
		t.Errorf("turn_detection = %v (present=%v), want null", v, ok)
	}
}

func TestSubmit_Text(t *testing.T) {
	t.Parallel()
	f := startFakeRealtime(t)
	c := transport.New(transport.Config{URL: f.url()}, newRecordingHandler())
	runClient(t, c)
	f.next(t) // session.update

	if err := c.Submit(context.Background(), speech.Utterance{SessionID: "s1", Text: "hello there"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	item := f.next(t)
	if item["type"] != "conversation.item.create" {
		t.Fatalf("type = %v", item["type"])
	}
	content := item["item"].(map[string]any)["content"].([]any)[0].(map[string]any)
	if content["type"] != "input_text" || content["text"] != "hello there" {
		t.Errorf("content = %v", content)
	}
	if next := f.next(t); next["type"] != "response.create" {
		t.Errorf("second message = %v, want response.create", next["type"])
	}
}

func TestSubmit_AudioResampledTo24k(t *testing.T) {
	t.Parallel()
	f := startFakeRealtime(t)
	c := transport.New(transport.Config{URL: f.url()}, newRecordingHandler())
	runClient(t, c)
	f.next(t)

	samples := make([]float32, 1600) // 100 ms at 16 kHz
	for i := range samples {
		samples[i] = 0.25
	}
	u := speech.Utterance{SessionID: "s1", Text: "ignored", Audio: samples, SampleRate: 16000}
	if err := c.Submit(context.Background(), u); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	item := f.next(t)
	content := item["item"].(map[string]any)["content"].([]any)[0].(map[string]any)
	if content["type"] != "input_audio" {
		t.Fatalf("content type = %v", content["type"])
	}
	pcm, err := base64.StdEncoding.DecodeString(content["audio"].(string))
	if err != nil {
		t.Fatalf("decode audio: %v", err)
	}
	if want := 2400 * 2; len(pcm) != want {
		t.Errorf("audio bytes = %d, want %d (100 ms at 24 kHz)", len(pcm), want)
	}
	if next := f.next(t); next["type"] != "response.create" {
		t.Errorf("second message = %v", next["type"])
	}
}

func TestSubmit_Empty(t *testing.T) {
	t.Parallel()
	c := transport.New(transport.Config{}, newRecordingHandler())
	if err := c.Submit(context.Background(), speech.Utterance{Text: "  "}); !errors.Is(err, speech.ErrEmptyTranscript) {
		t.Errorf("Submit = %v, want ErrEmptyTranscript", err)
	}
}

func TestCancel_SendsResponseCancel(t *testing.T) {
	t.Parallel()
	f := startFakeRealtime(t)
	c := transport.New(transport.Config{URL: f.url()}, newRecordingHandler())
	runClient(t, c)
	f.next(t)

	if err := c.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if msg := f.next(t); msg["type"] != "response.cancel" {
		t.Errorf("message = %v, want response.cancel", msg["type"])
	}
}

func TestResponseEvents(t *testing.T) {
	t.Parallel()
	f := startFakeRealtime(t)
	h := newRecordingHandler()
	c := transport.New(transport.Config{URL: f.url()}, h)
	runClient(t, c)
	f.next(t)

	pcm := []byte{1, 0, 2, 0, 3, 0}
	f.push(t, map[string]any{"type": "response.created", "response": map[string]any{"id": "resp_1"}})
	h.waitFor(t, "started")
	f.push(t, map[string]any{"type": "response.audio.delta", "response_id": "resp_1", "delta": base64.StdEncoding.EncodeToString(pcm)})
	h.waitFor(t, "audio")
	f.push(t, map[string]any{"type": "response.audio_transcript.delta", "delta": "[hap"})
	f.push(t, map[string]any{"type": "response.audio_transcript.delta", "delta": "py] Hi!"})
	f.push(t, map[string]any{"type": "response.audio.delta", "response_id": "resp_1", "delta": base64.StdEncoding.EncodeToString(pcm)})
	h.waitFor(t, "audio")
	f.push(t, map[string]any{"type": "response.done", "response": map[string]any{"id": "resp_1", "status": "completed"}})
	h.waitFor(t, "done")

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.started) != 1 || h.started[0] != "resp_1" {
		t.Errorf("started = %v", h.started)
	}
	if len(h.chunks) != 2 || string(h.chunks[0]) != string(pcm) {
		t.Fatalf("chunks = %v", h.chunks)
	}
	if h.emotions[0] != audio.EmotionNeutral || h.emotions[1] != audio.EmotionHappy {
		t.Errorf("emotions = %v, want [neutral happy]", h.emotions)
	}
	if len(h.done) != 1 || h.done[0] != "resp_1" {
		t.Errorf("done = %v", h.done)
	}
}

func TestRun_Reconnects(t *testing.T) {
	t.Parallel()
	f := startFakeRealtime(t)
	f.dropAfterUpdate.Store(true)
	c := transport.New(transport.Config{URL: f.url()}, newRecordingHandler(),
		transport.WithBackoff(5*time.Millisecond, 20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for f.conns.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("connections = %d, want at least 3", f.conns.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil on cancellation", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if c.Ready() {
		t.Error("Ready after Run returned")
	}
}
