package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/journal"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/speech"
	"github.com/MrWong99/earshot/internal/transport"
)

// Session listing bounds for GET /sessions.
const (
	defaultSessionLimit = 20
	maxSessionLimit     = 500
)

// maxSayBody caps POST /say request bodies.
const maxSayBody = 64 << 10

// StateResponse is the body of GET /state.
type StateResponse struct {
	Phase           string    `json:"phase"`
	SessionID       string    `json:"session_id,omitempty"`
	SpeechDetected  bool      `json:"speech_detected"`
	Transcript      string    `json:"transcript,omitempty"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	Probability     float64   `json:"probability"`
	Stability       float64   `json:"stability"`
	Speaking        bool      `json:"speaking"`
	QueueLength     int       `json:"queue_length"`
	RealtimeReady   bool      `json:"realtime_ready"`
	AlwaysListening bool      `json:"always_listening"`
	Paused          bool      `json:"paused"`
}

// SayRequest is the body of POST /say.
type SayRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the HTTP surface: the control API, health probes and, when
// configured, the metrics scrape endpoint.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /listen/start", a.handleListenStart)
	mux.HandleFunc("POST /listen/stop", a.handleListenStop)
	mux.HandleFunc("POST /say", a.handleSay)
	mux.HandleFunc("POST /interrupt", a.handleInterrupt)
	mux.HandleFunc("GET /sessions", a.handleSessions)
	mux.HandleFunc("GET /state", a.handleState)

	checks := []health.Checker{
		health.Flag("realtime", a.client.Ready, "realtime connection not established"),
	}
	if a.guard != nil {
		b := a.guard.Breaker()
		checks = append(checks, health.Flag("recognizer", func() bool {
			return b.State() != resilience.StateOpen
		}, "recognizer circuit open"))
	}
	if p, ok := a.journal.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, health.Checker{Name: "journal", Check: p.Ping})
	}
	health.New(checks...).Register(mux)

	if a.metricsH != nil {
		mux.Handle("GET /metrics", a.metricsH)
	}
	return observe.Middleware(a.metrics)(mux)
}

// handleListenStart starts a session and resumes the always-listening
// watchdog.
func (a *App) handleListenStart(w http.ResponseWriter, r *http.Request) {
	a.paused.Store(false)
	err := a.ctrl.Start(r.Context())
	switch {
	case err == nil:
		st := a.ctrl.Status()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "listening", "session_id": st.SessionID})
	case errors.Is(err, speech.ErrNotIdle):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, speech.ErrCaptureUnavailable), errors.Is(err, speech.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

// handleListenStop ends the active session and pauses the watchdog until the
// next POST /listen/start.
func (a *App) handleListenStop(w http.ResponseWriter, _ *http.Request) {
	a.paused.Store(true)
	a.ctrl.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleSay submits typed input, interrupting system speech first.
func (a *App) handleSay(w http.ResponseWriter, r *http.Request) {
	var req SayRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSayBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := a.ctrl.Submit(r.Context(), req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
	case errors.Is(err, speech.ErrEmptyTranscript):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, speech.ErrSubmitInFlight):
		writeError(w, http.StatusTooManyRequests, err)
	case errors.Is(err, transport.ErrNotReady), errors.Is(err, speech.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func (a *App) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	a.interrupt(r.Context(), "manual")
	writeJSON(w, http.StatusOK, map[string]string{"status": "interrupted"})
}

func (a *App) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxSessionLimit)
	}
	entries, err := a.journal.Recent(r.Context(), limit)
	if err != nil {
		slog.Warn("journal: list failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *App) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.State())
}

// State returns a snapshot of the pipeline.
func (a *App) State() StateResponse {
	st := a.ctrl.Status()
	return StateResponse{
		Phase:           st.Phase.String(),
		SessionID:       st.SessionID,
		SpeechDetected:  st.SpeechDetected,
		Transcript:      st.Transcript,
		StartedAt:       st.StartedAt,
		Probability:     a.engine.Probability(),
		Stability:       a.engine.Stability(),
		Speaking:        a.queue.Speaking(),
		QueueLength:     a.queue.Len(),
		RealtimeReady:   a.client.Ready(),
		AlwaysListening: a.alwaysListening.Load(),
		Paused:          a.paused.Load(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("http: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
