// Package app wires the earshot subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the detector, speech
// controller, speak queue, synthesis transport and journal; Run drives the
// transport, the always-listening watchdog, the config watcher and the HTTP
// control surface; Shutdown tears everything down in order.
//
// For testing, inject doubles through [Providers] and the functional options
// (WithJournal, WithControllerOptions, etc.).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/journal"
	"github.com/MrWong99/earshot/internal/journal/postgres"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/speak"
	"github.com/MrWong99/earshot/internal/speech"
	"github.com/MrWong99/earshot/internal/transcript"
	"github.com/MrWong99/earshot/internal/transport"
	"github.com/MrWong99/earshot/internal/vad"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	provider "github.com/MrWong99/earshot/pkg/provider/vad"
)

// recordTimeout bounds a single journal write.
const recordTimeout = 5 * time.Second

// Providers holds the pluggable edges of the pipeline. Populated by main.go
// via the config registry. Recognizer may be nil.
type Providers struct {
	Source     audio.Source
	Renderer   audio.Renderer
	Scorer     provider.Scorer
	Recognizer stt.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers
	level     *slog.LevelVar
	metrics   *observe.Metrics
	metricsH  http.Handler

	mu  sync.Mutex
	cfg *config.Config

	engine  *vad.Engine
	queue   *speak.Queue
	client  *transport.Client
	ctrl    *speech.Controller
	journal journal.Store
	watcher *config.Watcher
	guard   *resilience.Recognizer // nil without a recognizer
	breaker resilience.BreakerConfig

	configPath    string
	watchInterval time.Duration
	transportOpts []transport.Option
	ctrlOpts      []speech.Option
	speakOpts     []speak.Option
	wd            watchdogTiming

	alwaysListening atomic.Bool
	paused          atomic.Bool
	kick            chan struct{}

	records  sync.WaitGroup
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithJournal injects a journal instead of creating one from config.
func WithJournal(s journal.Store) Option {
	return func(a *App) { a.journal = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithLevelVar lets config reloads adjust the process log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigFile hot-reloads the live settings from path, polling every
// interval (zero means [config.DefaultWatchInterval]).
func WithConfigFile(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithTransportOptions appends options for the synthesis client.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(a *App) { a.transportOpts = append(a.transportOpts, opts...) }
}

// WithControllerOptions appends options for the speech controller. They are
// applied after the options derived from config.
func WithControllerOptions(opts ...speech.Option) Option {
	return func(a *App) { a.ctrlOpts = append(a.ctrlOpts, opts...) }
}

// WithRecognizerBreaker tunes the circuit breaker guarding recognizer stream
// starts.
func WithRecognizerBreaker(cfg resilience.BreakerConfig) Option {
	return func(a *App) { a.breaker = cfg }
}

// WithSpeakOptions appends options for the speak queue.
func WithSpeakOptions(opts ...speak.Option) Option {
	return func(a *App) { a.speakOpts = append(a.speakOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go. New connects to the journal database when one is
// configured; nothing else touches the network until [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Source == nil || providers.Renderer == nil || providers.Scorer == nil {
		return nil, errors.New("app: source, renderer and scorer are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		wd:        defaultWatchdogTiming(),
		kick:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	a.level.Set(cfg.Server.LogLevel.Level())
	a.alwaysListening.Store(cfg.Listen.AlwaysListening)

	// ── 1. Journal ───────────────────────────────────────────────────────
	if err := a.initJournal(ctx); err != nil {
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	// ── 2. Detector ──────────────────────────────────────────────────────
	a.engine = vad.New(providers.Scorer,
		vad.WithThresholds(cfg.VAD.Thresholds()),
		vad.WithSmoothing(cfg.VAD.Smoothing),
		vad.WithHistorySize(cfg.VAD.HistorySize),
		vad.WithMetrics(a.metrics),
	)

	// ── 3. Playback ──────────────────────────────────────────────────────
	speakOpts := append([]speak.Option{
		speak.WithMetrics(a.metrics),
		speak.WithOnIdle(a.nudge),
	}, a.speakOpts...)
	a.queue = speak.New(providers.Renderer, speakOpts...)
	a.closers = append(a.closers, a.queue.Close)

	// ── 4. Synthesis transport ───────────────────────────────────────────
	transportOpts := append([]transport.Option{transport.WithMetrics(a.metrics)}, a.transportOpts...)
	a.client = transport.New(transport.Config{
		URL:          cfg.Realtime.URL,
		APIKey:       cfg.Realtime.APIKey,
		Model:        cfg.Realtime.Model,
		Voice:        cfg.Realtime.Voice,
		Instructions: cfg.Realtime.Instructions,
	}, responses{queue: a.queue}, transportOpts...)

	// ── 5. Speech controller ─────────────────────────────────────────────
	a.ctrl = speech.New(providers.Source, a.engine, a.client, a.controllerOptions(cfg)...)
	// The controller goes first so its final report still reaches the journal.
	a.closers = append([]func() error{a.ctrl.Close, a.waitRecords}, a.closers...)

	// ── 6. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.Reload, config.WithInterval(a.watchInterval))
		if err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

func (a *App) initJournal(ctx context.Context) error {
	if a.journal != nil {
		return nil
	}
	if dsn := a.cfg.Journal.PostgresDSN; dsn != "" {
		store, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.journal = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		slog.Info("journal: using postgres")
		return nil
	}
	a.journal = journal.NewMemoryStore(a.cfg.Journal.Capacity)
	slog.Info("journal: using in-memory store", "capacity", a.cfg.Journal.Capacity)
	return nil
}

func (a *App) controllerOptions(cfg *config.Config) []speech.Option {
	opts := []speech.Option{
		speech.WithInterrupter(bargeIn{app: a}),
		speech.WithPreRoll(audio.NewPreRoll(cfg.Listen.PreRoll.Enabled, cfg.Listen.PreRoll.Duration, cfg.Audio.InputSampleRate)),
		speech.WithMode(cfg.Realtime.ContentType.Mode()),
		speech.WithAutoSubmit(cfg.Listen.AutoSubmitTimeout),
		speech.WithBargeIn(cfg.Listen.BargeIn),
		speech.WithFrameSamples(cfg.Audio.FrameSamples),
		speech.WithMetrics(a.metrics),
		speech.WithOnEnd(a.record),
	}
	if a.providers.Recognizer != nil {
		if a.guard == nil {
			bc := a.breaker
			if bc.Name == "" {
				bc.Name = "recognizer"
			}
			a.guard = resilience.GuardRecognizer(a.providers.Recognizer, resilience.NewBreaker(bc))
		}
		keywords := make([]stt.KeywordBoost, 0, len(cfg.Recognizer.Keywords))
		for _, k := range cfg.Recognizer.Keywords {
			keywords = append(keywords, stt.KeywordBoost{Keyword: k.Keyword, Boost: k.Boost})
		}
		opts = append(opts, speech.WithRecognizer(a.guard, stt.StreamConfig{
			SampleRate: cfg.Audio.InputSampleRate,
			Channels:   1,
			Language:   cfg.Recognizer.Language,
			Keywords:   keywords,
		}))
		if cfg.Recognizer.CorrectKeywords && len(keywords) > 0 {
			terms := make([]string, len(keywords))
			for i, k := range keywords {
				terms[i] = k.Keyword
			}
			opts = append(opts, speech.WithCorrector(transcript.NewKeywordCorrector(terms)))
		}
	}
	return append(opts, a.ctrlOpts...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run keeps the pipeline alive until ctx is cancelled: the synthesis
// connection, the always-listening watchdog, the config watcher and the HTTP
// server run as one group. Run returns nil on cancellation and the first
// error of any member otherwise.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.client.Run(gctx) })
	g.Go(func() error { return a.watch(gctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	addr := a.config().Server.ListenAddr
	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("app running",
		"listen_addr", addr,
		"always_listening", a.alwaysListening.Load(),
		"recognizer", a.providers.Recognizer != nil,
	)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Session plumbing ────────────────────────────────────────────────────────

// record persists a finished session. It runs on the controller's goroutine,
// so the write happens asynchronously.
func (a *App) record(r speech.Report) {
	a.records.Add(1)
	go func() {
		defer a.records.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := a.journal.Record(ctx, journal.FromReport(r)); err != nil {
			slog.Warn("journal: record failed", "session_id", r.SessionID, "err", err)
		}
	}()

	// Broken devices and recognizers are retried on the next tick only.
	switch r.Outcome {
	case speech.OutcomeCaptureError, speech.OutcomeRecognizerError:
	default:
		a.nudge()
	}
}

func (a *App) waitRecords() error {
	a.records.Wait()
	return nil
}

// interrupt stops local playback and cancels the upstream response.
func (a *App) interrupt(ctx context.Context, reason string) {
	a.queue.Interrupt()
	a.metrics.RecordInterrupt(ctx, reason)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.client.Cancel(ctx); err != nil {
		if errors.Is(err, transport.ErrNotReady) {
			slog.Debug("transport not connected, skipping response cancel", "reason", reason)
			return
		}
		slog.Warn("response cancel failed", "reason", reason, "err", err)
	}
}

func (a *App) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// bargeIn lets the controller interrupt system speech.
type bargeIn struct{ app *App }

var _ speech.Interrupter = bargeIn{}

// Interrupt is a no-op while nothing is playing or expected to play.
func (b bargeIn) Interrupt() {
	if !b.app.queue.Busy() && !b.app.queue.Speaking() {
		return
	}
	b.app.interrupt(context.Background(), "barge_in")
}

func (b bargeIn) Busy() bool { return b.app.queue.Busy() }

// responses feeds synthesized audio into the speak queue.
type responses struct{ queue *speak.Queue }

var _ transport.Handler = responses{}

func (r responses) ResponseStarted(id string) {
	r.queue.CheckSession(id)
}

func (r responses) ResponseAudio(_ string, pcm []byte, emotion audio.Emotion) {
	r.queue.Enqueue(speak.Task{
		Audio:      pcm,
		Emotion:    emotion,
		SampleRate: transport.SampleRate,
		Channels:   1,
	})
}

func (r responses) ResponseDone(id, status string) {
	slog.Debug("response done", "response_id", id, "status", status)
}
