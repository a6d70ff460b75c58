// Command earshot runs the voice pipeline: it listens on a PCM capture stream,
// forwards utterances to a realtime speech endpoint and plays the replies.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/deepgram"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inputPath := flag.String("input", "-", `PCM16 capture stream ("-" for stdin)`)
	outputPath := flag.String("output", "-", `PCM16 playback stream ("-" for stdout)`)
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("earshot starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	obs, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Audio streams ─────────────────────────────────────────────────────────
	in, closeIn, err := openInput(*inputPath)
	if err != nil {
		slog.Error("failed to open capture stream", "err", err)
		return 1
	}
	defer closeIn()
	out, closeOut, err := openOutput(*outputPath)
	if err != nil {
		slog.Error("failed to open playback stream", "err", err)
		return 1
	}
	defer closeOut()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, in, out)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg, *inputPath, *outputPath)

	application, err := app.New(ctx, cfg, providers,
		app.WithLevelVar(level),
		app.WithMetricsHandler(obs.Handler()),
		app.WithConfigFile(*configPath, config.DefaultWatchInterval),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("pipeline ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the scorer and recognizer implementations
// that ship with earshot into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterScorer("energy", func(config.VADConfig) (vad.Scorer, error) {
		return energy.New(), nil
	})

	reg.RegisterRecognizer("deepgram", func(rc config.RecognizerConfig, ac config.AudioConfig) (stt.Provider, error) {
		opts := []deepgram.Option{deepgram.WithSampleRate(ac.InputSampleRate)}
		if rc.Model != "" {
			opts = append(opts, deepgram.WithModel(rc.Model))
		}
		if rc.Language != "" {
			opts = append(opts, deepgram.WithLanguage(rc.Language))
		}
		return deepgram.New(rc.APIKey, opts...)
	})
}

// buildProviders instantiates the configured providers and the PCM streams.
func buildProviders(cfg *config.Config, reg *config.Registry, in io.Reader, out io.Writer) (*app.Providers, error) {
	scorer, err := reg.CreateScorer(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("create scorer %q: %w", cfg.VAD.Scorer, err)
	}
	slog.Info("provider created", "kind", "scorer", "name", cfg.VAD.Scorer)

	recognizer, err := reg.CreateRecognizer(cfg.Recognizer, cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create recognizer %q: %w", cfg.Recognizer.Name, err)
	}
	if recognizer != nil {
		slog.Info("provider created", "kind", "recognizer", "name", cfg.Recognizer.Name)
	}

	return &app.Providers{
		Source: audio.NewReaderSource(in, cfg.Audio.InputSampleRate, cfg.Audio.InputChannels,
			audio.WithChunkSamples(cfg.Audio.ChunkSamples)),
		Renderer:   audio.NewWriterRenderer(out, cfg.Audio.OutputSampleRate, cfg.Audio.OutputChannels),
		Scorer:     scorer,
		Recognizer: recognizer,
	}, nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

// printStartupSummary writes to stderr; stdout may carry playback audio.
func printStartupSummary(cfg *config.Config, input, output string) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         earshot: startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Scorer", cfg.VAD.Scorer)
	printRow(w, "Recognizer", cfg.Recognizer.Name)
	printRow(w, "Model", cfg.Realtime.Model)
	printRow(w, "Content", string(cfg.Realtime.ContentType))
	printRow(w, "Capture", fmt.Sprintf("%s @ %d Hz", input, cfg.Audio.InputSampleRate))
	printRow(w, "Playback", fmt.Sprintf("%s @ %d Hz", output, cfg.Audio.OutputSampleRate))
	if cfg.Listen.AlwaysListening {
		printRow(w, "Listening", "always")
	} else {
		printRow(w, "Listening", "on request")
	}
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}
