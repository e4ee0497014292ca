// Command parley runs the real-time negotiation telemetry engine: it links
// microphone audio to a live conversational agent, scores every operator
// utterance, and falls back to scripted scenarios when the link is down.
//
// Capture audio is read as raw little-endian PCM16 at 16 kHz from stdin
// (pipe in a recorder such as arecord or sox); the agent's reply audio is
// written as PCM16 at 24 kHz to stdout.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jmichaelis/parley/internal/app"
	"github.com/jmichaelis/parley/internal/config"
	"github.com/jmichaelis/parley/internal/observe"
	"github.com/jmichaelis/parley/internal/report"
	"github.com/jmichaelis/parley/internal/responder"
	"github.com/jmichaelis/parley/internal/scenario"
	"github.com/jmichaelis/parley/pkg/audio"
	"github.com/jmichaelis/parley/pkg/provider/live"
	"github.com/jmichaelis/parley/pkg/provider/live/gemini"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	scenarioID := flag.String("scenario", "", "scenario id to activate (overrides scenarios.default_id)")
	connect := flag.Bool("connect", false, "bring the live link up immediately")
	flag.Parse()

	// .env bootstrap for credentials; a missing file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "parley: load .env: %v\n", err)
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}
	config.ApplyEnv(cfg)

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("parley starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Scenario library ──────────────────────────────────────────────────────
	var registry *scenario.Registry
	if cfg.Scenarios.LibraryPath != "" {
		lib, err := scenario.LoadLibrary(cfg.Scenarios.LibraryPath)
		if err != nil {
			slog.Error("failed to load scenario library", "err", err)
			return 1
		}
		registry, err = scenario.NewRegistry(lib)
		if err != nil {
			slog.Error("failed to build scenario registry", "err", err)
			return 1
		}
		slog.Info("scenario library loaded",
			"path", cfg.Scenarios.LibraryPath,
			"scenarios", len(registry.All()),
		)
	}

	// ── Engine assembly ───────────────────────────────────────────────────────
	engine, err := buildEngine(cfg, registry)
	if err != nil {
		slog.Error("failed to assemble engine", "err", err)
		return 1
	}
	defer engine.Close()

	active := *scenarioID
	if active == "" {
		active = cfg.Scenarios.DefaultID
	}
	if active != "" {
		if err := engine.SetScenario(active); err != nil {
			slog.Error("failed to activate scenario", "id", active, "err", err)
			return 1
		}
	}

	if *connect {
		if err := engine.Connect(ctx); err != nil {
			slog.Error("failed to bring the live link up", "err", err)
			return 1
		}
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Server.MetricsAddr)
		})
	}
	g.Go(func() error {
		return operatorLoop(gctx, engine)
	})

	slog.Info("engine ready — type utterances on the console, Ctrl+C to shut down")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// buildEngine wires providers from the configuration into an [app.Engine].
func buildEngine(cfg *config.Config, registry *scenario.Registry) (*app.Engine, error) {
	if cfg.Live.APIKey == "" {
		return nil, fmt.Errorf("no live API key configured (set GEMINI_API_KEY or live.api_key)")
	}

	var liveOpts []gemini.Option
	if cfg.Live.Model != "" {
		liveOpts = append(liveOpts, gemini.WithModel(cfg.Live.Model))
	}
	if cfg.Live.BaseURL != "" {
		liveOpts = append(liveOpts, gemini.WithBaseURL(cfg.Live.BaseURL))
	}
	provider := gemini.New(cfg.Live.APIKey, liveOpts...)

	var rsp *responder.Responder
	var reporter report.Generator
	if cfg.Responder.APIKey != "" {
		backendOpts := []responder.OpenAIOption{
			responder.WithTemperature(cfg.Responder.Temperature),
			responder.WithMaxTokens(cfg.Responder.MaxTokens),
		}
		if cfg.Responder.BaseURL != "" {
			backendOpts = append(backendOpts, responder.WithBaseURL(cfg.Responder.BaseURL))
		}
		model := cfg.Responder.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		backend, err := responder.NewOpenAIBackend(cfg.Responder.APIKey, model, backendOpts...)
		if err != nil {
			return nil, fmt.Errorf("build responder backend: %w", err)
		}
		rsp = responder.New(responder.Config{Backend: backend})

		reporter, err = report.NewOpenAIGenerator(cfg.Responder.APIKey, model)
		if err != nil {
			return nil, fmt.Errorf("build report generator: %w", err)
		}
	} else {
		slog.Warn("no responder API key configured; offline replies rely on the scenario simulator only")
	}

	return app.New(app.Config{
		Provider:             provider,
		Capture:              audio.NewStreamSource(os.Stdin, 0),
		Scheduler:            audio.NewScheduler(audio.NewWallClock(), audio.NewStreamSink(os.Stdout)),
		Registry:             registry,
		Responder:            rsp,
		Reporter:             reporter,
		Session:              live.SessionConfig{Voice: cfg.Live.Voice},
		MaxReconnectAttempts: cfg.Live.MaxReconnectAttempts,
		RingCapacity:         cfg.Audio.RingCapacity,
		OnReply: func(text string) {
			fmt.Fprintf(os.Stderr, "agent> %s\n", text)
		},
	}), nil
}

// operatorLoop reads typed operator utterances from the controlling terminal
// and feeds them to the engine until the context is cancelled or the
// terminal closes. Stdin carries capture audio, so the console lives on
// /dev/tty; without one (e.g. under a service manager) the loop just waits
// for shutdown.
func operatorLoop(ctx context.Context, engine *app.Engine) error {
	tty, err := os.Open("/dev/tty")
	if err != nil {
		slog.Info("no controlling terminal; console input disabled")
		<-ctx.Done()
		return ctx.Err()
	}
	defer tty.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(tty)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(text) == "" {
				continue
			}
			// Replies are printed by the engine's OnReply callback; while the
			// live link is active the agent answers over the link instead.
			if _, err := engine.SubmitUtterance(ctx, text); err != nil {
				slog.Warn("utterance rejected", "err", err)
			}
		}
	}
}

// serveMetrics exposes the Prometheus scrape endpoint until ctx is done.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("metrics endpoint up", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
