// Command dreampulse is the main entry point for the DreamPulse voice server.
package main

import (
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
	"github.com/openai/openai-go"

	"github.com/dreampulse/dreampulse/internal/config"
	"github.com/dreampulse/dreampulse/internal/dream"
	dreampg "github.com/dreampulse/dreampulse/internal/dream/postgres"
	"github.com/dreampulse/dreampulse/internal/health"
	"github.com/dreampulse/dreampulse/internal/observe"
	"github.com/dreampulse/dreampulse/internal/relay"
	"github.com/dreampulse/dreampulse/internal/resilience"
	"github.com/dreampulse/dreampulse/internal/web"
	"github.com/dreampulse/dreampulse/pkg/provider/stt"
	"github.com/dreampulse/dreampulse/pkg/provider/stt/whisper"
	"github.com/dreampulse/dreampulse/pkg/provider/video"
	"github.com/dreampulse/dreampulse/pkg/provider/video/freepik"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Local .env files feed the ${VAR} references in the YAML config.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dreampulse: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dreampulse: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("dreampulse starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "dreampulse",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Dream archive (optional) ──────────────────────────────────────────────
	hc := []health.Checker{
		{Name: "upstream", Check: upstreamCheck(cfg.Upstream)},
	}
	var archive *dreampg.Archive
	if dsn := cfg.Archive.PostgresDSN; dsn != "" {
		archive, err = dreampg.Open(ctx, dsn)
		if err != nil {
			// Dreams are still interpreted and rendered, just not persisted.
			slog.Warn("dream archive unavailable, continuing without persistence", "err", err)
		} else {
			defer archive.Close()
			hc = append(hc, health.Checker{Name: "database", Check: archive.Ping})
			slog.Info("dream archive connected")
		}
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	transcriber := buildTranscriber(cfg.Providers.STT)
	completer := buildCompleter(cfg.Providers.LLM)
	generator := buildGenerator(cfg.Providers.Video)

	// Circuit breakers make provider outages fail fast instead of hanging
	// every request until its timeout.
	if transcriber != nil {
		transcriber = resilience.GuardTranscriber(transcriber, resilience.BreakerConfig{Name: "stt"})
	}
	if completer != nil {
		completer = resilience.GuardCompleter(completer, resilience.BreakerConfig{Name: "llm"})
	}
	if generator != nil {
		generator = resilience.GuardGenerator(generator, resilience.BreakerConfig{
			Name:     "video",
			Cooldown: 2 * time.Minute,
		})
	}

	var pipeline *dream.Pipeline
	if generator != nil {
		var popts []dream.PipelineOption
		if archive != nil {
			popts = append(popts, dream.WithArchiver(archive))
		}
		pipeline = dream.NewPipeline(completer, generator, popts...)
	} else {
		slog.Warn("video provider not configured — dream submission disabled")
	}

	bridge := relay.New(relay.Config{
		UpstreamURL: cfg.Upstream.URL,
		Model:       cfg.Upstream.Model,
		APIKey:      cfg.Upstream.APIKey,
	})

	printStartupSummary(cfg)

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &web.Server{
		Transcriber: transcriber,
		Completer:   completer,
		Pipeline:    pipeline,
		Relay:       bridge,
		Health:      health.New(hc...),
		StaticDir:   cfg.Server.StaticDir,
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- httpSrv.ListenAndServe()
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// upstreamCheck reports whether the relay has enough configuration to dial
// the realtime endpoint. An unset environment variable behind a ${VAR}
// reference survives loading verbatim, so that counts as missing too.
func upstreamCheck(cfg config.UpstreamConfig) func(context.Context) error {
	return func(context.Context) error {
		if cfg.URL == "" {
			return errors.New("upstream url not configured")
		}
		if cfg.APIKey == "" || strings.HasPrefix(cfg.APIKey, "${") {
			return errors.New("upstream api key not configured")
		}
		return nil
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func buildTranscriber(entry config.ProviderEntry) stt.Transcriber {
	if entry.Name == "" {
		return nil
	}
	var opts []whisper.Option
	if entry.Model != "" {
		opts = append(opts, whisper.WithModel(openai.AudioModel(entry.Model)))
	}
	if entry.BaseURL != "" {
		opts = append(opts, whisper.WithBaseURL(entry.BaseURL))
	}
	slog.Info("provider created", "kind", "stt", "name", entry.Name)
	return whisper.New(entry.APIKey, opts...)
}

func buildCompleter(entry config.ProviderEntry) dream.Completer {
	if entry.Name == "" {
		return nil
	}
	var opts []dream.CompleterOption
	if entry.Model != "" {
		opts = append(opts, dream.WithCompleterModel(entry.Model))
	}
	if entry.BaseURL != "" {
		opts = append(opts, dream.WithCompleterBaseURL(entry.BaseURL))
	}
	slog.Info("provider created", "kind", "llm", "name", entry.Name)
	return dream.NewOpenAICompleter(entry.APIKey, opts...)
}

func buildGenerator(entry config.ProviderEntry) video.Generator {
	if entry.Name == "" {
		return nil
	}
	var opts []freepik.Option
	if entry.Model != "" {
		opts = append(opts, freepik.WithModel(entry.Model))
	}
	if entry.BaseURL != "" {
		opts = append(opts, freepik.WithBaseURL(entry.BaseURL))
	}
	slog.Info("provider created", "kind", "video", "name", entry.Name)
	return freepik.New(entry.APIKey, opts...)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        DreamPulse — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Video", cfg.Providers.Video.Name, cfg.Providers.Video.Model)
	printProvider("Realtime", "openai", cfg.Upstream.Model)
	if cfg.Archive.PostgresDSN != "" {
		fmt.Printf("║  Archive         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Archive         : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.StaticDir != "" {
		fmt.Printf("║  Static dir      : %-19s ║\n", trunc(cfg.Server.StaticDir))
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", trunc(cfg.Server.ListenAddr))
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, trunc(value))
}

func trunc(s string) string {
	if len(s) > 19 {
		return s[:16] + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

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
