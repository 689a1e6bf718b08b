// Command voxwire is the real-time voice assistant server: a WebSocket
// pipeline (speech-to-text, streaming chat completion, sentence-level speech
// synthesis) plus an HTTP admin surface.
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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxwire/voxwire/internal/admin"
	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/health"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/pipeline"
	"github.com/voxwire/voxwire/internal/provider"
	"github.com/voxwire/voxwire/internal/provider/openai"
	"github.com/voxwire/voxwire/internal/settings"
	"github.com/voxwire/voxwire/internal/store"
	"github.com/voxwire/voxwire/internal/store/postgres"
	"github.com/voxwire/voxwire/internal/ws"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxwire: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxwire starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxwire",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}

	// Persistence: PostgreSQL when a DSN is configured, in-memory otherwise.
	var st store.Store
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pgStore, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("postgres store init failed", "err", err)
			return 1
		}
		st = pgStore
		slog.Info("using postgres store")
	} else {
		st = store.NewMemStore()
		slog.Warn("no postgres dsn configured, conversation history will not survive restarts")
	}

	cache := settings.NewCache(st)
	if err := cache.Load(ctx); err != nil {
		slog.Warn("settings preload failed, continuing with defaults", "err", err)
	}
	// Stored synthesis preferences win over the config file; the admin API
	// rebuilds the adapter when they change, so apply them at startup too.
	cfg.Provider.TTSModel = cache.TTSModel(ctx, cfg.Provider.TTSModel)
	cfg.Provider.Voice = cache.Voice(ctx, cfg.Provider.Voice)

	configured := cfg.Provider.APIKey != ""
	if !configured {
		slog.Warn("OPENAI_API_KEY not set, running in degraded mode")
	}
	adapter := provider.NewSwitchable(openai.New(cfg.Provider), configured)

	pool := pipeline.NewTTSPool(adapter, cfg.Pipeline.TTSWorkers)
	orch := pipeline.NewOrchestrator(adapter, pool, cache, cfg.Pipeline.InOrderAudio, cfg.Pipeline.Moderation)

	hub := ws.NewHub(ws.HubConfig{
		Adapter:      adapter,
		Configured:   adapter.Configured,
		Orchestrator: orch,
		Store:        st,
		Settings:     cache,
		Pipeline:     cfg.Pipeline,
		CORSOrigins:  cfg.Server.CORSOrigins,
		Logger:       logger,
	})

	adminSrv := admin.New(admin.Config{
		Store:          st,
		Settings:       cache,
		Hub:            hub,
		Provider:       adapter,
		ProviderConfig: cfg.Provider,
		NewAdapter: func(pc config.ProviderConfig) provider.Adapter {
			return openai.New(pc)
		},
		Logger: logger,
	})

	healthHandler := health.New(health.DefaultWSPath,
		health.Checker{Name: "store", Check: st.Ping},
		health.Checker{Name: "provider", Check: func(context.Context) error {
			if !adapter.Configured() {
				return errors.New("no provider credentials")
			}
			return nil
		}},
	)

	// Instrumented HTTP routes. The WebSocket mount stays outside the
	// middleware: the upgrade needs the raw ResponseWriter.
	api := http.NewServeMux()
	adminSrv.Register(api)
	healthHandler.Register(api)
	api.Handle("GET /metrics", promhttp.Handler())

	root := http.NewServeMux()
	root.Handle(health.DefaultWSPath, hub)
	root.Handle("/", observe.Middleware(observe.DefaultMetrics())(api))

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready", "addr", cfg.Server.ListenAddr, "ws", health.DefaultWSPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		slog.Warn("hub shutdown incomplete", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "err", err)
	}
	pool.Shutdown()
	st.Close()
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown incomplete", "err", err)
	}

	slog.Info("goodbye")
	return 0
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
