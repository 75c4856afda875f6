package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/do/v2"

	assetsimpl "github.com/hazuki-lab/utawakun/external/assets"
	callsimpl "github.com/hazuki-lab/utawakun/external/calls"
	configloader "github.com/hazuki-lab/utawakun/external/config"
	notifyimpl "github.com/hazuki-lab/utawakun/external/notify"
	repositoryimpl "github.com/hazuki-lab/utawakun/external/repository"
	resolverimpl "github.com/hazuki-lab/utawakun/external/resolver"
	"github.com/hazuki-lab/utawakun/internal/capability"
	"github.com/hazuki-lab/utawakun/internal/config"
	"github.com/hazuki-lab/utawakun/internal/orchestrator"
	"github.com/hazuki-lab/utawakun/internal/queue"
	"github.com/hazuki-lab/utawakun/internal/repository"
	"github.com/hazuki-lab/utawakun/internal/setup"
	"github.com/hazuki-lab/utawakun/internal/streamer"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 30 * time.Second
	setupGCInterval = time.Minute
)

func main() {
	_ = godotenv.Load()

	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	run(injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, capability.Probe())
	repositoryimpl.RegisterDI(injector)
	assetsimpl.RegisterDI(injector)
	callsimpl.RegisterDI(injector)
	resolverimpl.RegisterDI(injector)
	notifyimpl.RegisterDI(injector)
	queue.RegisterDI(injector)
	streamer.RegisterDI(injector)
	setup.RegisterDI(injector)
	orchestrator.RegisterDI(injector)

	return injector
}

func run(injector do.Injector) {
	qm, err := do.Invoke[*queue.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve queue manager", "error", err)
		os.Exit(1)
	}
	backend, err := do.Invoke[*streamer.Streamer](injector)
	if err != nil {
		slog.Error("failed to resolve streaming backend", "error", err)
		os.Exit(1)
	}
	credsRepo, err := do.Invoke[repository.CredentialsRepository](injector)
	if err != nil {
		slog.Error("failed to resolve credentials repository", "error", err)
		os.Exit(1)
	}
	setupManager, err := do.Invoke[*setup.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve setup manager", "error", err)
		os.Exit(1)
	}
	engine, err := do.Invoke[*orchestrator.Orchestrator](injector)
	if err != nil {
		slog.Error("failed to resolve orchestrator", "error", err)
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	slog.Info("startup: restoring persisted queues")
	if err := qm.Load(startCtx); err != nil {
		slog.Error("queue restore failed", "error", err)
		cancel()
		os.Exit(1)
	}

	// A missing credential record is not fatal. The process stays up so the
	// setup conversation can configure the backend later.
	initializeBackend(startCtx, credsRepo, backend)
	cancel()

	engine.Start()

	gcCtx, gcCancel := context.WithCancel(context.Background())
	go setupManager.RunGC(gcCtx, setupGCInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	gcCancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	engine.Shutdown(stopCtx)
	stopCancel()
}

func initializeBackend(ctx context.Context, credsRepo repository.CredentialsRepository, backend *streamer.Streamer) {
	creds, ok, err := credsRepo.GetCredentials(ctx)
	if err != nil {
		slog.Error("failed to read stored credentials", "error", err)
		return
	}
	if !ok || !creds.Complete() {
		slog.Info("streaming backend not configured; run the setup conversation to sign in")
		return
	}
	if err := backend.Initialize(ctx, creds); err != nil {
		slog.Error("backend initialization with stored credentials failed", "error", err)
	}
}
