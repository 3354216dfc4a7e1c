package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angeloszaimis/self-healing/config"
	"github.com/angeloszaimis/self-healing/internal/engine"
	"github.com/angeloszaimis/self-healing/internal/handler"
	"github.com/angeloszaimis/self-healing/internal/httpserver"
	"github.com/angeloszaimis/self-healing/pkg/logger"
)

const engineShutdownTimeout = 30 * time.Second

func main() {
	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engineCfg, err := buildEngineConfig(cfg)
	if err != nil {
		log.Error("Invalid engine configuration", slog.Any("err", err))
		os.Exit(1)
	}

	clients := newHTTPComponents(log)
	e := engine.New(engineCfg, log,
		engine.WithCacheClearer(clients),
		engine.WithNudger(clients))

	if _, err := clients.register(e, cfg.Components, engineCfg.ProbeTimeout); err != nil {
		log.Error("Failed to register components", slog.Any("err", err))
		os.Exit(1)
	}

	loader.Watch(func(next *config.Config) {
		policies, err := buildPolicies(next.Recovery.Policies)
		if err != nil {
			log.Error("Ignoring recovery policy change", slog.Any("err", err))
			return
		}
		e.SetPolicies(policies)
		log.Info("Recovery policies reloaded")
	})

	serverCfg, err := buildServerConfig(cfg)
	if err != nil {
		log.Error("Invalid server configuration", slog.Any("err", err))
		os.Exit(1)
	}

	api := handler.NewAPI(log, e)
	srv, err := httpserver.New(cfg.Server.Address, setupRouter(api), serverCfg)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	if err := e.Start(ctx); err != nil {
		log.Error("Failed to start engine", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()
	log.Info("Self-healing engine listening", slog.String("addr", cfg.Server.Address))

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case <-e.ShutdownRequested():
		log.Error("System integrity lost, shutting down")
		exitCode = 1
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting server", slog.Any("err", err))
			exitCode = 1
		}
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error("Error during server shutdown", slog.Any("err", err))
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), engineShutdownTimeout)
	defer stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during engine shutdown", slog.Any("err", err))
		exitCode = 1
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
