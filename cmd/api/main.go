package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"codex-backend/internal/config"
	"codex-backend/internal/di"
	"codex-backend/internal/infrastructure/observability"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := config.NewLoader(config.ConfigDir(), config.GetEnvironment())
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	logger := container.Logger

	// The mirror must be loaded before the first request is served; /health
	// reports 503 until then.
	if err := container.Registry.Initialize(ctx); err != nil {
		logger.Fatal("Failed to initialize registry", zap.Error(err))
	}
	container.Maintenance.Start()

	watcher := watchConfig(loader, cfg, container.Logging, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      container.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("address", srv.Addr),
			zap.String("storage", cfg.Storage.Provider),
			zap.Strings("config_sources", cfg.LoadedFrom),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	if watcher != nil {
		watcher.Stop()
	}
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown completed with errors", zap.Error(err))
	}

	log.Println("Server stopped")
}

// watchConfig hot-reloads the log level. Other settings need a restart.
func watchConfig(loader *config.Loader, cfg *config.Config, logging *di.Logging, logger *zap.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(loader, cfg, logger)
	if err != nil {
		logger.Warn("Configuration hot reloading disabled", zap.Error(err))
		return nil
	}

	watcher.OnChange(func(updated *config.Config) {
		if err := observability.SetLevel(logging.Level, updated.Logging.Level); err != nil {
			logger.Warn("Ignoring log level change", zap.Error(err))
			return
		}
		logger.Info("Log level updated", zap.String("level", updated.Logging.Level))
	})
	return watcher
}
