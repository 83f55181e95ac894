package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/LEO0072003/VoiceAI/internal/app"
	"github.com/LEO0072003/VoiceAI/internal/config"
	"github.com/LEO0072003/VoiceAI/internal/observability"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		stop()
		os.Exit(1)
	}
}

// serve builds the service and blocks until ctx is cancelled or the
// listener fails. Resources are released before it returns.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	res, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
	}()
	logger.Info("providers resolved", "llm", res.Providers.LLM, "stt", res.Providers.STT, "tts", res.Providers.TTS)

	if err := res.Orchestrator.Ready(ctx); err != nil {
		logger.Warn("redis not reachable at startup", "error", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: res.API.Router(),
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.BindAddr, err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	logger.Info("shutdown complete")
	return nil
}
