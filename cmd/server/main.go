// Package main provides the HTTP server entry point for creatorsync.
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

	"github.com/peteski22/creatorsync/internal/app"
	"github.com/peteski22/creatorsync/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("closing application", "error", err)
		}
	}()

	h, err := a.Handler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", cfg.Server.Addr,
			"storage", cfg.Storage.Backend,
			"status", cfg.Sync.StatusBackend,
			"dry_run", cfg.Sync.DryRun)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serving HTTP: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop taking requests first, then let running syncs finish within the same deadline.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutting down HTTP server", "error", err)
	}
	if err := a.Runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn("sync runs cancelled at shutdown", "error", err)
	}

	logger.Info("server stopped")
	return nil
}
