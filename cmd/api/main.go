package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classroom/internal/api"
	"classroom/internal/app"
	"classroom/internal/config"
	"classroom/internal/logging"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, 15*time.Second)
	srv, c, err := newServer(startCtx, cfg, logger)
	startCancel()
	if err != nil {
		return err
	}
	defer c.Close()

	// Without a shared queue nobody else would consume the events.
	if cfg.QueueBackend == "memory" {
		go func() {
			if err := c.Processor.Run(ctx, c.Queue); err != nil {
				logger.Error("in-process event processor stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.StoreBackend),
			zap.String("queue", cfg.QueueBackend),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

// newServer wires the container and wraps its router in an http.Server.
func newServer(ctx context.Context, cfg config.App, logger *zap.Logger) (*http.Server, *app.Container, error) {
	c, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(c.APIConfig()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, c, nil
}
