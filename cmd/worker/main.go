package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"classroom/internal/app"
	"classroom/internal/config"
	"classroom/internal/logging"
)

// Worker consumes domain events from the shared queue.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.QueueBackend != "redis" {
		logger.Fatal("worker needs QUEUE_BACKEND=redis; the API processes events in-process otherwise")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	startCtx, startCancel := context.WithTimeout(ctx, 15*time.Second)
	c, err := app.New(startCtx, cfg, logger)
	startCancel()
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer c.Close()

	if err := c.Redis.Ping(ctx); err != nil {
		logger.Warn("redis not reachable yet, consumer will keep retrying", zap.Error(err))
	}

	if err := c.Processor.Run(ctx, c.Queue); err != nil {
		logger.Error("worker failed", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}
