package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"mydraws-credits-go/internal/common"
	"mydraws-credits-go/internal/config"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting transform worker",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Duration("poll_interval", cfg.Worker.PollInterval))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	worker, err := services.NewWorker(cfg.Worker)
	if err != nil {
		zap.L().Fatal("Failed to create worker", zap.Error(err))
	}
	if err := worker.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start worker", zap.Error(err))
	}

	zap.L().Info("Worker running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, waiting for in-flight jobs...")

	// Jobs still running past the timeout keep their lease and are requeued
	// by the next worker's cleanup.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.JobTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
