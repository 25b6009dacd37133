/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"mydraws-credits-go/internal/common"
	"mydraws-credits-go/internal/config"
	"mydraws-credits-go/internal/jobs"
	"mydraws-credits-go/internal/server"

	"go.uber.org/zap"
)

func main() {
	embeddedWorker := flag.Bool("embedded-worker", false, "Also run the background job worker in this process")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting credits API server", zap.String("addr", cfg.Server.Addr))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	var worker *jobs.Worker
	if *embeddedWorker {
		worker, err = services.NewWorker(cfg.Worker)
		if err != nil {
			zap.L().Fatal("Failed to create embedded worker", zap.Error(err))
		}
		if err := worker.Start(ctx); err != nil {
			zap.L().Fatal("Failed to start embedded worker", zap.Error(err))
		}
	}

	srv := server.New(cfg.Server, server.Dependencies{
		API:         services.API,
		Reconciler:  services.Reconciler,
		Catalog:     services.Catalog,
		Stripe:      services.StripeCheckout,
		MercadoPago: services.MercadoPagoCheckout,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		zap.L().Info("Shutdown signal received")
	case err := <-errChan:
		if err != nil {
			zap.L().Error("HTTP server stopped unexpectedly", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Forced HTTP shutdown after timeout", zap.Error(err))
	}

	if worker != nil {
		done := make(chan struct{})
		go func() {
			worker.Stop()
			close(done)
		}()
		select {
		case <-done:
			zap.L().Info("Embedded worker stopped gracefully")
		case <-shutdownCtx.Done():
			zap.L().Warn("Forced worker shutdown after timeout")
		}
	}
}
