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

// Package server exposes the api service and the payment webhooks over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"

	"mydraws-credits-go/internal/api"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/payments"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultAccountHeader  = "X-Account-Id"
	defaultMaxUploadBytes = 10 << 20
	maxWebhookBytes       = 1 << 20
)

// Dependencies wires a Server. The checkout clients are optional: a provider
// without credentials simply has no checkout route behaviour.
type Dependencies struct {
	API         *api.Service
	Reconciler  *payments.Reconciler
	Catalog     *payments.Catalog
	Stripe      *payments.StripeCheckout
	MercadoPago *payments.MercadoPagoCheckout
}

type Server struct {
	api         *api.Service
	reconciler  *payments.Reconciler
	catalog     *payments.Catalog
	stripe      *payments.StripeCheckout
	mercadoPago *payments.MercadoPagoCheckout

	accountHeader  string
	maxUploadBytes int64

	router     *mux.Router
	httpServer *http.Server
}

func New(cfg models.ServerConfig, deps Dependencies) *Server {
	s := &Server{
		api:            deps.API,
		reconciler:     deps.Reconciler,
		catalog:        deps.Catalog,
		stripe:         deps.Stripe,
		mercadoPago:    deps.MercadoPago,
		accountHeader:  cfg.AccountHeader,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
	if s.accountHeader == "" {
		s.accountHeader = defaultAccountHeader
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = defaultMaxUploadBytes
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/{provider}", s.handleWebhook).Methods(http.MethodPost)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.accountMiddleware)

	v1.HandleFunc("/account", s.handleGetAccount).Methods(http.MethodGet)
	v1.HandleFunc("/account/transactions", s.handleHistory).Methods(http.MethodGet)
	v1.HandleFunc("/spend", s.handleSpend).Methods(http.MethodPost)

	v1.HandleFunc("/books", s.handleListBooks).Methods(http.MethodGet)
	v1.HandleFunc("/books", s.handleCreateBook).Methods(http.MethodPost)
	v1.HandleFunc("/books/{id}", s.handleDeleteBook).Methods(http.MethodDelete)

	v1.HandleFunc("/resources", s.handleListResources).Methods(http.MethodGet)
	v1.HandleFunc("/resources", s.handleUploadResource).Methods(http.MethodPost)
	v1.HandleFunc("/resources/{id}", s.handleGetResource).Methods(http.MethodGet)
	v1.HandleFunc("/resources/{id}", s.handleDeleteResource).Methods(http.MethodDelete)
	v1.HandleFunc("/resources/{id}/content", s.handleResourceContent).Methods(http.MethodGet)
	v1.HandleFunc("/resources/{id}/book", s.handleAssignBook).Methods(http.MethodPut)
	v1.HandleFunc("/resources/{id}/convert/local", s.handleConvertLocal).Methods(http.MethodPost)
	v1.HandleFunc("/resources/{id}/convert/ai", s.handleSubmitAI).Methods(http.MethodPost)
	v1.HandleFunc("/resources/{id}/convert/ai", s.handlePollAI).Methods(http.MethodGet)

	v1.HandleFunc("/payments/packages", s.handlePackages).Methods(http.MethodGet)
	v1.HandleFunc("/payments/mercadopago/quote", s.handleQuote).Methods(http.MethodGet)
	v1.HandleFunc("/payments/stripe/checkout", s.handleStripeCheckout).Methods(http.MethodPost)
	v1.HandleFunc("/payments/mercadopago/preference", s.handleMercadoPagoPreference).Methods(http.MethodPost)

	return r
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	zap.L().Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	zap.L().Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.api.HealthCheck(r.Context()); err != nil {
		zap.L().Error("Health check failed", zap.Error(err))
		respondWithError(w, http.StatusServiceUnavailable, "unhealthy")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
