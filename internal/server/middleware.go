package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"mydraws-credits-go/internal/metrics"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware labels requests by route template so ids do not explode
// the label cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := "unmatched"
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		timer := prometheus.NewTimer(metrics.HTTPRequestDuration.WithLabelValues(r.Method, endpoint))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDuration()

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

// accountMiddleware trusts the identity header set by the authentication
// proxy in front of the service, and only checks the account exists.
func (s *Server) accountMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountId := strings.TrimSpace(r.Header.Get(s.accountHeader))
		if accountId == "" {
			respondWithError(w, http.StatusUnauthorized, "missing account identity")
			return
		}

		account, err := s.api.Account(r.Context(), accountId)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				zap.L().Warn("Request for unknown account", zap.String("account_id", accountId))
				respondWithError(w, http.StatusUnauthorized, "unknown account")
				return
			}
			zap.L().Error("Failed to resolve account", zap.String("account_id", accountId), zap.Error(err))
			respondWithError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		next.ServeHTTP(w, r.WithContext(models.WithAccount(r.Context(), account)))
	})
}
