package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"mydraws-credits-go/internal/api"
	"mydraws-credits-go/internal/ledger"
	"mydraws-credits-go/internal/payments"
	"mydraws-credits-go/internal/storage"
	"mydraws-credits-go/internal/store"
	"mydraws-credits-go/internal/transform"

	"go.uber.org/zap"
)

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			zap.L().Warn("Failed to encode response", zap.Error(err))
		}
	}
}

// statusFor maps domain errors to HTTP. A resource owned by another account
// is reported exactly like a missing one.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "insufficient credits"
	case errors.Is(err, store.ErrNotOwner),
		errors.Is(err, store.ErrResourceNotFound),
		errors.Is(err, store.ErrBookNotFound),
		errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, storage.ErrBlobNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, transform.ErrTransformFailed):
		return http.StatusUnprocessableEntity, "image transformation failed"
	case errors.Is(err, api.ErrInvalidInput),
		errors.Is(err, ledger.ErrUnknownOperation),
		errors.Is(err, store.ErrInvalidAmount),
		errors.Is(err, payments.ErrInvalidCredits),
		errors.Is(err, payments.ErrUnknownPackage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ledger.ErrLedgerBusy):
		return http.StatusServiceUnavailable, "please retry"
	case errors.Is(err, payments.ErrProviderUnavailable):
		return http.StatusBadGateway, "payment provider unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code, message := statusFor(err)
	if code >= http.StatusInternalServerError {
		zap.L().Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	respondWithError(w, code, message)
}
