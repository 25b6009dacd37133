package server

import (
	"io"
	"net/http"
	"strconv"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/payments"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// handleWebhook hands the untouched body to the reconciler; signature checks
// need the exact bytes the provider sent.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		zap.L().Warn("Unable to read webhook body", zap.String("provider", provider), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	code, outcome := s.reconciler.Reconcile(r.Context(), provider, payments.RawEvent{
		Body:   body,
		Header: r.Header,
		Query:  r.URL.Query(),
	})
	respondWithJSON(w, code, map[string]string{"outcome": string(outcome)})
}

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		respondWithJSON(w, http.StatusOK, []payments.Package{})
		return
	}
	respondWithJSON(w, http.StatusOK, s.catalog.All())
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if s.mercadoPago == nil {
		respondWithError(w, http.StatusNotImplemented, "mercado pago is not configured")
		return
	}
	credits, err := strconv.ParseInt(r.URL.Query().Get("credits"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "credits must be an integer")
		return
	}
	quote, err := s.mercadoPago.Quote(credits)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, quote)
}

type stripeCheckoutRequest struct {
	PackId string `json:"pack_id"`
}

func (s *Server) handleStripeCheckout(w http.ResponseWriter, r *http.Request) {
	if s.stripe == nil {
		respondWithError(w, http.StatusNotImplemented, "stripe is not configured")
		return
	}
	var req stripeCheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := s.stripe.CreateSession(r.Context(), models.AccountFromContext(r.Context()), req.PackId)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, session)
}

type preferenceRequest struct {
	Credits int64 `json:"credits"`
}

func (s *Server) handleMercadoPagoPreference(w http.ResponseWriter, r *http.Request) {
	if s.mercadoPago == nil {
		respondWithError(w, http.StatusNotImplemented, "mercado pago is not configured")
		return
	}
	var req preferenceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pref, err := s.mercadoPago.CreatePreference(r.Context(), models.AccountFromContext(r.Context()), req.Credits)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, pref)
}
