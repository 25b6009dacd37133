package payments

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"mydraws-credits-go/internal/metrics"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"go.uber.org/zap"
)

// Reconciler routes deliveries to the adapter of their provider and decides
// the HTTP status the provider sees.
type Reconciler struct {
	adapters map[string]Adapter
	events   store.PaymentEventStore
}

func NewReconciler(events store.PaymentEventStore, adapters ...Adapter) *Reconciler {
	r := &Reconciler{adapters: make(map[string]Adapter, len(adapters)), events: events}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

func (r *Reconciler) Providers() []string {
	providers := make([]string, 0, len(r.adapters))
	for p := range r.adapters {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

// Reconcile verifies and applies one delivery. Once a payload is authentic
// every business outcome answers 200 so the provider stops redelivering; only
// unverifiable input (400), provider outages (502) and internal failures (500)
// ask for a retry or signal a broken integration.
func (r *Reconciler) Reconcile(ctx context.Context, provider string, raw RawEvent) (int, Outcome) {
	adapter, ok := r.adapters[provider]
	if !ok {
		zap.L().Warn("Webhook for unknown payment provider", zap.String("provider", provider))
		return http.StatusNotFound, OutcomeInvalid
	}

	logger := zap.L().With(zap.String("provider", provider))

	event, err := adapter.Verify(ctx, raw)
	if err != nil {
		switch {
		case errors.Is(err, ErrProviderUnavailable):
			logger.Error("Payment provider unavailable during verification", zap.Error(err))
			r.count(provider, OutcomeError)
			return http.StatusBadGateway, OutcomeError
		case errors.Is(err, ErrVerification), errors.Is(err, ErrMalformedPayload):
			logger.Warn("Payment event failed verification", zap.Error(err))
			r.count(provider, OutcomeInvalid)
			return http.StatusBadRequest, OutcomeInvalid
		default:
			logger.Error("Payment event verification error", zap.Error(err))
			r.count(provider, OutcomeError)
			return http.StatusInternalServerError, OutcomeError
		}
	}

	logger = logger.With(
		zap.String("event_id", event.EventId),
		zap.String("payment_id", event.PaymentId),
		zap.String("account_id", event.AccountId))

	outcome, err := adapter.Apply(ctx, event)
	detail := event.Detail
	if err != nil {
		detail = err.Error()
	}

	status := http.StatusOK
	switch outcome {
	case OutcomeApplied:
		logger.Info("Payment credited", zap.Int64("credits", event.Credits))
	case OutcomeDuplicate:
		logger.Info("Duplicate payment event ignored")
	case OutcomeIgnored:
		logger.Debug("Payment event ignored", zap.String("detail", detail))
	case OutcomeRejected:
		logger.Warn("Payment event rejected", zap.String("detail", detail))
	default:
		outcome = OutcomeError
		status = http.StatusInternalServerError
		logger.Error("Failed to apply payment event", zap.Error(err))
	}

	r.record(ctx, event, outcome, detail)
	r.count(provider, outcome)
	return status, outcome
}

func (r *Reconciler) record(ctx context.Context, event *VerifiedEvent, outcome Outcome, detail string) {
	if r.events == nil || event.EventId == "" {
		return
	}
	err := r.events.RecordPaymentEvent(context.WithoutCancel(ctx), models.PaymentEvent{
		Provider:        event.Provider,
		ProviderEventId: event.EventId,
		AccountId:       event.AccountId,
		CreditAmount:    event.Credits,
		Outcome:         string(outcome),
		Detail:          detail,
		ReceivedAt:      time.Now().UTC(),
	})
	if err != nil {
		zap.L().Error("Failed to record payment event",
			zap.String("provider", event.Provider),
			zap.String("event_id", event.EventId),
			zap.Error(err))
	}
}

func (r *Reconciler) count(provider string, outcome Outcome) {
	metrics.PaymentEvents.WithLabelValues(provider, string(outcome)).Inc()
}
