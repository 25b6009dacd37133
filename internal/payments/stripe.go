package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"mydraws-credits-go/internal/ledger"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

const (
	ProviderStripe = "stripe"
	stripeReason   = "STRIPE"
)

// StripeAdapter reconciles signed checkout webhooks
type StripeAdapter struct {
	webhookSecret string
	catalog       *Catalog
	credits       *creditApplier
}

var _ Adapter = (*StripeAdapter)(nil)

func NewStripeAdapter(cfg models.StripeConfig, catalog *Catalog, accounts store.AccountStore, ledgerService *ledger.Service) (*StripeAdapter, error) {
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret cannot be empty")
	}
	return &StripeAdapter{
		webhookSecret: cfg.WebhookSecret,
		catalog:       catalog,
		credits:       &creditApplier{accounts: accounts, ledger: ledgerService},
	}, nil
}

func (a *StripeAdapter) Provider() string {
	return ProviderStripe
}

func (a *StripeAdapter) Verify(_ context.Context, raw RawEvent) (*VerifiedEvent, error) {
	event, err := webhook.ConstructEventWithOptions(raw.Body, raw.Header.Get("Stripe-Signature"), a.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return nil, fmt.Errorf("%w: %v", ErrVerification, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	verified := &VerifiedEvent{Provider: ProviderStripe, EventId: event.ID}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		verified.Ignored = true
		verified.Detail = "event type " + string(event.Type)
		return verified, nil
	}

	if event.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", ErrMalformedPayload, event.ID)
	}
	var checkout stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &checkout); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %v", ErrMalformedPayload, err)
	}

	verified.PaymentId = checkout.ID
	verified.AccountId = checkout.Metadata["user_id"]
	verified.PackId = checkout.Metadata["pack_id"]
	verified.Status = string(checkout.PaymentStatus)
	verified.Approved = checkout.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
		checkout.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired

	if pkg, ok := a.catalog.Lookup(verified.PackId); ok {
		verified.Credits = pkg.Credits
	}
	return verified, nil
}

func (a *StripeAdapter) Apply(ctx context.Context, event *VerifiedEvent) (Outcome, error) {
	if !event.Ignored {
		if _, ok := a.catalog.Lookup(event.PackId); !ok {
			return OutcomeRejected, fmt.Errorf("%w: %w %q", ErrRejected, ErrUnknownPackage, event.PackId)
		}
	}
	return a.credits.apply(ctx, event, stripeReason)
}

// CheckoutSession is what the client needs to redirect to the hosted checkout
type CheckoutSession struct {
	Id  string `json:"session_id"`
	URL string `json:"url"`
}

// StripeCheckout creates hosted checkout sessions for catalog packages
type StripeCheckout struct {
	sessions   session.Client
	catalog    *Catalog
	successURL string
	cancelURL  string
	currency   string
}

func NewStripeCheckout(cfg models.StripeConfig, catalog *Catalog, httpClient *http.Client) (*StripeCheckout, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key cannot be empty")
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(2),
	})
	return newStripeCheckout(cfg, catalog, backend), nil
}

func newStripeCheckout(cfg models.StripeConfig, catalog *Catalog, backend stripe.Backend) *StripeCheckout {
	currency := cfg.Currency
	if currency == "" {
		currency = "usd"
	}
	return &StripeCheckout{
		sessions:   session.Client{B: backend, Key: cfg.SecretKey},
		catalog:    catalog,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		currency:   currency,
	}
}

// CreateSession starts a card checkout for packId on behalf of account.
func (c *StripeCheckout) CreateSession(ctx context.Context, account *models.Account, packId string) (*CheckoutSession, error) {
	pkg, ok := c.catalog.Lookup(packId)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPackage, packId)
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(c.successURL),
		CancelURL:          stripe.String(c.cancelURL),
		Currency:           stripe.String(c.currency),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(c.currency),
				UnitAmount: stripe.Int64(pkg.UnitAmount()),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(pkg.Label),
				},
			},
			Quantity: stripe.Int64(1),
		}},
	}
	if account.Email != "" {
		params.CustomerEmail = stripe.String(account.Email)
	}
	params.Context = ctx
	params.AddMetadata("user_id", account.Id)
	params.AddMetadata("pack_id", pkg.Id)

	s, err := c.sessions.New(params)
	if err != nil {
		zap.L().Error("Failed to create checkout session",
			zap.String("account_id", account.Id),
			zap.String("pack_id", pkg.Id),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	zap.L().Info("Checkout session created",
		zap.String("account_id", account.Id),
		zap.String("pack_id", pkg.Id),
		zap.String("session_id", s.ID))
	return &CheckoutSession{Id: s.ID, URL: s.URL}, nil
}
