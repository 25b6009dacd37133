// Package payments turns provider notifications into idempotent credit grants.
// Each provider is an Adapter: Verify authenticates the raw delivery and
// extracts who paid for what, Apply grants the credits exactly once.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"mydraws-credits-go/internal/ledger"
	"mydraws-credits-go/internal/store"

	"go.uber.org/zap"
)

var (
	// ErrVerification means the delivery could not be authenticated.
	ErrVerification = errors.New("payment event verification failed")
	// ErrMalformedPayload means the body is not a notification we can parse.
	ErrMalformedPayload = errors.New("malformed payment event")
	// ErrProviderUnavailable means a confirmation call to the provider failed.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrRejected marks a well-formed event that must not grant credits.
	ErrRejected = errors.New("payment event rejected")
)

// RawEvent is an inbound webhook delivery as received.
type RawEvent struct {
	Body   []byte
	Header http.Header
	Query  url.Values
}

// VerifiedEvent is what an adapter extracted from an authenticated delivery.
type VerifiedEvent struct {
	Provider  string
	EventId   string
	PaymentId string
	AccountId string
	PackId    string
	Credits   int64
	Status    string
	Approved  bool
	// Ignored events are authentic but not about a payment we grant for.
	Ignored bool
	Detail  string
}

// Outcome is the reconciliation result of one delivery.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeError     Outcome = "error"
)

// Adapter is one payment provider.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, raw RawEvent) (*VerifiedEvent, error)
	// Apply returns OutcomeRejected with an ErrRejected-wrapped error for events
	// that must not grant, and OutcomeError for internal failures.
	Apply(ctx context.Context, event *VerifiedEvent) (Outcome, error)
}

// creditApplier is the grant step shared by every adapter.
type creditApplier struct {
	accounts store.AccountStore
	ledger   *ledger.Service
}

func (c *creditApplier) apply(ctx context.Context, event *VerifiedEvent, reason string) (Outcome, error) {
	if event.Ignored {
		return OutcomeIgnored, nil
	}
	if !event.Approved {
		return OutcomeRejected, fmt.Errorf("%w: payment %s has status %q", ErrRejected, event.PaymentId, event.Status)
	}
	if event.AccountId == "" {
		return OutcomeRejected, fmt.Errorf("%w: payment %s carries no account", ErrRejected, event.PaymentId)
	}
	if event.Credits <= 0 {
		return OutcomeRejected, fmt.Errorf("%w: payment %s grants %d credits", ErrRejected, event.PaymentId, event.Credits)
	}

	if _, err := c.accounts.GetAccount(ctx, event.AccountId); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return OutcomeRejected, fmt.Errorf("%w: unknown account %s", ErrRejected, event.AccountId)
		}
		return OutcomeError, err
	}

	result, err := c.ledger.Credit(ctx, event.AccountId, event.Credits, reason, event.PaymentId)
	if err != nil {
		return OutcomeError, err
	}
	if result == ledger.CreditAlreadyApplied {
		zap.L().Info("Payment already credited",
			zap.String("provider", event.Provider),
			zap.String("payment_id", event.PaymentId),
			zap.String("account_id", event.AccountId))
		return OutcomeDuplicate, nil
	}
	return OutcomeApplied, nil
}
