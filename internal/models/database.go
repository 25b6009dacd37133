package models

import (
	"time"
)

// Account represents a user able to hold credits
type Account struct {
	Id           string    `db:"id"`
	Name         string    `db:"name"`
	Email        string    `db:"email"`
	CreditAmount int64     `db:"credit_amount"`
	Version      int64     `db:"version"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// CreditTransaction represents an immutable ledger entry.
// Positive amounts are grants, negative amounts are spends.
type CreditTransaction struct {
	Id              string    `db:"id"`
	AccountId       string    `db:"account_id"`
	Amount          int64     `db:"amount"`
	TransactionType string    `db:"transaction_type"`
	IdempotencyKey  string    `db:"idempotency_key"`
	BalanceBefore   int64     `db:"balance_before"`
	BalanceAfter    int64     `db:"balance_after"`
	Reference       string    `db:"reference"`
	CreatedAt       time.Time `db:"created_at"`
}

// Book groups resources of a single account
type Book struct {
	Id          string    `db:"id"`
	AccountId   string    `db:"account_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Author      string    `db:"author"`
	CreatedAt   time.Time `db:"created_at"`
}

// Resource is an uploaded or derived image owned by an account.
// BasedOn is empty for root resources.
type Resource struct {
	Id          string    `db:"id"`
	AccountId   string    `db:"account_id"`
	Title       string    `db:"title"`
	BlobKey     string    `db:"blob_key"`
	ContentType string    `db:"content_type"`
	BasedOn     string    `db:"based_on"`
	BookId      string    `db:"book_id"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r *Resource) IsRoot() bool {
	return r.BasedOn == ""
}

// PaymentEvent is the audit row written for every reconciled provider notification
type PaymentEvent struct {
	Provider        string    `db:"provider"`
	ProviderEventId string    `db:"provider_event_id"`
	AccountId       string    `db:"account_id"`
	CreditAmount    int64     `db:"credit_amount"`
	Outcome         string    `db:"outcome"`
	Detail          string    `db:"detail"`
	ReceivedAt      time.Time `db:"received_at"`
}
