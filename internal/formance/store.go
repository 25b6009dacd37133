package formance

import (
	"context"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"
)

var _ store.Store = (*LedgerStore)(nil)

// LedgerStore routes the credit ledger to Formance and everything else to the
// wrapped SQL store.
type LedgerStore struct {
	store.Store
	ledger *Service
}

func NewLedgerStore(base store.Store, ledger *Service) *LedgerStore {
	return &LedgerStore{Store: base, ledger: ledger}
}

func (l *LedgerStore) ApplyCredit(ctx context.Context, params store.CreditParams) (*models.CreditTransaction, error) {
	return l.ledger.ApplyCredit(ctx, params)
}

func (l *LedgerStore) ApplyDebit(ctx context.Context, params store.DebitParams) (*models.CreditTransaction, error) {
	return l.ledger.ApplyDebit(ctx, params)
}

func (l *LedgerStore) GetBalance(ctx context.Context, accountId string) (int64, error) {
	return l.ledger.GetBalance(ctx, accountId)
}

func (l *LedgerStore) GetTransactionHistory(ctx context.Context, accountId string, limit, offset int) ([]models.CreditTransaction, error) {
	return l.ledger.GetTransactionHistory(ctx, accountId, limit, offset)
}

func (l *LedgerStore) ReconcileBalance(ctx context.Context, accountId string) error {
	return l.ledger.ReconcileBalance(ctx, accountId)
}
