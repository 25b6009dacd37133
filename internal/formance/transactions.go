package formance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Numscript templates. Metadata is set inside the script so every Formance
// transaction is self-describing.

const numscriptGrant = `vars {
  number $amount
  account $user_id
  string $transaction_type
  string $idempotency_key
  string $reference
}

send [CREDIT $amount] (
  source = @world
  destination = @users:$user_id
)

set_tx_meta("transaction_type", $transaction_type)
set_tx_meta("idempotency_key", $idempotency_key)
set_tx_meta("reference", $reference)
`

// No overdraft clause: Formance refuses the spend with INSUFFICIENT_FUND.
const numscriptSpend = `vars {
  number $amount
  account $user_id
  string $transaction_type
  string $idempotency_key
  string $reference
}

send [CREDIT $amount] (
  source = @users:$user_id
  destination = @platform:consumed
)

set_tx_meta("transaction_type", $transaction_type)
set_tx_meta("idempotency_key", $idempotency_key)
set_tx_meta("reference", $reference)
`

func (s *Service) ApplyCredit(ctx context.Context, params store.CreditParams) (*models.CreditTransaction, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", store.ErrInvalidAmount, params.Amount)
	}
	if _, err := s.accounts.GetAccount(ctx, params.AccountId); err != nil {
		return nil, err
	}
	return s.post(ctx, numscriptGrant, params.AccountId, params.Amount,
		params.TransactionType, params.IdempotencyKey, params.Reference)
}

// ApplyDebit under the clamp policy retries once with whatever balance
// remains, so the ledger never goes negative. When nothing remains, nothing
// is posted, so unlike the SQL backends no 0-amount entry appears in the
// history.
func (s *Service) ApplyDebit(ctx context.Context, params store.DebitParams) (*models.CreditTransaction, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", store.ErrInvalidAmount, params.Amount)
	}
	if _, err := s.accounts.GetAccount(ctx, params.AccountId); err != nil {
		return nil, err
	}

	tx, err := s.post(ctx, numscriptSpend, params.AccountId, params.Amount,
		params.TransactionType, params.IdempotencyKey, params.Reference)
	if err == nil || params.Policy != store.OverdraftClamp || !isInsufficientFundError(err) {
		return tx, err
	}

	balance, err := s.GetBalance(ctx, params.AccountId)
	if err != nil {
		return nil, err
	}
	zap.L().Warn("Clamping debit to remaining balance",
		zap.String("account_id", params.AccountId),
		zap.Int64("requested", params.Amount),
		zap.Int64("balance", balance))
	if balance == 0 {
		return emptyClampTransaction(params), nil
	}
	return s.post(ctx, numscriptSpend, params.AccountId, balance,
		params.TransactionType, params.IdempotencyKey, params.Reference)
}

// emptyClampTransaction describes a clamped debit that removed nothing. It is
// returned to the caller but never stored.
func emptyClampTransaction(params store.DebitParams) *models.CreditTransaction {
	return &models.CreditTransaction{
		Id:              uuid.New().String(),
		AccountId:       params.AccountId,
		TransactionType: params.TransactionType,
		IdempotencyKey:  params.IdempotencyKey,
		Reference:       params.Reference,
		CreatedAt:       time.Now().UTC(),
	}
}

func (s *Service) post(ctx context.Context, script, accountId string, amount int64, transactionType, idempotencyKey, reference string) (*models.CreditTransaction, error) {
	ref := idempotencyKey
	if ref == "" {
		ref = uuid.New().String()
	}

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: strPtr(ref),
			Script: &shared.V2PostTransactionScript{
				Plain: script,
				Vars: map[string]string{
					"amount":           strconv.FormatInt(amount, 10),
					"user_id":          accountId,
					"transaction_type": transactionType,
					"idempotency_key":  idempotencyKey,
					"reference":        reference,
				},
			},
		},
	})
	if err != nil {
		if isConflictError(err) {
			return nil, fmt.Errorf("%w: idempotency key %s already applied", store.ErrDuplicateTransaction, ref)
		}
		if isInsufficientFundError(err) {
			return nil, fmt.Errorf("%w: account %s cannot cover %d", store.ErrInsufficientCredits, accountId, amount)
		}
		return nil, fmt.Errorf("error posting credit transaction: %w", err)
	}

	signed := amount
	if script == numscriptSpend {
		signed = -amount
	}
	transaction := &models.CreditTransaction{
		Id:              ref,
		AccountId:       accountId,
		Amount:          signed,
		TransactionType: transactionType,
		IdempotencyKey:  idempotencyKey,
		Reference:       reference,
		CreatedAt:       time.Now().UTC(),
	}
	if balance, err := s.GetBalance(ctx, accountId); err == nil {
		transaction.BalanceAfter = balance
		transaction.BalanceBefore = balance - signed
	}

	zap.L().Info("Credit transaction posted to Formance",
		zap.String("reference", ref),
		zap.String("account_id", accountId),
		zap.Int64("amount", signed))
	return transaction, nil
}

// GetTransactionHistory lists the user's postings newest first. Balances are
// rebuilt by walking back from the current balance.
func (s *Service) GetTransactionHistory(ctx context.Context, accountId string, limit, offset int) ([]models.CreditTransaction, error) {
	addr := userAddress(accountId)
	pageSize := int64(limit + offset)

	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
		RequestBody: map[string]any{
			"$or": []any{
				map[string]any{"$match": map[string]any{"source": addr}},
				map[string]any{"$match": map[string]any{"destination": addr}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	running, err := s.GetBalance(ctx, accountId)
	if err != nil {
		return nil, err
	}

	var result []models.CreditTransaction
	for i, tx := range resp.V2TransactionsCursorResponse.Cursor.Data {
		var amount int64
		for _, p := range tx.Postings {
			if p.Asset != creditAsset || p.Amount == nil {
				continue
			}
			if p.Source == addr {
				amount -= p.Amount.Int64()
			} else if p.Destination == addr {
				amount += p.Amount.Int64()
			}
		}

		ref := ""
		if tx.Reference != nil {
			ref = *tx.Reference
		}
		entry := models.CreditTransaction{
			Id:              fmt.Sprintf("%d", tx.ID),
			AccountId:       accountId,
			Amount:          amount,
			TransactionType: tx.Metadata["transaction_type"],
			IdempotencyKey:  tx.Metadata["idempotency_key"],
			BalanceAfter:    running,
			BalanceBefore:   running - amount,
			Reference:       firstNonEmpty(tx.Metadata["reference"], ref),
			CreatedAt:       tx.Timestamp,
		}
		running = entry.BalanceBefore

		if i < offset {
			continue
		}
		result = append(result, entry)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// ReconcileBalance is a consistency check only; Formance balances are derived
// from postings, so the check confirms the account is readable and non-negative.
func (s *Service) ReconcileBalance(ctx context.Context, accountId string) error {
	balance, err := s.GetBalance(ctx, accountId)
	if err != nil {
		return err
	}
	if balance < 0 {
		return fmt.Errorf("%w: formance balance is %d", store.ErrBalanceMismatch, balance)
	}
	zap.L().Info("Reconciliation is consistent by construction in Formance",
		zap.String("account_id", accountId), zap.Int64("balance", balance))
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
