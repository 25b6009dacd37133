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

// Package ledger is the only writer of credit balances. It wraps a
// store.CreditLedger with the overdraft policy, bounded retries on
// concurrent modification, and the entitlement guard.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mydraws-credits-go/internal/metrics"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"go.uber.org/zap"
)

// CreditResult tells a caller whether a grant changed the balance.
type CreditResult string

const (
	CreditApplied        CreditResult = "applied"
	CreditAlreadyApplied CreditResult = "already_applied"
)

const debitTypePrefix = "CREDIT_USE_"

// ErrLedgerBusy is returned once concurrent-modification retries are exhausted.
var ErrLedgerBusy = errors.New("credit ledger is busy, try again")

type Service struct {
	store        store.CreditLedger
	policy       store.OverdraftPolicy
	maxRetries   int
	retryBackoff time.Duration
}

func NewService(s store.CreditLedger, cfg models.LedgerConfig) *Service {
	policy := store.OverdraftPolicy(cfg.OverdraftPolicy)
	if policy != store.OverdraftClamp {
		policy = store.OverdraftReject
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Service{
		store:        s,
		policy:       policy,
		maxRetries:   maxRetries,
		retryBackoff: cfg.RetryBackoff,
	}
}

func (s *Service) Policy() store.OverdraftPolicy {
	return s.policy
}

// Debit removes amount credits for reason. A non-empty idempotencyKey makes the
// call replay-safe: a second call returns store.ErrDuplicateTransaction. The key
// is scoped by the transaction type, so equal keys under different reasons do
// not collide.
func (s *Service) Debit(ctx context.Context, accountId string, amount int64, reason, idempotencyKey string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", store.ErrInvalidAmount, amount)
	}

	transactionType := debitTypePrefix + reason
	params := store.DebitParams{
		AccountId:       accountId,
		Amount:          amount,
		TransactionType: transactionType,
		IdempotencyKey:  scopedKey(transactionType, idempotencyKey),
		Reference:       reason,
		Policy:          s.policy,
	}

	var tx *models.CreditTransaction
	err := s.withRetry(ctx, "debit", func() error {
		var err error
		tx, err = s.store.ApplyDebit(ctx, params)
		return err
	})
	if err != nil {
		metrics.LedgerOperations.WithLabelValues("debit", outcomeLabel(err)).Inc()
		if errors.Is(err, store.ErrDuplicateTransaction) {
			zap.L().Info("Duplicate debit ignored",
				zap.String("account_id", accountId),
				zap.String("idempotency_key", idempotencyKey))
		}
		return nil, err
	}

	metrics.LedgerOperations.WithLabelValues("debit", "ok").Inc()
	zap.L().Info("Credits debited",
		zap.String("account_id", accountId),
		zap.String("reason", reason),
		zap.Int64("amount", -tx.Amount),
		zap.Int64("new_balance", tx.BalanceAfter))
	return tx, nil
}

// Credit grants amount credits. With an idempotency key the transaction type
// becomes reason_key and a replay returns CreditAlreadyApplied. Deduplication
// is on reason_key, so a provider payment id cannot be swallowed by an equal
// key recorded under another reason.
func (s *Service) Credit(ctx context.Context, accountId string, amount int64, reason, idempotencyKey string) (CreditResult, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: got %d", store.ErrInvalidAmount, amount)
	}

	transactionType := reason
	if idempotencyKey != "" {
		transactionType = reason + "_" + idempotencyKey
	}
	params := store.CreditParams{
		AccountId:       accountId,
		Amount:          amount,
		TransactionType: transactionType,
		IdempotencyKey:  scopedKey(reason, idempotencyKey),
		Reference:       reason,
	}

	var tx *models.CreditTransaction
	err := s.withRetry(ctx, "credit", func() error {
		var err error
		tx, err = s.store.ApplyCredit(ctx, params)
		return err
	})
	if errors.Is(err, store.ErrDuplicateTransaction) {
		metrics.LedgerOperations.WithLabelValues("credit", "duplicate").Inc()
		zap.L().Info("Duplicate credit ignored",
			zap.String("account_id", accountId),
			zap.String("idempotency_key", idempotencyKey))
		return CreditAlreadyApplied, nil
	}
	if err != nil {
		metrics.LedgerOperations.WithLabelValues("credit", outcomeLabel(err)).Inc()
		return "", err
	}

	metrics.LedgerOperations.WithLabelValues("credit", "ok").Inc()
	zap.L().Info("Credits granted",
		zap.String("account_id", accountId),
		zap.String("transaction_type", transactionType),
		zap.Int64("amount", amount),
		zap.Int64("new_balance", tx.BalanceAfter))
	return CreditApplied, nil
}

func (s *Service) Balance(ctx context.Context, accountId string) (int64, error) {
	return s.store.GetBalance(ctx, accountId)
}

// History returns transactions newest first. limit defaults to 20 and is capped at 100.
func (s *Service) History(ctx context.Context, accountId string, limit, offset int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.GetTransactionHistory(ctx, accountId, limit, offset)
}

func (s *Service) Reconcile(ctx context.Context, accountId string) error {
	return s.store.ReconcileBalance(ctx, accountId)
}

// HasSufficientCredits is a pure read.
func (s *Service) HasSufficientCredits(ctx context.Context, accountId string, required int64) (bool, error) {
	if required <= 0 {
		return false, fmt.Errorf("%w: required %d", store.ErrInvalidAmount, required)
	}
	balance, err := s.store.GetBalance(ctx, accountId)
	if err != nil {
		return false, err
	}
	return balance >= required, nil
}

// Authorize prices op and checks the balance covers it. It returns the cost
// so the caller debits exactly what was checked.
func (s *Service) Authorize(ctx context.Context, accountId string, op Operation) (int64, error) {
	cost, err := Price(op)
	if err != nil {
		return 0, err
	}
	ok, err := s.HasSufficientCredits(ctx, accountId, cost)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s costs %d", store.ErrInsufficientCredits, op, cost)
	}
	return cost, nil
}

func (s *Service) withRetry(ctx context.Context, operation string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.LedgerRetries.Inc()
			zap.L().Warn("Retrying ledger operation after concurrent modification",
				zap.String("operation", operation),
				zap.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * s.retryBackoff):
			}
		}
		err = fn()
		if !errors.Is(err, store.ErrConcurrentModification) {
			return err
		}
	}
	zap.L().Error("Ledger operation gave up after concurrent modifications",
		zap.String("operation", operation),
		zap.Int("attempts", s.maxRetries+1),
		zap.Error(err))
	return fmt.Errorf("%w: %s gave up after %d attempts", ErrLedgerBusy, operation, s.maxRetries+1)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, store.ErrDuplicateTransaction):
		return "duplicate"
	case errors.Is(err, store.ErrInsufficientCredits):
		return "insufficient"
	case errors.Is(err, store.ErrAccountNotFound):
		return "unknown_account"
	case errors.Is(err, ErrLedgerBusy):
		return "busy"
	default:
		return "error"
	}
}

// scopedKey qualifies an idempotency key with its transaction type. The stored
// key is unique across the ledger.
func scopedKey(scope, key string) string {
	if key == "" {
		return ""
	}
	return scope + "_" + key
}
