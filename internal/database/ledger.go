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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	journalUserCredits    = "user_credits"
	journalPlatform       = "platform"
	platformCreditsIssued = "credits_issued"
	platformCreditsUsed   = "credits_consumed"
)

// ledgerEntry is one balance mutation. Amount is signed.
type ledgerEntry struct {
	accountId       string
	amount          int64
	transactionType string
	idempotencyKey  string
	reference       string
	policy          store.OverdraftPolicy
}

// ApplyCredit grants credits. With an idempotency key the grant lands at most once.
func (s *Service) ApplyCredit(ctx context.Context, params store.CreditParams) (*models.CreditTransaction, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", store.ErrInvalidAmount, params.Amount)
	}
	return s.processTransaction(ctx, ledgerEntry{
		accountId:       params.AccountId,
		amount:          params.Amount,
		transactionType: params.TransactionType,
		idempotencyKey:  params.IdempotencyKey,
		reference:       params.Reference,
	})
}

// ApplyDebit spends credits according to params.Policy.
func (s *Service) ApplyDebit(ctx context.Context, params store.DebitParams) (*models.CreditTransaction, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", store.ErrInvalidAmount, params.Amount)
	}
	policy := params.Policy
	if policy == "" {
		policy = store.OverdraftReject
	}
	return s.processTransaction(ctx, ledgerEntry{
		accountId:       params.AccountId,
		amount:          -params.Amount,
		transactionType: params.TransactionType,
		idempotencyKey:  params.IdempotencyKey,
		reference:       params.Reference,
		policy:          policy,
	})
}

// processTransaction atomically checks for a replay, updates the cached balance
// and appends the transaction. Every read happens inside the same write
// transaction.
func (s *Service) processTransaction(ctx context.Context, entry ledgerEntry) (*models.CreditTransaction, error) {
	zap.L().Info("Processing credit transaction",
		zap.String("account_id", entry.accountId),
		zap.String("type", entry.transactionType),
		zap.Int64("amount", entry.amount),
		zap.String("idempotency_key", entry.idempotencyKey))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	// Check for a replay of the same idempotency key
	if entry.idempotencyKey != "" {
		var existingTxId string
		err := tx.QueryRowContext(ctx, queryCheckDuplicateTransaction, entry.idempotencyKey).Scan(&existingTxId)
		if err == nil {
			zap.L().Info("Duplicate idempotency key detected, skipping",
				zap.String("idempotency_key", entry.idempotencyKey),
				zap.String("existing_tx_id", existingTxId))
			return nil, fmt.Errorf("%w: idempotency key %s already applied", store.ErrDuplicateTransaction, entry.idempotencyKey)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to check for duplicate transaction: %w", err)
		}
	}

	var currentBalance, version int64
	err = tx.QueryRowContext(ctx, queryGetAccountBalance, entry.accountId).Scan(&currentBalance, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, entry.accountId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	}

	amount, err := resolveAmount(currentBalance, entry)
	if err != nil {
		return nil, err
	}
	newBalance := currentBalance + amount

	now := time.Now().UTC()
	transaction := &models.CreditTransaction{
		Id:              uuid.New().String(),
		AccountId:       entry.accountId,
		Amount:          amount,
		TransactionType: entry.transactionType,
		IdempotencyKey:  entry.idempotencyKey,
		BalanceBefore:   currentBalance,
		BalanceAfter:    newBalance,
		Reference:       entry.reference,
		CreatedAt:       now,
	}

	_, err = tx.ExecContext(ctx, queryInsertTransaction,
		transaction.Id, transaction.AccountId, transaction.Amount, transaction.TransactionType,
		nullIfEmpty(transaction.IdempotencyKey), transaction.BalanceBefore, transaction.BalanceAfter,
		transaction.Reference, transaction.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: idempotency key %s already applied", store.ErrDuplicateTransaction, entry.idempotencyKey)
		}
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	// Update cached balance (with optimistic locking)
	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance, newBalance, now, entry.accountId, version)
	if err != nil {
		if isCheckViolation(err) {
			return nil, fmt.Errorf("%w: balance would become %d", store.ErrInsufficientCredits, newBalance)
		}
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	if err := addJournalEntries(ctx, tx, transaction); err != nil {
		return nil, fmt.Errorf("failed to add journal entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Credit transaction processed successfully",
		zap.String("transaction_id", transaction.Id),
		zap.String("account_id", entry.accountId),
		zap.Int64("old_balance", currentBalance),
		zap.Int64("new_balance", newBalance))

	return transaction, nil
}

// resolveAmount applies the overdraft policy to a signed entry amount.
// Under clamp the recorded amount is what was actually removed, so the log
// keeps summing to the balance.
func resolveAmount(balance int64, entry ledgerEntry) (int64, error) {
	if entry.amount >= 0 || balance+entry.amount >= 0 {
		return entry.amount, nil
	}

	switch entry.policy {
	case store.OverdraftClamp:
		zap.L().Warn("Clamping debit to remaining balance",
			zap.String("account_id", entry.accountId),
			zap.Int64("requested", -entry.amount),
			zap.Int64("balance", balance))
		return -balance, nil
	default:
		return 0, fmt.Errorf("%w: balance %d, required %d", store.ErrInsufficientCredits, balance, -entry.amount)
	}
}

// addJournalEntries mirrors the transaction in double-entry form.
// A grant debits the platform issuance account and credits the user;
// a spend debits the user and credits the platform consumption account.
func addJournalEntries(ctx context.Context, tx *sql.Tx, transaction *models.CreditTransaction) error {
	if transaction.Amount == 0 {
		return nil
	}

	type journalEntry struct {
		accountType  string
		accountId    string
		debitAmount  int64
		creditAmount int64
	}

	var entries []journalEntry
	if transaction.Amount > 0 {
		entries = []journalEntry{
			{journalPlatform, platformCreditsIssued, transaction.Amount, 0},
			{journalUserCredits, transaction.AccountId, 0, transaction.Amount},
		}
	} else {
		spent := -transaction.Amount
		entries = []journalEntry{
			{journalUserCredits, transaction.AccountId, spent, 0},
			{journalPlatform, platformCreditsUsed, 0, spent},
		}
	}

	for _, entry := range entries {
		_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
			uuid.New().String(), transaction.Id, entry.accountType, entry.accountId,
			entry.debitAmount, entry.creditAmount, transaction.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetTransactionHistory returns paginated transactions, newest first
func (s *Service) GetTransactionHistory(ctx context.Context, accountId string, limit, offset int) ([]models.CreditTransaction, error) {
	zap.L().Debug("Getting transaction history",
		zap.String("account_id", accountId),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, accountId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer closeRows(rows)

	var transactions []models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		err := rows.Scan(&t.Id, &t.AccountId, &t.Amount, &t.TransactionType, &t.IdempotencyKey,
			&t.BalanceBefore, &t.BalanceAfter, &t.Reference, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during transaction row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return transactions, nil
}
