package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.Id, &a.Name, &a.Email, &a.CreditAmount, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Service) CreateAccount(ctx context.Context, accountId, name, email string) (*models.Account, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return nil, fmt.Errorf("name and email are required")
	}
	if accountId == "" {
		accountId = uuid.New().String()
	}

	account, err := scanAccount(s.db.QueryRowContext(ctx, queryInsertAccount, accountId, name, email, time.Now().UTC()))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrAccountExists, email)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	zap.L().Info("Account created", zap.String("account_id", account.Id), zap.String("email", email))
	return account, nil
}

func (s *Service) GetAccount(ctx context.Context, accountId string) (*models.Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx, queryGetAccountById, accountId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func (s *Service) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	account, err := scanAccount(s.db.QueryRowContext(ctx, queryGetAccountByEmail, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}
	return account, nil
}

func (s *Service) GetAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, queryGetAccounts)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer closeRows(rows)

	var accounts []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

func (s *Service) ApplyCredit(ctx context.Context, params store.CreditParams) (*models.CreditTransaction, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", store.ErrInvalidAmount, params.Amount)
	}
	return s.processTransaction(ctx, params.AccountId, params.Amount, params.TransactionType,
		params.IdempotencyKey, params.Reference, store.OverdraftReject)
}

func (s *Service) ApplyDebit(ctx context.Context, params store.DebitParams) (*models.CreditTransaction, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", store.ErrInvalidAmount, params.Amount)
	}
	return s.processTransaction(ctx, params.AccountId, -params.Amount, params.TransactionType,
		params.IdempotencyKey, params.Reference, params.Policy)
}

// processTransaction locks the account row for the whole unit of work, so
// concurrent mutations of one balance are linearised by Postgres.
func (s *Service) processTransaction(ctx context.Context, accountId string, amount int64, transactionType, idempotencyKey, reference string, policy store.OverdraftPolicy) (*models.CreditTransaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	if idempotencyKey != "" {
		var existingTxId string
		err := tx.QueryRowContext(ctx, queryCheckDuplicateTransaction, idempotencyKey).Scan(&existingTxId)
		if err == nil {
			return nil, fmt.Errorf("%w: idempotency key %s already applied", store.ErrDuplicateTransaction, idempotencyKey)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to check for duplicate transaction: %w", err)
		}
	}

	var balance, version int64
	err = tx.QueryRowContext(ctx, queryLockAccountBalance, accountId).Scan(&balance, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account balance: %w", err)
	}

	if amount < 0 && balance+amount < 0 {
		if policy != store.OverdraftClamp {
			return nil, fmt.Errorf("%w: balance %d, required %d", store.ErrInsufficientCredits, balance, -amount)
		}
		amount = -balance
	}

	now := time.Now().UTC()
	transaction := &models.CreditTransaction{
		Id:              uuid.New().String(),
		AccountId:       accountId,
		Amount:          amount,
		TransactionType: transactionType,
		IdempotencyKey:  idempotencyKey,
		BalanceBefore:   balance,
		BalanceAfter:    balance + amount,
		Reference:       reference,
		CreatedAt:       now,
	}

	_, err = tx.ExecContext(ctx, queryInsertTransaction,
		transaction.Id, accountId, amount, transactionType, nullIfEmpty(idempotencyKey),
		transaction.BalanceBefore, transaction.BalanceAfter, reference, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: idempotency key %s already applied", store.ErrDuplicateTransaction, idempotencyKey)
		}
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance, transaction.BalanceAfter, now, accountId, version)
	if err != nil {
		if isCheckViolation(err) {
			return nil, fmt.Errorf("%w: balance would become %d", store.ErrInsufficientCredits, transaction.BalanceAfter)
		}
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	} else if n == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	if amount != 0 {
		userSide, platformSide := [2]int64{0, amount}, [2]int64{amount, 0}
		platformAccount := "credits_issued"
		if amount < 0 {
			userSide, platformSide = [2]int64{-amount, 0}, [2]int64{0, -amount}
			platformAccount = "credits_consumed"
		}
		entries := []struct {
			accountType, accountId string
			amounts                [2]int64
		}{
			{"user_credits", accountId, userSide},
			{"platform", platformAccount, platformSide},
		}
		for _, e := range entries {
			_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
				uuid.New().String(), transaction.Id, e.accountType, e.accountId, e.amounts[0], e.amounts[1], now)
			if err != nil {
				return nil, fmt.Errorf("failed to add journal entries: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Credit transaction processed successfully",
		zap.String("transaction_id", transaction.Id),
		zap.String("account_id", accountId),
		zap.Int64("old_balance", transaction.BalanceBefore),
		zap.Int64("new_balance", transaction.BalanceAfter))
	return transaction, nil
}

func (s *Service) GetBalance(ctx context.Context, accountId string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, queryGetBalance, accountId).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (s *Service) GetTransactionHistory(ctx context.Context, accountId string, limit, offset int) ([]models.CreditTransaction, error) {
	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, accountId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer closeRows(rows)

	var transactions []models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.Id, &t.AccountId, &t.Amount, &t.TransactionType, &t.IdempotencyKey,
			&t.BalanceBefore, &t.BalanceAfter, &t.Reference, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

func (s *Service) ReconcileBalance(ctx context.Context, accountId string) error {
	cached, err := s.GetBalance(ctx, accountId)
	if err != nil {
		return err
	}
	var calculated int64
	if err := s.db.QueryRowContext(ctx, queryReconcileBalance, accountId).Scan(&calculated); err != nil {
		return fmt.Errorf("failed to calculate balance from transactions: %w", err)
	}
	if cached != calculated {
		zap.L().Error("Balance reconciliation failed",
			zap.String("account_id", accountId),
			zap.Int64("cached_balance", cached),
			zap.Int64("calculated_balance", calculated))
		return fmt.Errorf("%w: cached=%d, calculated=%d", store.ErrBalanceMismatch, cached, calculated)
	}
	return nil
}
