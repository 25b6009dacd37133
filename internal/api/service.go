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

package api

import (
	"context"
	"fmt"
	"time"

	"mydraws-credits-go/internal/authz"
	"mydraws-credits-go/internal/jobs"
	"mydraws-credits-go/internal/ledger"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/storage"
	"mydraws-credits-go/internal/store"
	"mydraws-credits-go/internal/transform"

	"go.uber.org/zap"
)

const defaultHandleTTL = time.Hour

// Store is the persistence the api layer needs besides the credit ledger.
type Store interface {
	store.AccountStore
	store.ResourceStore
	store.JobQueue
	store.CorrelationStore
	Ping(ctx context.Context) error
}

// Dependencies wires a Service
type Dependencies struct {
	Store     Store
	Ledger    *ledger.Service
	Blobs     storage.BlobStore
	Local     transform.Transformer
	HandleTTL time.Duration
}

// Service exposes the paid operations and the resource read/write side
type Service struct {
	store     Store
	ledger    *ledger.Service
	authz     *authz.Authorizer
	blobs     storage.BlobStore
	local     transform.Transformer
	runner    *jobs.Runner
	handleTTL time.Duration
}

func NewService(deps Dependencies) *Service {
	ttl := deps.HandleTTL
	if ttl <= 0 {
		ttl = defaultHandleTTL
	}
	return &Service{
		store:     deps.Store,
		ledger:    deps.Ledger,
		authz:     authz.NewAuthorizer(deps.Store),
		blobs:     deps.Blobs,
		local:     deps.Local,
		runner:    jobs.NewRunner(deps.Store),
		handleTTL: ttl,
	}
}

func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Spend charges the fixed price of op. The guard runs first so a zero balance
// never reaches the ledger write.
func (s *Service) Spend(ctx context.Context, accountId string, op ledger.Operation) (*models.SpendResult, error) {
	cost, err := s.ledger.Authorize(ctx, accountId, op)
	if err != nil {
		return nil, err
	}

	tx, err := s.ledger.Debit(ctx, accountId, cost, string(op), "")
	if err != nil {
		return nil, err
	}

	return &models.SpendResult{
		Success:    true,
		Operation:  string(op),
		Cost:       -tx.Amount,
		NewBalance: tx.BalanceAfter,
	}, nil
}

// Account resolves the caller identity. It does not read the balance.
func (s *Service) Account(ctx context.Context, accountId string) (*models.Account, error) {
	return s.store.GetAccount(ctx, accountId)
}

// GetAccount returns the account with its balance as reported by the ledger
func (s *Service) GetAccount(ctx context.Context, accountId string) (*models.AccountSummary, error) {
	account, err := s.store.GetAccount(ctx, accountId)
	if err != nil {
		return nil, err
	}

	balance, err := s.ledger.Balance(ctx, accountId)
	if err != nil {
		zap.L().Error("Failed to get account balance", zap.String("account_id", accountId), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve balance: %w", err)
	}

	return &models.AccountSummary{
		Id:           account.Id,
		Name:         account.Name,
		Email:        account.Email,
		CreditAmount: balance,
	}, nil
}

// History returns paginated ledger entries, newest first
func (s *Service) History(ctx context.Context, accountId string, limit, offset int) ([]models.TransactionRecord, error) {
	transactions, err := s.ledger.History(ctx, accountId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get transaction history",
			zap.String("account_id", accountId),
			zap.Int("limit", limit),
			zap.Int("offset", offset),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve transaction history: %w", err)
	}

	records := make([]models.TransactionRecord, len(transactions))
	for i, tx := range transactions {
		records[i] = models.TransactionRecord{
			Id:           tx.Id,
			Type:         tx.TransactionType,
			Amount:       tx.Amount,
			BalanceAfter: tx.BalanceAfter,
			CreatedAt:    tx.CreatedAt,
		}
	}
	return records, nil
}

func blobKey(accountId, resourceId string) string {
	return accountId + "/" + resourceId + ".jpg"
}
