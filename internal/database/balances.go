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

	"mydraws-credits-go/internal/store"

	"go.uber.org/zap"
)

// GetBalance returns the cached credit balance for an account
func (s *Service) GetBalance(ctx context.Context, accountId string) (int64, error) {
	var balance, version int64
	err := s.db.QueryRowContext(ctx, queryGetAccountBalance, accountId).Scan(&balance, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", store.ErrAccountNotFound, accountId)
	}
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("account_id", accountId), zap.Error(err))
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	zap.L().Debug("Retrieved balance", zap.String("account_id", accountId), zap.Int64("balance", balance))
	return balance, nil
}

// ReconcileBalance verifies the cached balance matches the sum of the transaction log
func (s *Service) ReconcileBalance(ctx context.Context, accountId string) error {
	zap.L().Info("Reconciling balance", zap.String("account_id", accountId))

	cachedBalance, err := s.GetBalance(ctx, accountId)
	if err != nil {
		return fmt.Errorf("failed to get cached balance: %w", err)
	}

	var calculatedBalance int64
	if err := s.db.QueryRowContext(ctx, queryReconcileBalance, accountId).Scan(&calculatedBalance); err != nil {
		return fmt.Errorf("failed to calculate balance from transactions: %w", err)
	}

	if cachedBalance != calculatedBalance {
		zap.L().Error("Balance reconciliation failed",
			zap.String("account_id", accountId),
			zap.Int64("cached_balance", cachedBalance),
			zap.Int64("calculated_balance", calculatedBalance))
		return fmt.Errorf("%w: cached=%d, calculated=%d", store.ErrBalanceMismatch, cachedBalance, calculatedBalance)
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("account_id", accountId),
		zap.Int64("balance", cachedBalance))

	return nil
}
