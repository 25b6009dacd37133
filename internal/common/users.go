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

package common

import (
	"context"
	"fmt"

	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"go.uber.org/zap"
)

// ResolveAccounts returns the account matching filter, or every account when
// filter is empty. filter is tried as an email first, then as an account id.
func ResolveAccounts(ctx context.Context, accounts store.AccountStore, filter string) ([]models.Account, error) {
	if filter == "" {
		all, err := accounts.GetAccounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get accounts: %w", err)
		}
		zap.L().Info("Retrieved accounts", zap.Int("count", len(all)))
		return all, nil
	}

	zap.L().Info("Looking up account", zap.String("filter", filter))
	account, err := accounts.GetAccountByEmail(ctx, filter)
	if err != nil {
		account, err = accounts.GetAccount(ctx, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("account %s not found: %w", filter, err)
	}
	return []models.Account{*account}, nil
}
