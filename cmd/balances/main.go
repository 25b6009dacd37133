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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"mydraws-credits-go/internal/common"
	"mydraws-credits-go/internal/config"
	"mydraws-credits-go/internal/ledger"
	"mydraws-credits-go/internal/models"
	"mydraws-credits-go/internal/store"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalAccounts  int
	totalCredits   int64
	funded         int
	mismatched     []string
	reconcileFails int
}

func reportAccounts(ctx context.Context, accounts []models.Account, ledgerService *ledger.Service, reconcile bool, logger *zap.Logger) balanceStats {
	stats := balanceStats{}

	for i, account := range accounts {
		stats.totalAccounts++

		balance, err := ledgerService.Balance(ctx, account.Id)
		if err != nil {
			logger.Error("Failed to get balance",
				zap.String("account_id", account.Id),
				zap.Error(err))
			continue
		}

		common.PrintAccount(account, balance, i == len(accounts)-1)
		stats.totalCredits += balance
		if balance > 0 {
			stats.funded++
		}

		if !reconcile {
			continue
		}
		if err := ledgerService.Reconcile(ctx, account.Id); err != nil {
			if errors.Is(err, store.ErrBalanceMismatch) {
				stats.mismatched = append(stats.mismatched, account.Id)
				fmt.Printf("%s✗ %v\n", common.BoxDetailPrefix(i == len(accounts)-1), err)
			} else {
				stats.reconcileFails++
				logger.Error("Failed to reconcile account", zap.String("account_id", account.Id), zap.Error(err))
			}
		}
	}

	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	accountFlag := flag.String("account", "", "Filter by account email or id (optional)")
	reconcileFlag := flag.Bool("reconcile", false, "Verify each balance against its transaction log")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	st, ledgerService, err := common.InitializeLedger(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer st.Close()

	accounts, err := common.ResolveAccounts(ctx, st, *accountFlag)
	if err != nil {
		logger.Fatal("Failed to resolve accounts", zap.Error(err))
	}

	common.PrintHeader("CREDIT BALANCE REPORT", common.DefaultWidth)

	stats := reportAccounts(ctx, accounts, ledgerService, *reconcileFlag, logger)

	summary := fmt.Sprintf("SUMMARY: %d accounts, %d funded, %d credits outstanding",
		stats.totalAccounts, stats.funded, stats.totalCredits)
	if *reconcileFlag {
		summary += fmt.Sprintf(", %d mismatched", len(stats.mismatched))
	}
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("accounts", stats.totalAccounts),
		zap.Int("funded", stats.funded),
		zap.Int64("credits_outstanding", stats.totalCredits),
		zap.Strings("mismatched", stats.mismatched),
		zap.Int("reconcile_failures", stats.reconcileFails))
}
