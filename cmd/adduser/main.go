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
	"regexp"

	"mydraws-credits-go/internal/common"
	"mydraws-credits-go/internal/config"
	"mydraws-credits-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) < 2 {
		return fmt.Errorf("name must be at least 2 characters")
	}
	return nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	nameFlag := flag.String("name", "", "User's full name (required)")
	emailFlag := flag.String("email", "", "User's email address (required)")
	idFlag := flag.String("id", "", "Account id, as issued by the identity provider (default: random UUID)")
	grantFlag := flag.Int64("grant", 0, "Welcome credits to grant")
	flag.Parse()

	if *nameFlag == "" || *emailFlag == "" {
		zap.L().Fatal("Both flags are required: --name and --email")
	}
	if err := validateName(*nameFlag); err != nil {
		zap.L().Fatal("Invalid name", zap.Error(err))
	}
	if err := validateEmail(*emailFlag); err != nil {
		zap.L().Fatal("Invalid email", zap.Error(err))
	}
	if *grantFlag < 0 {
		zap.L().Fatal("Welcome grant cannot be negative", zap.Int64("grant", *grantFlag))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	st, ledgerService, err := common.InitializeLedger(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer st.Close()

	accountId := *idFlag
	if accountId == "" {
		accountId = uuid.New().String()
	}

	zap.L().Info("Creating account",
		zap.String("id", accountId),
		zap.String("name", *nameFlag),
		zap.String("email", *emailFlag))

	account, err := st.CreateAccount(ctx, accountId, *nameFlag, *emailFlag)
	if err != nil {
		if errors.Is(err, store.ErrAccountExists) {
			zap.L().Fatal("Account already exists with this id or email", zap.String("email", *emailFlag))
		}
		zap.L().Fatal("Failed to create account", zap.Error(err))
	}

	balance := int64(0)
	if *grantFlag > 0 {
		if _, err := ledgerService.Credit(ctx, account.Id, *grantFlag, "WELCOME", "welcome:"+account.Id); err != nil {
			zap.L().Error("Account created but welcome credits failed", zap.String("id", account.Id), zap.Error(err))
		} else {
			balance = *grantFlag
		}
	}

	common.PrintHeader("ACCOUNT CREATED", common.DefaultWidth)
	fmt.Printf("ID:      %s\n", account.Id)
	fmt.Printf("Name:    %s\n", account.Name)
	fmt.Printf("Email:   %s\n", account.Email)
	fmt.Printf("Credits: %d\n", balance)
	common.PrintFooter("Account ready", common.DefaultWidth)

	zap.L().Info("Account created successfully", zap.String("id", account.Id), zap.Int64("credits", balance))
}
