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
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scheduling columns (available_at, locked_until, expires_at and the job
// timestamps) are unix milliseconds so comparisons stay numeric.
const schema = `
	-- Accounts hold the cached balance (hot data)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		credit_amount INTEGER NOT NULL DEFAULT 0 CHECK (credit_amount >= 0),
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email);

	-- Credit transactions (audit trail, append only)
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		amount INTEGER NOT NULL,
		transaction_type TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credit_transactions_account ON credit_transactions(account_id);
	CREATE INDEX IF NOT EXISTS idx_credit_transactions_type ON credit_transactions(transaction_type);
	CREATE INDEX IF NOT EXISTS idx_credit_transactions_created_at ON credit_transactions(created_at);

	-- Double-entry mirror of every credit transaction
	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		account_type TEXT NOT NULL,
		account_id TEXT NOT NULL,
		debit_amount INTEGER NOT NULL DEFAULT 0,
		credit_amount INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_journal_transaction_id ON journal_entries(transaction_id);
	CREATE INDEX IF NOT EXISTS idx_journal_account ON journal_entries(account_type, account_id);

	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_books_account ON books(account_id);

	CREATE TABLE IF NOT EXISTS resources (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		title TEXT NOT NULL,
		blob_key TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'image/jpeg',
		based_on TEXT,
		book_id TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_resources_account ON resources(account_id);
	CREATE INDEX IF NOT EXISTS idx_resources_based_on ON resources(based_on);
	CREATE INDEX IF NOT EXISTS idx_resources_book ON resources(book_id);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		account_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		result_resource_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		available_at INTEGER NOT NULL,
		locked_by TEXT NOT NULL DEFAULT '',
		locked_until INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, available_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_lease ON jobs(status, locked_until);

	CREATE TABLE IF NOT EXISTS job_handles (
		account_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (account_id, resource_id)
	);

	CREATE INDEX IF NOT EXISTS idx_job_handles_expires_at ON job_handles(expires_at);

	CREATE TABLE IF NOT EXISTS payment_events (
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		account_id TEXT NOT NULL DEFAULT '',
		credit_amount INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		deliveries INTEGER NOT NULL DEFAULT 1,
		received_at TIMESTAMP NOT NULL,
		PRIMARY KEY (provider, provider_event_id)
	);
	`

func (s *Service) initSchema(ctx context.Context, createDummyAccounts bool) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	if !createDummyAccounts {
		zap.L().Info("Skipping dummy account creation (CREATE_DUMMY_ACCOUNTS=false)")
		return nil
	}

	accounts := []struct {
		name  string
		email string
	}{
		{"Alice Johnson", "alice.johnson@example.com"},
		{"Bob Smith", "bob.smith@example.com"},
		{"Carol Williams", "carol.williams@example.com"},
	}

	now := time.Now().UTC()
	for _, account := range accounts {
		id := uuid.New().String()
		_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO accounts (id, name, email, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			id, account.name, account.email, now, now)
		if err != nil {
			zap.L().Error("Failed to insert dummy account", zap.String("name", account.name), zap.Error(err))
			continue
		}
		zap.L().Info("Dummy account created", zap.String("id", id), zap.String("name", account.name))
	}

	return nil
}
