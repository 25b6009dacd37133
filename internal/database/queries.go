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

const (
	// Account queries
	queryInsertAccount = `
		INSERT INTO accounts (id, name, email, credit_amount, version, created_at, updated_at)
		VALUES (?, ?, ?, 0, 1, ?, ?)`

	queryGetAccountById = `
		SELECT id, name, email, credit_amount, version, created_at, updated_at
		FROM accounts
		WHERE id = ?`

	queryGetAccountByEmail = `
		SELECT id, name, email, credit_amount, version, created_at, updated_at
		FROM accounts
		WHERE email = ?`

	queryGetAccounts = `
		SELECT id, name, email, credit_amount, version, created_at, updated_at
		FROM accounts
		ORDER BY created_at, id`

	// Ledger queries
	queryGetAccountBalance = `
		SELECT credit_amount, version
		FROM accounts
		WHERE id = ?`

	queryCheckDuplicateTransaction = `
		SELECT id FROM credit_transactions WHERE idempotency_key = ? LIMIT 1`

	queryInsertTransaction = `
		INSERT INTO credit_transactions (
			id, account_id, amount, transaction_type, idempotency_key,
			balance_before, balance_after, reference, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryUpdateAccountBalance = `
		UPDATE accounts
		SET credit_amount = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, transaction_id, account_type, account_id, debit_amount, credit_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	queryReconcileBalance = `
		SELECT COALESCE(SUM(amount), 0) AS calculated_balance
		FROM credit_transactions
		WHERE account_id = ?`

	queryGetTransactionHistory = `
		SELECT id, account_id, amount, transaction_type, COALESCE(idempotency_key, ''),
		       balance_before, balance_after, reference, created_at
		FROM credit_transactions
		WHERE account_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`

	// Book queries
	queryInsertBook = `
		INSERT INTO books (id, account_id, title, description, author, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetBook = `
		SELECT id, account_id, title, description, author, created_at
		FROM books
		WHERE id = ?`

	queryListBooks = `
		SELECT id, account_id, title, description, author, created_at
		FROM books
		WHERE account_id = ?
		ORDER BY created_at DESC, rowid DESC`

	queryUngroupBookResources = `
		UPDATE resources SET book_id = NULL WHERE book_id = ?`

	queryDeleteBook = `
		DELETE FROM books WHERE id = ?`

	// Resource queries
	queryInsertResource = `
		INSERT INTO resources (id, account_id, title, blob_key, content_type, based_on, book_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetResource = `
		SELECT id, account_id, title, blob_key, content_type,
		       COALESCE(based_on, ''), COALESCE(book_id, ''), created_at
		FROM resources
		WHERE id = ?`

	queryListResources = `
		SELECT id, account_id, title, blob_key, content_type,
		       COALESCE(based_on, ''), COALESCE(book_id, ''), created_at
		FROM resources
		WHERE account_id = ?
		ORDER BY created_at DESC, rowid DESC`

	queryListBookResources = `
		SELECT id, account_id, title, blob_key, content_type,
		       COALESCE(based_on, ''), COALESCE(book_id, ''), created_at
		FROM resources
		WHERE account_id = ? AND book_id = ?
		ORDER BY created_at DESC, rowid DESC`

	queryGetOwner = `
		SELECT account_id FROM resources WHERE id = ?`

	queryGetBookOwner = `
		SELECT account_id FROM books WHERE id = ?`

	queryOrphanChildren = `
		UPDATE resources SET based_on = NULL WHERE based_on = ?`

	queryDeleteResource = `
		DELETE FROM resources WHERE id = ?`

	queryAssignBook = `
		UPDATE resources SET book_id = ? WHERE id = ?`

	// Job queries
	queryInsertJob = `
		INSERT INTO jobs (
			id, kind, account_id, resource_id, result_resource_id, status, error,
			attempts, available_at, locked_by, locked_until, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, '', 0, ?, '', 0, ?, ?)`

	queryGetJob = `
		SELECT id, kind, account_id, resource_id, result_resource_id, status, error,
		       attempts, available_at, locked_by, locked_until, created_at, updated_at
		FROM jobs
		WHERE id = ?`

	queryNextAvailableJob = `
		SELECT id
		FROM jobs
		WHERE status = 'PENDING' AND available_at <= ?
		ORDER BY available_at, created_at
		LIMIT 1`

	queryLeaseJob = `
		UPDATE jobs
		SET status = 'RUNNING', locked_by = ?, locked_until = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = 'PENDING'`

	queryCompleteJob = `
		UPDATE jobs
		SET status = 'SUCCESS', result_resource_id = ?, error = '', locked_by = '', locked_until = 0, updated_at = ?
		WHERE id = ? AND status = 'RUNNING'`

	queryFailJob = `
		UPDATE jobs
		SET status = 'FAILURE', error = ?, locked_by = '', locked_until = 0, updated_at = ?
		WHERE id = ? AND status IN ('PENDING', 'RUNNING')`

	queryRetryJob = `
		UPDATE jobs
		SET status = 'PENDING', error = ?, available_at = ?, locked_by = '', locked_until = 0, updated_at = ?
		WHERE id = ? AND status = 'RUNNING'`

	queryRequeueExpiredJobs = `
		UPDATE jobs
		SET status = 'PENDING', locked_by = '', locked_until = 0, updated_at = ?
		WHERE status = 'RUNNING' AND locked_until <= ?`

	// Correlation queries
	queryUpsertHandle = `
		INSERT INTO job_handles (account_id, resource_id, job_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, resource_id) DO UPDATE SET
			job_id = excluded.job_id,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`

	queryGetHandle = `
		SELECT account_id, resource_id, job_id, created_at, expires_at
		FROM job_handles
		WHERE account_id = ? AND resource_id = ?`

	queryDeleteHandle = `
		DELETE FROM job_handles WHERE account_id = ? AND resource_id = ?`

	queryDeleteExpiredHandles = `
		DELETE FROM job_handles WHERE expires_at <= ?`

	// Payment event queries
	queryRecordPaymentEvent = `
		INSERT INTO payment_events (provider, provider_event_id, account_id, credit_amount, outcome, detail, deliveries, received_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(provider, provider_event_id) DO UPDATE SET
			deliveries = payment_events.deliveries + 1,
			outcome = CASE WHEN payment_events.outcome = 'applied' THEN payment_events.outcome ELSE excluded.outcome END,
			detail = CASE WHEN payment_events.outcome = 'applied' THEN payment_events.detail ELSE excluded.detail END,
			received_at = excluded.received_at`
)
