package postgres

const (
	accountColumns = `id, name, email, credit_amount, version, created_at, updated_at`

	queryInsertAccount = `
		INSERT INTO accounts (id, name, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING ` + accountColumns

	queryGetAccountById = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	queryGetAccountByEmail = `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`

	queryGetAccounts = `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at, id`

	queryGetBalance = `SELECT credit_amount FROM accounts WHERE id = $1`

	queryLockAccountBalance = `
		SELECT credit_amount, version
		FROM accounts
		WHERE id = $1
		FOR UPDATE`

	queryCheckDuplicateTransaction = `
		SELECT id FROM credit_transactions WHERE idempotency_key = $1 LIMIT 1`

	queryInsertTransaction = `
		INSERT INTO credit_transactions (
			id, account_id, amount, transaction_type, idempotency_key,
			balance_before, balance_after, reference, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	queryUpdateAccountBalance = `
		UPDATE accounts
		SET credit_amount = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`

	queryInsertJournalEntry = `
		INSERT INTO journal_entries (id, transaction_id, account_type, account_id, debit_amount, credit_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	queryReconcileBalance = `
		SELECT COALESCE(SUM(amount), 0)
		FROM credit_transactions
		WHERE account_id = $1`

	queryGetTransactionHistory = `
		SELECT id, account_id, amount, transaction_type, COALESCE(idempotency_key, ''),
		       balance_before, balance_after, reference, created_at
		FROM credit_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	resourceColumns = `id, account_id, title, blob_key, content_type, COALESCE(based_on, ''), COALESCE(book_id, ''), created_at`

	queryInsertResource = `
		INSERT INTO resources (id, account_id, title, blob_key, content_type, based_on, book_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	queryGetResource = `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1`

	queryListResources = `
		SELECT ` + resourceColumns + `
		FROM resources
		WHERE account_id = $1 AND ($2 = '' OR book_id = $2)
		ORDER BY created_at DESC, id DESC`

	queryGetOwner = `SELECT account_id FROM resources WHERE id = $1`

	queryGetBookOwner = `SELECT account_id FROM books WHERE id = $1`

	queryDeleteResource = `DELETE FROM resources WHERE id = $1`

	queryAssignBook = `UPDATE resources SET book_id = $1 WHERE id = $2`

	bookColumns = `id, account_id, title, description, author, created_at`

	queryInsertBook = `
		INSERT INTO books (id, account_id, title, description, author, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	queryGetBook = `SELECT ` + bookColumns + ` FROM books WHERE id = $1`

	queryListBooks = `SELECT ` + bookColumns + ` FROM books WHERE account_id = $1 ORDER BY created_at DESC, id DESC`

	queryDeleteBook = `DELETE FROM books WHERE id = $1`

	jobColumns = `id, kind, account_id, resource_id, result_resource_id, status, error,
		attempts, available_at, locked_by, locked_until, created_at, updated_at`

	queryInsertJob = `
		INSERT INTO jobs (id, kind, account_id, resource_id, result_resource_id, status, available_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', $6, $7, $7)`

	queryGetJob = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	// Concurrent workers skip rows another claim already holds.
	queryClaimJob = `
		UPDATE jobs
		SET status = 'RUNNING', locked_by = $1, locked_until = $2, attempts = attempts + 1, updated_at = $3
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'PENDING' AND available_at <= $3
			ORDER BY available_at, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	queryCompleteJob = `
		UPDATE jobs
		SET status = 'SUCCESS', result_resource_id = $1, error = '', locked_by = '', locked_until = NULL, updated_at = $2
		WHERE id = $3 AND status = 'RUNNING'`

	queryFailJob = `
		UPDATE jobs
		SET status = 'FAILURE', error = $1, locked_by = '', locked_until = NULL, updated_at = $2
		WHERE id = $3 AND status IN ('PENDING', 'RUNNING')`

	queryRetryJob = `
		UPDATE jobs
		SET status = 'PENDING', error = $1, available_at = $2, locked_by = '', locked_until = NULL, updated_at = $3
		WHERE id = $4 AND status = 'RUNNING'`

	queryRequeueExpiredJobs = `
		UPDATE jobs
		SET status = 'PENDING', locked_by = '', locked_until = NULL, updated_at = $1
		WHERE status = 'RUNNING' AND locked_until <= $1`

	queryUpsertHandle = `
		INSERT INTO job_handles (account_id, resource_id, job_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, resource_id) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`

	queryGetHandle = `
		SELECT account_id, resource_id, job_id, created_at, expires_at
		FROM job_handles
		WHERE account_id = $1 AND resource_id = $2`

	queryDeleteHandle = `DELETE FROM job_handles WHERE account_id = $1 AND resource_id = $2`

	queryDeleteExpiredHandles = `DELETE FROM job_handles WHERE expires_at <= $1`

	queryRecordPaymentEvent = `
		INSERT INTO payment_events (provider, provider_event_id, account_id, credit_amount, outcome, detail, deliveries, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
		ON CONFLICT (provider, provider_event_id) DO UPDATE SET
			deliveries = payment_events.deliveries + 1,
			outcome = CASE WHEN payment_events.outcome = 'applied' THEN payment_events.outcome ELSE EXCLUDED.outcome END,
			detail = CASE WHEN payment_events.outcome = 'applied' THEN payment_events.detail ELSE EXCLUDED.detail END,
			received_at = EXCLUDED.received_at`
)
