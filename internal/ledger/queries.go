package ledger

// Account reads always join through children so ownership is resolved in
// the same query as existence.
const (
	queryAccountForOwner = `
		SELECT a.id, a.account_type, a.balance_cents, a.child_id, c.parent_id, COALESCE(a.pin_hash, ''), a.created_at, a.updated_at
		FROM accounts a
		JOIN children c ON c.id = a.child_id
		WHERE a.id = $1 AND c.parent_id = $2`

	queryAccountsForOwner = `
		SELECT a.id, a.account_type, a.balance_cents, a.child_id, c.parent_id, COALESCE(a.pin_hash, ''), a.created_at, a.updated_at
		FROM accounts a
		JOIN children c ON c.id = a.child_id
		WHERE c.parent_id = $1
		ORDER BY a.child_id, a.id`

	queryChildForOwner = `SELECT id FROM children WHERE id = $1 AND parent_id = $2`

	queryInsertAccount = `
		INSERT INTO accounts (account_type, balance_cents, child_id, created_at, updated_at)
		VALUES ($1, 0, $2, NOW(), NOW())
		RETURNING id, account_type, balance_cents, child_id, created_at, updated_at`

	queryLockAccount = `SELECT id, balance_cents FROM accounts WHERE id = $1 FOR UPDATE`

	queryAccountBalance = `SELECT balance_cents FROM accounts WHERE id = $1`

	queryApplyBalanceDelta = `
		UPDATE accounts
		SET balance_cents = balance_cents + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance_cents`

	querySetPINHash = `
		UPDATE accounts
		SET pin_hash = $1, updated_at = NOW()
		WHERE id = $2 AND pin_hash IS NULL`

	queryReplacePINHash = `
		UPDATE accounts
		SET pin_hash = $1, updated_at = NOW()
		WHERE id = $2 AND pin_hash = $3`
)

// transactions is append-only. No UPDATE or DELETE statements.
const (
	queryInsertTransaction = `
		INSERT INTO transactions (account_id, amount_cents, transaction_type, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at`

	queryTransactionByKey = `
		SELECT id, account_id, amount_cents, transaction_type, idempotency_key, created_at
		FROM transactions
		WHERE idempotency_key = $1`

	queryTransactionByID = `
		SELECT id, account_id, amount_cents, transaction_type, idempotency_key, created_at
		FROM transactions
		WHERE id = $1 AND account_id = $2`

	queryTransactionsPage = `
		SELECT id, account_id, amount_cents, transaction_type, idempotency_key, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT $2`

	queryTransactionsPageBefore = `
		SELECT id, account_id, amount_cents, transaction_type, idempotency_key, created_at
		FROM transactions
		WHERE account_id = $1 AND id < $2
		ORDER BY id DESC
		LIMIT $3`
)
