package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kidbank/backend/internal/models"
	"github.com/kidbank/backend/internal/money"
	"github.com/lib/pq"
)

// Store is the only writer of account balances and transaction rows.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID,
		&account.AccountType,
		&account.Balance,
		&account.ChildID,
		&account.ParentID,
		&account.PINHash,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var entry models.Transaction
	err := row.Scan(
		&entry.ID,
		&entry.AccountID,
		&entry.Amount,
		&entry.Kind,
		&entry.IdempotencyKey,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetAccountForOwner returns the account only if its child belongs to
// ownerID. Missing and foreign accounts are both ErrNotFound.
func (s *Store) GetAccountForOwner(ctx context.Context, accountID, ownerID int64) (*models.Account, error) {
	account, err := scanAccount(s.db.QueryRowContext(ctx, queryAccountForOwner, accountID, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account %d: %w", accountID, err)
	}
	return account, nil
}

func (s *Store) ListAccountsForOwner(ctx context.Context, ownerID int64) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, queryAccountsForOwner, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// CreateAccountPair opens the checking and savings accounts of a child in
// one database transaction.
func (s *Store) CreateAccountPair(ctx context.Context, childID, ownerID int64) ([]models.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, queryChildForOwner, childID, ownerID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{Kind: KindNotFound, Message: "child not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("load child %d: %w", childID, err)
	}

	accounts := make([]models.Account, 0, 2)
	for _, accountType := range []string{models.AccountTypeChecking, models.AccountTypeSavings} {
		var account models.Account
		err := tx.QueryRowContext(ctx, queryInsertAccount, accountType, childID).Scan(
			&account.ID,
			&account.AccountType,
			&account.Balance,
			&account.ChildID,
			&account.CreatedAt,
			&account.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("create %s account: %w", accountType, err)
		}
		account.ParentID = ownerID
		accounts = append(accounts, account)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return accounts, nil
}

// setPINHash reports false if the account already had a PIN.
func (s *Store) setPINHash(ctx context.Context, accountID int64, hash string) (bool, error) {
	return s.execAffectsOne(ctx, querySetPINHash, hash, accountID)
}

// replacePINHash reports false if the stored hash is no longer oldHash.
func (s *Store) replacePINHash(ctx context.Context, accountID int64, oldHash, newHash string) (bool, error) {
	return s.execAffectsOne(ctx, queryReplacePINHash, newHash, accountID, oldHash)
}

func (s *Store) execAffectsOne(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

// FindByKey returns (nil, nil) when no transaction carries key.
func (s *Store) FindByKey(ctx context.Context, key string) (*models.Transaction, error) {
	entry, err := scanTransaction(s.db.QueryRowContext(ctx, queryTransactionByKey, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction by key: %w", err)
	}
	return entry, nil
}

func (s *Store) Balance(ctx context.Context, accountID int64) (money.Amount, error) {
	var balance money.Amount
	err := s.db.QueryRowContext(ctx, queryAccountBalance, accountID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("read balance of account %d: %w", accountID, err)
	}
	return balance, nil
}

func (s *Store) GetTransaction(ctx context.Context, accountID, transactionID int64) (*models.Transaction, error) {
	entry, err := scanTransaction(s.db.QueryRowContext(ctx, queryTransactionByID, transactionID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &Error{Kind: KindNotFound, Message: "transaction not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction %d: %w", transactionID, err)
	}
	return entry, nil
}

// ListTransactions returns up to limit rows of the account, newest first,
// restricted to ids below beforeID when beforeID > 0.
func (s *Store) ListTransactions(ctx context.Context, accountID, beforeID int64, limit int) ([]models.Transaction, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if beforeID > 0 {
		rows, err = s.db.QueryContext(ctx, queryTransactionsPageBefore, accountID, beforeID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, queryTransactionsPage, accountID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	entries := make([]models.Transaction, 0, limit)
	for rows.Next() {
		entry, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return entries, nil
}

// lockedAccount is an account row held with FOR UPDATE for the life of tx.
type lockedAccount struct {
	ID      int64
	Balance money.Amount
}

func (s *Store) lockAccount(ctx context.Context, tx *sql.Tx, accountID int64) (*lockedAccount, error) {
	var account lockedAccount
	err := tx.QueryRowContext(ctx, queryLockAccount, accountID).Scan(&account.ID, &account.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock account %d: %w", accountID, err)
	}
	return &account, nil
}

func (s *Store) insertTransaction(ctx context.Context, tx *sql.Tx, accountID int64, amount money.Amount, kind, key string) (*models.Transaction, error) {
	entry := &models.Transaction{
		AccountID:      accountID,
		Amount:         amount,
		Kind:           kind,
		IdempotencyKey: key,
	}
	err := tx.QueryRowContext(ctx, queryInsertTransaction, accountID, int64(amount), kind, key).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert %s transaction: %w", kind, err)
	}
	return entry, nil
}

func (s *Store) applyBalanceDelta(ctx context.Context, tx *sql.Tx, accountID int64, delta money.Amount) (money.Amount, error) {
	var balance money.Amount
	err := tx.QueryRowContext(ctx, queryApplyBalanceDelta, int64(delta), accountID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("update balance of account %d: %w", accountID, err)
	}
	return balance, nil
}

// isUniqueViolation reports a PostgreSQL unique_violation, which for the
// transactions table means another request committed the same idempotency
// key first.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
