package ledger

import (
	"context"
	"fmt"

	"github.com/kidbank/backend/internal/audit"
	"github.com/kidbank/backend/internal/events"
	"github.com/kidbank/backend/internal/models"
	"github.com/kidbank/backend/internal/money"
	"go.uber.org/zap"
)

type DepositRequest struct {
	OwnerID        int64
	AccountID      int64
	Amount         money.Amount
	IdempotencyKey string
	PIN            string
	// Kind defaults to "deposit". The allowance scheduler passes "allowance".
	Kind string
}

type DepositResult struct {
	NewBalance  money.Amount
	Transaction *models.Transaction
	// Replayed is set when the idempotency key had already been committed
	// and nothing new was written.
	Replayed bool
}

// Deposit credits an account exactly once per idempotency key.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	if req.IdempotencyKey == "" {
		return nil, &Error{Kind: KindInvalidRequest, Message: "idempotency key is required"}
	}
	if isLegKey(req.IdempotencyKey) {
		return nil, &Error{Kind: KindInvalidRequest, Message: "idempotency keys ending in _debit or _credit are reserved for transfers"}
	}

	account, err := s.store.GetAccountForOwner(ctx, req.AccountID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	if err := s.authorizeMovement(ctx, account, req.PIN, s.cfg.PINPolicy == PINRequired); err != nil {
		return nil, err
	}

	if req.Amount < s.cfg.MinDeposit || req.Amount > s.cfg.MaxDeposit {
		return nil, newError(KindInvalidAmount, "amount must be between %s and %s", s.cfg.MinDeposit, s.cfg.MaxDeposit)
	}

	kind := req.Kind
	if kind == "" {
		kind = models.TransactionDeposit
	}

	existing, err := s.store.FindByKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replayDeposit(ctx, account, kind, req.Amount, existing)
	}

	entry, balance, err := s.commitDeposit(ctx, account.ID, req.Amount, kind, req.IdempotencyKey)
	if isUniqueViolation(err) {
		zap.L().Info("Concurrent deposit with same idempotency key",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("account_id", account.ID))
		existing, err := s.store.FindByKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, errKeyReused
		}
		return s.replayDeposit(ctx, account, kind, req.Amount, existing)
	}
	if err != nil {
		s.audit.LogError("deposit", account.ID, err)
		return nil, err
	}

	s.audit.LogDeposit(entry.ID, account.ID, entry.Amount.Int64(), audit.StatusSuccess)
	s.publish(ctx, committedEvent(events.NewCorrelationID(), entry, balance))

	return &DepositResult{NewBalance: balance, Transaction: entry}, nil
}

// commitDeposit appends the ledger row and moves the balance in one
// database transaction.
func (s *Service) commitDeposit(ctx context.Context, accountID int64, amount money.Amount, kind, key string) (*models.Transaction, money.Amount, error) {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	locked, err := s.store.lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, 0, err
	}
	if _, err := locked.Balance.Add(amount); err != nil {
		return nil, 0, &Error{Kind: KindInvalidAmount, Message: "deposit would overflow the account balance"}
	}

	entry, err := s.store.insertTransaction(ctx, tx, accountID, amount, kind, key)
	if err != nil {
		return nil, 0, err
	}

	balance, err := s.store.applyBalanceDelta(ctx, tx, accountID, amount)
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit: %w", err)
	}
	return entry, balance, nil
}

// replayDeposit answers a repeated request with the committed transaction
// and the balance as it is now. The committed row must be the same deposit.
func (s *Service) replayDeposit(ctx context.Context, account *models.Account, kind string, amount money.Amount, existing *models.Transaction) (*DepositResult, error) {
	if existing.AccountID != account.ID {
		return nil, &Error{Kind: KindInvalidRequest, Message: "idempotency key was already used for another account"}
	}
	if existing.Kind != kind || existing.Amount != amount {
		return nil, errKeyReused
	}

	balance, err := s.store.Balance(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	s.audit.LogDeposit(existing.ID, account.ID, existing.Amount.Int64(), audit.StatusReplayed)
	return &DepositResult{NewBalance: balance, Transaction: existing, Replayed: true}, nil
}
