package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/kidbank/backend/internal/audit"
	"github.com/kidbank/backend/internal/events"
	"github.com/kidbank/backend/internal/models"
	"github.com/kidbank/backend/internal/money"
	"go.uber.org/zap"
)

type TransferRequest struct {
	OwnerID              int64
	SourceAccountID      int64
	DestinationAccountID int64
	Amount               money.Amount
	IdempotencyKey       string
	PIN                  string
}

type TransferResult struct {
	// TransferID is the id of the debit leg.
	TransferID         int64
	Amount             money.Amount
	SourceBalance      money.Amount
	DestinationBalance money.Amount
	Debit              *models.Transaction
	Credit             *models.Transaction
	Replayed           bool
}

// Each leg carries its own key derived from the request key, so the pair
// is written once and a retry finds both rows.
const (
	debitSuffix  = "_debit"
	creditSuffix = "_credit"
)

func debitKey(key string) string  { return key + debitSuffix }
func creditKey(key string) string { return key + creditSuffix }

// isLegKey reports whether key collides with the transfer leg namespace.
func isLegKey(key string) bool {
	return strings.HasSuffix(key, debitSuffix) || strings.HasSuffix(key, creditSuffix)
}

// Transfer moves money between two accounts of the same child.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.IdempotencyKey == "" {
		return nil, &Error{Kind: KindInvalidRequest, Message: "idempotency key is required"}
	}
	if req.SourceAccountID == req.DestinationAccountID {
		return nil, &Error{Kind: KindInvalidRequest, Message: "source and destination accounts must differ"}
	}

	source, err := s.store.GetAccountForOwner(ctx, req.SourceAccountID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	destination, err := s.store.GetAccountForOwner(ctx, req.DestinationAccountID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	if err := s.authorizeMovement(ctx, source, req.PIN, true); err != nil {
		return nil, err
	}

	if source.ChildID != destination.ChildID {
		return nil, ErrCrossOwner
	}

	if req.Amount <= 0 {
		return nil, &Error{Kind: KindInvalidAmount, Message: "amount must be greater than zero"}
	}

	// A committed transfer may have drained the source since, so the replay
	// check runs before the funds check.
	existing, err := s.store.FindByKey(ctx, debitKey(req.IdempotencyKey))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.replayTransfer(ctx, source, destination, req.IdempotencyKey, req.Amount, existing)
	}

	if source.Balance < req.Amount {
		return nil, insufficientFunds(source.Balance, req.Amount)
	}

	result, err := s.commitTransfer(ctx, source.ID, destination.ID, req.Amount, req.IdempotencyKey)
	if isUniqueViolation(err) {
		zap.L().Info("Concurrent transfer with same idempotency key",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("source_account_id", source.ID))
		existing, err := s.store.FindByKey(ctx, debitKey(req.IdempotencyKey))
		if err != nil {
			return nil, err
		}
		if existing == nil {
			// the credit key belongs to some other operation
			return nil, errKeyReused
		}
		return s.replayTransfer(ctx, source, destination, req.IdempotencyKey, req.Amount, existing)
	}
	if err != nil {
		if KindOf(err) == "" {
			s.audit.LogError("transfer", source.ID, err)
		}
		return nil, err
	}

	s.audit.LogTransfer(result.TransferID, source.ID, destination.ID, req.Amount.Int64(), audit.StatusSuccess)
	correlationID := events.NewCorrelationID()
	s.publish(ctx,
		committedEvent(correlationID, result.Debit, result.SourceBalance),
		committedEvent(correlationID, result.Credit, result.DestinationBalance),
	)

	return result, nil
}

// commitTransfer writes both legs and both balance changes in one database
// transaction. Rows are locked in ascending id order so two opposite
// transfers cannot deadlock.
func (s *Service) commitTransfer(ctx context.Context, sourceID, destinationID int64, amount money.Amount, key string) (*TransferResult, error) {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	firstLock, secondLock := sourceID, destinationID
	if sourceID > destinationID {
		firstLock, secondLock = destinationID, sourceID
	}

	first, err := s.store.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return nil, err
	}
	second, err := s.store.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return nil, err
	}

	from, to := first, second
	if firstLock != sourceID {
		from, to = second, first
	}

	// the balance read before locking may be stale
	if from.Balance < amount {
		return nil, insufficientFunds(from.Balance, amount)
	}
	if _, err := to.Balance.Add(amount); err != nil {
		return nil, &Error{Kind: KindInvalidAmount, Message: "transfer would overflow the destination balance"}
	}

	debitAmount, err := amount.Neg()
	if err != nil {
		return nil, &Error{Kind: KindInvalidAmount, Message: "amount out of range"}
	}

	debit, err := s.store.insertTransaction(ctx, tx, from.ID, debitAmount, models.TransactionTransferOut, debitKey(key))
	if err != nil {
		return nil, err
	}
	credit, err := s.store.insertTransaction(ctx, tx, to.ID, amount, models.TransactionTransferIn, creditKey(key))
	if err != nil {
		return nil, err
	}

	sourceBalance, err := s.store.applyBalanceDelta(ctx, tx, from.ID, debitAmount)
	if err != nil {
		return nil, err
	}
	destinationBalance, err := s.store.applyBalanceDelta(ctx, tx, to.ID, amount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &TransferResult{
		TransferID:         debit.ID,
		Amount:             amount,
		SourceBalance:      sourceBalance,
		DestinationBalance: destinationBalance,
		Debit:              debit,
		Credit:             credit,
	}, nil
}

// replayTransfer answers a repeated request from both committed legs. Any
// row under a leg key that is not the matching leg of this transfer means
// the key was reused.
func (s *Service) replayTransfer(ctx context.Context, source, destination *models.Account, key string, amount money.Amount, debit *models.Transaction) (*TransferResult, error) {
	if debit.Kind != models.TransactionTransferOut {
		return nil, errKeyReused
	}
	credit, err := s.store.FindByKey(ctx, creditKey(key))
	if err != nil {
		return nil, err
	}
	if credit == nil || credit.Kind != models.TransactionTransferIn {
		return nil, errKeyReused
	}
	if debit.AccountID != source.ID || credit.AccountID != destination.ID {
		return nil, &Error{Kind: KindInvalidRequest, Message: "idempotency key was already used for another transfer"}
	}
	if credit.Amount != amount {
		return nil, errKeyReused
	}

	sourceBalance, err := s.store.Balance(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	destinationBalance, err := s.store.Balance(ctx, destination.ID)
	if err != nil {
		return nil, err
	}

	s.audit.LogTransfer(debit.ID, source.ID, destination.ID, amount.Int64(), audit.StatusReplayed)

	return &TransferResult{
		TransferID:         debit.ID,
		Amount:             amount,
		SourceBalance:      sourceBalance,
		DestinationBalance: destinationBalance,
		Debit:              debit,
		Credit:             credit,
		Replayed:           true,
	}, nil
}
