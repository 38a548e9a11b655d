package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/kidbank/backend/internal/audit"
	"github.com/kidbank/backend/internal/events"
	"github.com/kidbank/backend/internal/models"
	"github.com/kidbank/backend/internal/money"
	"go.uber.org/zap"
)

// PINPolicy decides whether deposits need a configured PIN. Transfers are
// PIN-gated under every policy.
type PINPolicy string

const (
	// PINOptional verifies the PIN on deposit only once one is configured.
	PINOptional PINPolicy = "optional"
	// PINRequired refuses deposits until a PIN is configured.
	PINRequired PINPolicy = "required"
)

type Config struct {
	MinDeposit money.Amount
	MaxDeposit money.Amount
	PINPolicy  PINPolicy
}

func DefaultConfig() Config {
	return Config{
		MinDeposit: 1,
		MaxDeposit: 1_000_000,
		PINPolicy:  PINOptional,
	}
}

func (c Config) Validate() error {
	if c.MinDeposit < 1 {
		return fmt.Errorf("minimum deposit must be at least 1, got %d", c.MinDeposit)
	}
	if c.MaxDeposit < c.MinDeposit {
		return fmt.Errorf("maximum deposit %d is below minimum %d", c.MaxDeposit, c.MinDeposit)
	}
	switch c.PINPolicy {
	case PINOptional, PINRequired:
	default:
		return fmt.Errorf("unknown PIN policy %q", c.PINPolicy)
	}
	return nil
}

type Service struct {
	store     *Store
	cfg       Config
	hasher    PINHasher
	limiter   AttemptLimiter
	publisher events.Publisher
	audit     *audit.Logger
}

// NewService wires the ledger. A nil limiter or publisher disables that
// concern.
func NewService(store *Store, cfg Config, hasher PINHasher, limiter AttemptLimiter, publisher events.Publisher) *Service {
	if limiter == nil {
		limiter = NopAttemptLimiter{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		store:     store,
		cfg:       cfg,
		hasher:    hasher,
		limiter:   limiter,
		publisher: publisher,
		audit:     audit.NewLogger(),
	}
}

func (s *Service) Config() Config { return s.cfg }

func (s *Service) GetAccount(ctx context.Context, ownerID, accountID int64) (*models.Account, error) {
	return s.store.GetAccountForOwner(ctx, accountID, ownerID)
}

func (s *Service) ListAccounts(ctx context.Context, ownerID int64) ([]models.Account, error) {
	return s.store.ListAccountsForOwner(ctx, ownerID)
}

func (s *Service) OpenAccounts(ctx context.Context, ownerID, childID int64) ([]models.Account, error) {
	accounts, err := s.store.CreateAccountPair(ctx, childID, ownerID)
	if err != nil {
		return nil, err
	}
	zap.L().Info("Opened child accounts",
		zap.Int64("child_id", childID),
		zap.Int64("checking_id", accounts[0].ID),
		zap.Int64("savings_id", accounts[1].ID))
	return accounts, nil
}

// SetPIN configures the first PIN of an account.
func (s *Service) SetPIN(ctx context.Context, ownerID, accountID int64, pin string) error {
	account, err := s.store.GetAccountForOwner(ctx, accountID, ownerID)
	if err != nil {
		return err
	}
	if account.PINConfigured() {
		return ErrAlreadyConfigured
	}

	hash, err := s.hasher.Hash(pin)
	if err != nil {
		return fmt.Errorf("hash PIN: %w", err)
	}

	ok, err := s.store.setPINHash(ctx, account.ID, hash)
	if err != nil {
		return fmt.Errorf("store PIN: %w", err)
	}
	if !ok {
		return ErrAlreadyConfigured
	}

	s.audit.LogPIN(audit.EventPINSet, account.ID, audit.StatusSuccess)
	return nil
}

// ChangePIN replaces the PIN after checking the current one.
func (s *Service) ChangePIN(ctx context.Context, ownerID, accountID int64, currentPIN, newPIN string) error {
	account, err := s.store.GetAccountForOwner(ctx, accountID, ownerID)
	if err != nil {
		return err
	}
	if !account.PINConfigured() {
		return ErrNotConfigured
	}
	if err := s.checkPIN(ctx, account, currentPIN); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPIN)
	if err != nil {
		return fmt.Errorf("hash PIN: %w", err)
	}

	ok, err := s.store.replacePINHash(ctx, account.ID, account.PINHash, hash)
	if err != nil {
		return fmt.Errorf("store PIN: %w", err)
	}
	if !ok {
		// someone else changed it between our read and write
		return &Error{Kind: KindUnauthorized, Message: "PIN was changed concurrently"}
	}

	s.audit.LogPIN(audit.EventPINChange, account.ID, audit.StatusSuccess)
	return nil
}

// VerifyPIN reports whether pin matches. A mismatch is not an error.
func (s *Service) VerifyPIN(ctx context.Context, ownerID, accountID int64, pin string) (bool, error) {
	account, err := s.store.GetAccountForOwner(ctx, accountID, ownerID)
	if err != nil {
		return false, err
	}
	if !account.PINConfigured() {
		return false, ErrNotConfigured
	}

	err = s.checkPIN(ctx, account, pin)
	if errors.Is(err, ErrUnauthorized) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// checkPIN verifies pin against a configured credential, counting failures.
func (s *Service) checkPIN(ctx context.Context, account *models.Account, pin string) error {
	if err := s.limiter.Allow(ctx, account.ID); err != nil {
		return err
	}

	ok, err := s.hasher.Verify(pin, account.PINHash)
	if err != nil {
		return fmt.Errorf("verify PIN: %w", err)
	}
	if !ok {
		s.limiter.RecordFailure(ctx, account.ID)
		s.audit.LogPIN(audit.EventPINFailed, account.ID, audit.StatusFailed)
		return ErrUnauthorized
	}

	s.limiter.Reset(ctx, account.ID)
	return nil
}

// authorizeMovement applies the PIN gate of a money-movement operation.
func (s *Service) authorizeMovement(ctx context.Context, account *models.Account, pin string, required bool) error {
	if !account.PINConfigured() {
		if required {
			return &Error{Kind: KindUnauthorized, Message: "PIN must be configured before moving money"}
		}
		return nil
	}
	return s.checkPIN(ctx, account, pin)
}

func (s *Service) publish(ctx context.Context, evts ...events.TransactionCommitted) {
	if err := s.publisher.Publish(ctx, evts...); err != nil {
		zap.L().Warn("Failed to publish ledger events", zap.Int("count", len(evts)), zap.Error(err))
	}
}

func committedEvent(correlationID string, entry *models.Transaction, balanceAfter money.Amount) events.TransactionCommitted {
	return events.TransactionCommitted{
		CorrelationID:  correlationID,
		TransactionID:  entry.ID,
		AccountID:      entry.AccountID,
		Amount:         entry.Amount.Int64(),
		Kind:           entry.Kind,
		IdempotencyKey: entry.IdempotencyKey,
		BalanceAfter:   balanceAfter.Int64(),
		OccurredAt:     entry.CreatedAt.UTC(),
	}
}
