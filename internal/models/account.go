package models

import (
	"time"

	"github.com/kidbank/backend/internal/money"
)

const (
	AccountTypeChecking = "checking"
	AccountTypeSavings  = "savings"
)

// Account is the ownership-resolved view of an accounts row: the account
// joined with its child and the child's parent.
type Account struct {
	ID          int64        `json:"id" db:"id"`
	AccountType string       `json:"account_type" db:"account_type"`
	Balance     money.Amount `json:"balance_minor_units" db:"balance_cents"`
	ChildID     int64        `json:"child_id" db:"child_id"`
	ParentID    int64        `json:"-" db:"parent_id"`
	PINHash     string       `json:"-" db:"pin_hash"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

func (a *Account) PINConfigured() bool {
	return a.PINHash != ""
}

// AccountSummary is what callers outside the ledger get to see.
type AccountSummary struct {
	ID            int64        `json:"id"`
	AccountType   string       `json:"account_type"`
	Balance       money.Amount `json:"balance_minor_units"`
	ChildID       int64        `json:"child_id"`
	PINConfigured bool         `json:"pin_configured"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		ID:            a.ID,
		AccountType:   a.AccountType,
		Balance:       a.Balance,
		ChildID:       a.ChildID,
		PINConfigured: a.PINConfigured(),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}
