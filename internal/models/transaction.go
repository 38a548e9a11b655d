package models

import (
	"time"

	"github.com/kidbank/backend/internal/money"
)

// Transaction kinds. The set is open; the kind is descriptive and never
// used for balance arithmetic.
const (
	TransactionDeposit     = "deposit"
	TransactionTransferOut = "transfer_out"
	TransactionTransferIn  = "transfer_in"
	TransactionAllowance   = "allowance"
	TransactionPenalty     = "penalty"
)

// Transaction is an immutable ledger entry. Amount is positive for credits
// and negative for debits.
type Transaction struct {
	ID             int64        `json:"id" db:"id"`
	AccountID      int64        `json:"account_id" db:"account_id"`
	Amount         money.Amount `json:"amount" db:"amount_cents"`
	Kind           string       `json:"kind" db:"transaction_type"`
	IdempotencyKey string       `json:"idempotency_key" db:"idempotency_key"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}
