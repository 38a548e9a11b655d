package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const TopicTransactionCommitted = "ledger.transactions"

// TransactionCommitted is emitted once per ledger row after its database
// transaction commits. A transfer produces two events sharing a
// CorrelationID.
type TransactionCommitted struct {
	EventID        string    `json:"event_id"`
	CorrelationID  string    `json:"correlation_id"`
	TransactionID  int64     `json:"transaction_id"`
	AccountID      int64     `json:"account_id"`
	Amount         int64     `json:"amount_minor_units"`
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotency_key"`
	BalanceAfter   int64     `json:"balance_after_minor_units"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher delivers committed-transaction events. Implementations must not
// block the request path for long; delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, events ...TransactionCommitted) error
	Close() error
}

// NewCorrelationID groups the events of one money-movement operation.
func NewCorrelationID() string {
	return uuid.NewString()
}

// NopPublisher drops events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...TransactionCommitted) error { return nil }
func (NopPublisher) Close() error                                           { return nil }
