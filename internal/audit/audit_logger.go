package audit

import (
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	EventDeposit   = "DEPOSIT"
	EventTransfer  = "TRANSFER"
	EventPINSet    = "PIN_SET"
	EventPINChange = "PIN_CHANGE"
	EventPINFailed = "PIN_FAILED"
	EventError     = "ERROR"

	StatusSuccess  = "SUCCESS"
	StatusReplayed = "REPLAYED"
	StatusFailed   = "FAILED"
)

type Event struct {
	Timestamp     time.Time
	EventType     string
	TransactionID int64
	AccountID     int64
	Amount        int64
	Status        string
	Details       map[string]string
}

// Logger writes audit events through the "audit" zap logger. The global
// logger is resolved per event so zap.ReplaceGlobals after construction
// still takes effect.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogDeposit(transactionID, accountID, amount int64, status string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     EventDeposit,
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        amount,
		Status:        status,
	})
}

func (a *Logger) LogTransfer(transferID, fromAccount, toAccount, amount int64, status string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     EventTransfer,
		TransactionID: transferID,
		AccountID:     fromAccount,
		Amount:        amount,
		Status:        status,
		Details:       map[string]string{"to_account": strconv.FormatInt(toAccount, 10)},
	})
}

func (a *Logger) LogPIN(eventType string, accountID int64, status string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: eventType,
		AccountID: accountID,
		Status:    status,
	})
}

func (a *Logger) LogError(operation string, accountID int64, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: EventError,
		AccountID: accountID,
		Status:    StatusFailed,
		Details:   map[string]string{"operation": operation, "error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	fields := []zap.Field{
		zap.Time("timestamp", event.Timestamp),
		zap.String("event_type", event.EventType),
		zap.Int64("account_id", event.AccountID),
		zap.String("status", event.Status),
	}
	if event.TransactionID != 0 {
		fields = append(fields, zap.Int64("transaction_id", event.TransactionID))
	}
	if event.Amount != 0 {
		fields = append(fields, zap.Int64("amount", event.Amount))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String(k, v))
	}
	zap.L().Named("audit").Info("AUDIT", fields...)
}
