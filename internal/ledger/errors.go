package ledger

import (
	"errors"
	"fmt"

	"github.com/kidbank/backend/internal/money"
)

// ErrorKind classifies ledger failures for callers. Anything that is not a
// *Error is an infrastructure failure.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindNotConfigured     ErrorKind = "not_configured"
	KindAlreadyConfigured ErrorKind = "already_configured"
	KindInvalidAmount     ErrorKind = "invalid_amount"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindCrossOwner        ErrorKind = "cross_owner_transfer"
	KindInvalidCursor     ErrorKind = "invalid_cursor"
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindTooManyAttempts   ErrorKind = "too_many_attempts"
)

type Error struct {
	Kind    ErrorKind
	Message string

	// Set for KindInsufficientFunds.
	Available money.Amount
	Required  money.Amount

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so errors.Is(err, ErrNotFound) works for any
// not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "account not found"}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized, Message: "invalid PIN"}
	ErrNotConfigured     = &Error{Kind: KindNotConfigured, Message: "PIN not configured"}
	ErrAlreadyConfigured = &Error{Kind: KindAlreadyConfigured, Message: "PIN already configured"}
	ErrInvalidAmount     = &Error{Kind: KindInvalidAmount, Message: "invalid amount"}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrCrossOwner        = &Error{Kind: KindCrossOwner, Message: "transfers are only allowed between accounts of the same child"}
	ErrInvalidCursor     = &Error{Kind: KindInvalidCursor, Message: "invalid cursor"}
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest, Message: "invalid request"}
	ErrTooManyAttempts   = &Error{Kind: KindTooManyAttempts, Message: "too many failed PIN attempts"}

	errKeyReused = &Error{Kind: KindInvalidRequest, Message: "idempotency key was already used for a different operation"}
)

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func insufficientFunds(available, required money.Amount) *Error {
	return &Error{
		Kind:      KindInsufficientFunds,
		Message:   fmt.Sprintf("insufficient funds: available %s, required %s", available, required),
		Available: available,
		Required:  required,
	}
}

// KindOf returns the ledger error kind of err, or "" for infrastructure
// errors.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}
