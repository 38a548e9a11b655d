package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kidbank/backend/internal/ledger"
	"github.com/kidbank/backend/internal/money"
	"go.uber.org/zap"
)

const maxBodyBytes = 1_048_576

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string         `json:"error"`             // Error message
	Code    string         `json:"code"`              // Machine-readable kind
	Details map[string]any `json:"details,omitempty"` // Validation or balance details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a validator that reports fields by their JSON
// names.
func NewValidationHelper() *ValidationHelper {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &ValidationHelper{validator: v}
}

func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message, code string, statusCode int, validationErr error) {
	errorResp := ErrorResponse{Error: message, Code: code}

	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		errorResp.Details = make(map[string]any, len(fieldErrs))
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	writeJSON(w, statusCode, errorResp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("Failed to write response", zap.Error(err))
	}
}

// decodeJSON reads exactly one JSON object into dst and validates it.
// It writes the error response itself and reports whether to continue.
func (h *AccountHandler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, decodeErrorMessage(err), string(ledger.KindInvalidRequest), http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", string(ledger.KindInvalidRequest), http.StatusBadRequest, nil)
		return false
	}

	if err := h.validator.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", string(ledger.KindInvalidRequest), http.StatusBadRequest, err)
		return false
	}
	return true
}

func decodeErrorMessage(err error) string {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, money.ErrFractional):
		return "Amounts must be whole numbers of minor units"
	case errors.Is(err, money.ErrNotNumber):
		return "Amounts must be JSON integers"
	case errors.Is(err, money.ErrOverflow):
		return "Amount is out of range"
	case errors.As(err, &maxBytesErr):
		return "Request body too large"
	case errors.Is(err, io.EOF):
		return "Request body is empty"
	}
	return "Invalid request body"
}

// sendLedgerError maps a ledger error to its HTTP status. Errors that are
// not ledger errors are logged and reported without detail.
func sendLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var le *ledger.Error
	if !errors.As(err, &le) {
		zap.L().Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		SendErrorResponse(w, "Internal server error", "internal", http.StatusInternalServerError, nil)
		return
	}

	resp := ErrorResponse{Error: le.Error(), Code: string(le.Kind)}
	if le.Kind == ledger.KindInsufficientFunds {
		resp.Details = map[string]any{
			"available": le.Available.Int64(),
			"required":  le.Required.Int64(),
		}
	}
	writeJSON(w, statusForKind(le.Kind), resp)
}

func statusForKind(kind ledger.ErrorKind) int {
	switch kind {
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindUnauthorized:
		return http.StatusUnauthorized
	case ledger.KindNotConfigured, ledger.KindAlreadyConfigured:
		return http.StatusConflict
	case ledger.KindInvalidAmount, ledger.KindInvalidCursor, ledger.KindInvalidRequest:
		return http.StatusBadRequest
	case ledger.KindInsufficientFunds, ledger.KindCrossOwner:
		return http.StatusUnprocessableEntity
	case ledger.KindTooManyAttempts:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
