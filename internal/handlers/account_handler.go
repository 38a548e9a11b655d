package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kidbank/backend/internal/ledger"
	mW "github.com/kidbank/backend/internal/middleware"
	"github.com/kidbank/backend/internal/models"
	"github.com/kidbank/backend/internal/money"
)

// AccountService is the ledger as seen by the HTTP layer.
type AccountService interface {
	ListAccounts(ctx context.Context, ownerID int64) ([]models.Account, error)
	OpenAccounts(ctx context.Context, ownerID, childID int64) ([]models.Account, error)
	GetAccount(ctx context.Context, ownerID, accountID int64) (*models.Account, error)
	Deposit(ctx context.Context, req ledger.DepositRequest) (*ledger.DepositResult, error)
	Transfer(ctx context.Context, req ledger.TransferRequest) (*ledger.TransferResult, error)
	ListTransactions(ctx context.Context, req ledger.HistoryRequest) (*ledger.HistoryPage, error)
	GetTransaction(ctx context.Context, ownerID, accountID, transactionID int64) (*models.Transaction, error)
	SetPIN(ctx context.Context, ownerID, accountID int64, pin string) error
	ChangePIN(ctx context.Context, ownerID, accountID int64, currentPIN, newPIN string) error
	VerifyPIN(ctx context.Context, ownerID, accountID int64, pin string) (bool, error)
}

type AccountHandler struct {
	service   AccountService
	validator *ValidationHelper
}

func NewAccountHandler(service AccountService) *AccountHandler {
	return &AccountHandler{
		service:   service,
		validator: NewValidationHelper(),
	}
}

// Routes mounts the account endpoints. The router must already carry the
// auth middleware.
func (h *AccountHandler) Routes(r chi.Router) {
	r.Get("/accounts", h.ListAccounts)
	r.Post("/accounts/transfer", h.Transfer)
	r.Post("/children/{childId}/accounts", h.OpenAccounts)

	r.Route("/accounts/{accountId}", func(r chi.Router) {
		r.Get("/", h.GetAccount)
		r.Post("/deposit", h.Deposit)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/{txId}", h.GetTransaction)
		r.Post("/pin", h.SetPIN)
		r.Put("/pin", h.ChangePIN)
		r.Post("/pin/verify", h.VerifyPIN)
	})
}

type AccountsResponse struct {
	Accounts []models.AccountSummary `json:"accounts"`
}

type DepositRequest struct {
	Amount         money.Amount `json:"amount_minor_units"`
	IdempotencyKey string       `json:"idempotency_key" validate:"required,max=128"`
	PIN            string       `json:"pin,omitempty" validate:"omitempty,numeric,min=4,max=6"`
	Kind           string       `json:"kind,omitempty" validate:"omitempty,oneof=deposit allowance"`
}

type DepositResponse struct {
	NewBalance  money.Amount        `json:"new_balance_minor_units"`
	Transaction *models.Transaction `json:"transaction"`
	Replayed    bool                `json:"replayed"`
}

type TransferDetails struct {
	SourceAccountID      int64        `json:"source_account_id" validate:"required,gt=0"`
	DestinationAccountID int64        `json:"destination_account_id" validate:"required,gt=0"`
	Amount               money.Amount `json:"amount_minor_units"`
	IdempotencyKey       string       `json:"idempotency_key" validate:"required,max=128"`
}

type PINVerification struct {
	PIN string `json:"pin" validate:"required,numeric,min=4,max=6"`
}

type TransferRequest struct {
	Transfer        TransferDetails `json:"transfer"`
	PINVerification PINVerification `json:"pin_verification"`
}

type TransferResponse struct {
	Message            string       `json:"message"`
	TransferID         int64        `json:"transfer_id"`
	Amount             money.Amount `json:"amount"`
	SourceBalance      money.Amount `json:"source_balance"`
	DestinationBalance money.Amount `json:"destination_balance"`
	Replayed           bool         `json:"replayed"`
}

type SetPINRequest struct {
	PIN string `json:"pin" validate:"required,numeric,min=4,max=6"`
}

type ChangePINRequest struct {
	CurrentPIN string `json:"current_pin" validate:"required,numeric,min=4,max=6"`
	NewPIN     string `json:"new_pin" validate:"required,numeric,min=4,max=6,nefield=CurrentPIN"`
}

type VerifyPINResponse struct {
	Verified bool `json:"verified"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// ListAccounts lists every account of the caller's children
// @Summary List accounts
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} AccountsResponse
// @Failure 401 {object} ErrorResponse
// @Router /accounts [get]
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	accounts, err := h.service.ListAccounts(r.Context(), principal.UserID)
	if err != nil {
		sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AccountsResponse{Accounts: summaries(accounts)})
}

// OpenAccounts creates the checking and savings accounts of a child
// @Summary Open child accounts
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Param childId path int true "Child ID"
// @Success 201 {object} AccountsResponse
// @Failure 404 {object} ErrorResponse
// @Router /children/{childId}/accounts [post]
func (h *AccountHandler) OpenAccounts(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}
	childID, ok := pathID(w, r, "childId")
	if !ok {
		return
	}

	accounts, err := h.service.OpenAccounts(r.Context(), principal.UserID, childID)
	if err != nil {
		sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, AccountsResponse{Accounts: summaries(accounts)})
}

// GetAccount returns one account
// @Summary Get account
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Success 200 {object} models.AccountSummary
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId} [get]
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}

	account, err := h.service.GetAccount(r.Context(), principal.UserID, accountID)
	if err != nil {
		sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, account.Summary())
}

// Deposit credits an account
// @Summary Deposit
// @Description Credits the account once per idempotency key. Repeating a request returns the original transaction.
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Param request body DepositRequest true "Deposit request"
// @Success 200 {object} DepositResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/deposit [post]
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}

	var req DepositRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Deposit(r.Context(), ledger.DepositRequest{
		OwnerID:        principal.UserID,
		AccountID:      accountID,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		PIN:            req.PIN,
		Kind:           req.Kind,
	})
	if err != nil {
		sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DepositResponse{
		NewBalance:  result.NewBalance,
		Transaction: result.Transaction,
		Replayed:    result.Replayed,
	})
}

// Transfer moves money between two accounts of the same child
// @Summary Transfer
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TransferRequest true "Transfer request"
// @Success 200 {object} TransferResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /accounts/transfer [post]
func (h *AccountHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}

	var req TransferRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Transfer(r.Context(), ledger.TransferRequest{
		OwnerID:              principal.UserID,
		SourceAccountID:      req.Transfer.SourceAccountID,
		DestinationAccountID: req.Transfer.DestinationAccountID,
		Amount:               req.Transfer.Amount,
		IdempotencyKey:       req.Transfer.IdempotencyKey,
		PIN:                  req.PINVerification.PIN,
	})
	if err != nil {
		sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TransferResponse{
		Message:            "Transfer completed",
		TransferID:         result.TransferID,
		Amount:             result.Amount,
		SourceBalance:      result.SourceBalance,
		DestinationBalance: result.DestinationBalance,
		Replayed:           result.Replayed,
	})
}

// ListTransactions pages through the transactions of an account
// @Summary Transaction history
// @Description Newest first. Pass next_cursor from the previous page to continue.
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Param limit query int false "Page size (1-100, default 20)"
// @Param cursor query string false "Opaque cursor"
// @Success 200 {object} ledger.HistoryPage
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/transactions [get]
func (h *AccountHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}

	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			SendErrorResponse(w, "limit must be an integer", string(ledger.KindInvalidRequest), http.StatusBadRequest, nil)
			return
		}
		limit = parsed
	}

	page, err := h.service.ListTransactions(r.Context(), ledger.HistoryRequest{
		OwnerID:   principal.UserID,
		AccountID: accountID,
		Limit:     limit,
		Cursor:    r.URL.Query().Get("cursor"),
	})
	if err != nil {
		sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// GetTransaction returns one transaction of an account
// @Summary Get transaction
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Param txId path int true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/transactions/{txId} [get]
func (h *AccountHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}
	txID, ok := pathID(w, r, "txId")
	if !ok {
		return
	}

	entry, err := h.service.GetTransaction(r.Context(), principal.UserID, accountID, txID)
	if err != nil {
		sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// SetPIN configures the first PIN of an account
// @Summary Set PIN
// @Tags PIN
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Param request body SetPINRequest true "PIN"
// @Success 201 {object} MessageResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /accounts/{accountId}/pin [post]
func (h *AccountHandler) SetPIN(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}

	var req SetPINRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.SetPIN(r.Context(), principal.UserID, accountID, req.PIN); err != nil {
		sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, MessageResponse{Message: "PIN configured"})
}

// ChangePIN replaces the PIN of an account
// @Summary Change PIN
// @Tags PIN
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Param request body ChangePINRequest true "Current and new PIN"
// @Success 200 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /accounts/{accountId}/pin [put]
func (h *AccountHandler) ChangePIN(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}

	var req ChangePINRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangePIN(r.Context(), principal.UserID, accountID, req.CurrentPIN, req.NewPIN); err != nil {
		sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "PIN changed"})
}

// VerifyPIN checks a PIN without moving money
// @Summary Verify PIN
// @Tags PIN
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Param request body SetPINRequest true "PIN"
// @Success 200 {object} VerifyPINResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /accounts/{accountId}/pin/verify [post]
func (h *AccountHandler) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOrReject(w, r)
	if !ok {
		return
	}
	accountID, ok := pathID(w, r, "accountId")
	if !ok {
		return
	}

	var req SetPINRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	verified, err := h.service.VerifyPIN(r.Context(), principal.UserID, accountID, req.PIN)
	if err != nil {
		sendLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, VerifyPINResponse{Verified: verified})
}

func principalOrReject(w http.ResponseWriter, r *http.Request) (mW.Principal, bool) {
	principal, ok := mW.PrincipalFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", string(ledger.KindUnauthorized), http.StatusUnauthorized, nil)
		return mW.Principal{}, false
	}
	return principal, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		SendErrorResponse(w, "Invalid "+param, string(ledger.KindInvalidRequest), http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}

func summaries(accounts []models.Account) []models.AccountSummary {
	out := make([]models.AccountSummary, 0, len(accounts))
	for i := range accounts {
		out = append(out, accounts[i].Summary())
	}
	return out
}
