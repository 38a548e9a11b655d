package ledger

import (
	"context"

	"github.com/kidbank/backend/internal/models"
)

type HistoryRequest struct {
	OwnerID   int64
	AccountID int64
	Limit     int
	// Cursor is the opaque token from a previous page. Empty starts at the
	// newest transaction.
	Cursor string
}

type HistoryPage struct {
	Transactions []models.Transaction `json:"transactions"`
	NextCursor   *string              `json:"next_cursor"`
	HasMore      bool                 `json:"has_more"`
}

// ListTransactions pages through the ledger of one account, newest first.
func (s *Service) ListTransactions(ctx context.Context, req HistoryRequest) (*HistoryPage, error) {
	account, err := s.store.GetAccountForOwner(ctx, req.AccountID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	var beforeID int64
	if req.Cursor != "" {
		cursor, err := DecodeCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		beforeID = cursor.LastID
	}

	limit := ClampLimit(req.Limit)

	// one extra row tells us whether another page exists
	entries, err := s.store.ListTransactions(ctx, account.ID, beforeID, limit+1)
	if err != nil {
		return nil, err
	}

	page := &HistoryPage{Transactions: entries}
	if len(entries) > limit {
		page.Transactions = entries[:limit]
		page.HasMore = true
		next := EncodeCursor(page.Transactions[limit-1].ID)
		page.NextCursor = &next
	}
	return page, nil
}

// GetTransaction returns one transaction of an account the owner controls.
func (s *Service) GetTransaction(ctx context.Context, ownerID, accountID, transactionID int64) (*models.Transaction, error) {
	account, err := s.store.GetAccountForOwner(ctx, accountID, ownerID)
	if err != nil {
		return nil, err
	}
	return s.store.GetTransaction(ctx, account.ID, transactionID)
}
