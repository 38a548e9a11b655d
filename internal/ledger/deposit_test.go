package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/kidbank/backend/internal/events"
	"github.com/kidbank/backend/internal/money"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func publishedOne(transactionID, balanceAfter int64) any {
	return mock.MatchedBy(func(evts []events.TransactionCommitted) bool {
		return len(evts) == 1 &&
			evts[0].TransactionID == transactionID &&
			evts[0].BalanceAfter == balanceAfter &&
			evts[0].CorrelationID != ""
	})
}

func TestService_Deposit(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent deposits then paged history", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)

		// k1 commits
		l.expectAccount(1, testChildID, 0, "")
		l.expectKeyMiss("k1")
		l.mock.ExpectBegin()
		l.expectLock(1, 0)
		l.expectInsert(1, 1000, "deposit", "k1", 1)
		l.expectDelta(1, 1000, 1000)
		l.mock.ExpectCommit()
		l.publisher.On("Publish", mock.Anything, publishedOne(1, 1000)).Return(nil).Once()

		first, err := l.service.Deposit(ctx, DepositRequest{
			OwnerID: testOwnerID, AccountID: 1, Amount: 1000, IdempotencyKey: "k1",
		})
		require.NoError(t, err)
		assert.Equal(t, money.Amount(1000), first.NewBalance)
		assert.Equal(t, int64(1), first.Transaction.ID)
		assert.False(t, first.Replayed)

		// k1 again is answered from the log
		l.expectAccount(1, testChildID, 1000, "")
		l.expectKeyHit("k1", 1, 1, 1000, "deposit")
		l.expectBalance(1, 1000)

		replay, err := l.service.Deposit(ctx, DepositRequest{
			OwnerID: testOwnerID, AccountID: 1, Amount: 1000, IdempotencyKey: "k1",
		})
		require.NoError(t, err)
		assert.Equal(t, money.Amount(1000), replay.NewBalance)
		assert.Equal(t, first.Transaction.ID, replay.Transaction.ID)
		assert.True(t, replay.Replayed)

		// k2 commits
		l.expectAccount(1, testChildID, 1000, "")
		l.expectKeyMiss("k2")
		l.mock.ExpectBegin()
		l.expectLock(1, 1000)
		l.expectInsert(1, 500, "deposit", "k2", 2)
		l.expectDelta(1, 500, 1500)
		l.mock.ExpectCommit()
		l.publisher.On("Publish", mock.Anything, publishedOne(2, 1500)).Return(nil).Once()

		second, err := l.service.Deposit(ctx, DepositRequest{
			OwnerID: testOwnerID, AccountID: 1, Amount: 500, IdempotencyKey: "k2",
		})
		require.NoError(t, err)
		assert.Equal(t, money.Amount(1500), second.NewBalance)
		assert.Equal(t, int64(2), second.Transaction.ID)

		// history, one row per page
		l.expectAccount(1, testChildID, 1500, "")
		l.mock.ExpectQuery(sqlTxPage).
			WithArgs(int64(1), 2).
			WillReturnRows(newTransactionRows().
				add(2, 1, 500, "deposit", "k2").
				add(1, 1, 1000, "deposit", "k1").rows)

		page, err := l.service.ListTransactions(ctx, HistoryRequest{OwnerID: testOwnerID, AccountID: 1, Limit: 1})
		require.NoError(t, err)
		require.Len(t, page.Transactions, 1)
		assert.Equal(t, int64(2), page.Transactions[0].ID)
		assert.True(t, page.HasMore)
		require.NotNil(t, page.NextCursor)

		l.expectAccount(1, testChildID, 1500, "")
		l.mock.ExpectQuery(sqlTxPageBefore).
			WithArgs(int64(1), int64(2), 2).
			WillReturnRows(newTransactionRows().
				add(1, 1, 1000, "deposit", "k1").rows)

		page, err = l.service.ListTransactions(ctx, HistoryRequest{
			OwnerID: testOwnerID, AccountID: 1, Limit: 1, Cursor: *page.NextCursor,
		})
		require.NoError(t, err)
		require.Len(t, page.Transactions, 1)
		assert.Equal(t, int64(1), page.Transactions[0].ID)
		assert.False(t, page.HasMore)
		assert.Nil(t, page.NextCursor)

		l.verify(t)
	})

	t.Run("concurrent duplicate becomes a replay", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 0, "")
		l.expectKeyMiss("k1")
		l.mock.ExpectBegin()
		l.expectLock(1, 1000)
		l.mock.ExpectQuery(sqlInsertTx).
			WithArgs(int64(1), int64(1000), "deposit", "k1").
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
		l.mock.ExpectRollback()
		l.expectKeyHit("k1", 7, 1, 1000, "deposit")
		l.expectBalance(1, 1000)

		result, err := l.service.Deposit(ctx, DepositRequest{
			OwnerID: testOwnerID, AccountID: 1, Amount: 1000, IdempotencyKey: "k1",
		})
		require.NoError(t, err)
		assert.True(t, result.Replayed)
		assert.Equal(t, int64(7), result.Transaction.ID)
		assert.Equal(t, money.Amount(1000), result.NewBalance)
		l.verify(t)
	})

	t.Run("key already used on another account", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 0, "")
		l.expectKeyHit("k1", 7, 2, 1000, "deposit")

		_, err := l.service.Deposit(ctx, DepositRequest{
			OwnerID: testOwnerID, AccountID: 1, Amount: 1000, IdempotencyKey: "k1",
		})
		assert.ErrorIs(t, err, ErrInvalidRequest)
		l.verify(t)
	})

	t.Run("transfer leg keys are reserved", func(t *testing.T) {
		for _, key := range []string{"t1_debit", "t1_credit"} {
			l := newTestLedger(t, DefaultConfig(), nil)

			result, err := l.service.Deposit(ctx, DepositRequest{
				OwnerID: testOwnerID, AccountID: 1, Amount: 500, IdempotencyKey: key,
			})
			assert.ErrorIs(t, err, ErrInvalidRequest, "key %s", key)
			assert.Nil(t, result)
			l.verify(t)
		}
	})

	t.Run("key committed for a different deposit", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 2500, "")
		l.expectKeyHit("k1", 7, 1, 2500, "deposit")

		_, err := l.service.Deposit(ctx, DepositRequest{
			OwnerID: testOwnerID, AccountID: 1, Amount: 1000, IdempotencyKey: "k1",
		})
		assert.ErrorIs(t, err, ErrInvalidRequest)
		l.verify(t)
	})

	t.Run("key committed as a transfer leg is never a replay", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 3000, "")
		l.expectKeyHit("k1", 11, 1, -2000, "transfer_out")

		result, err := l.service.Deposit(ctx, DepositRequest{
			OwnerID: testOwnerID, AccountID: 1, Amount: 500, IdempotencyKey: "k1",
		})
		assert.ErrorIs(t, err, ErrInvalidRequest)
		assert.Nil(t, result)
		l.verify(t)
	})

	t.Run("key committed as an allowance", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 1000, "")
		l.expectKeyHit("k1", 7, 1, 1000, "allowance")

		_, err := l.service.Deposit(ctx, DepositRequest{
			OwnerID: testOwnerID, AccountID: 1, Amount: 1000, IdempotencyKey: "k1",
		})
		assert.ErrorIs(t, err, ErrInvalidRequest)
		l.verify(t)
	})

	t.Run("amount outside configured bounds", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MinDeposit = 100
		cfg.MaxDeposit = 5000

		for _, amount := range []money.Amount{0, -100, 99, 5001} {
			l := newTestLedger(t, cfg, nil)
			l.expectAccount(1, testChildID, 0, "")

			_, err := l.service.Deposit(ctx, DepositRequest{
				OwnerID: testOwnerID, AccountID: 1, Amount: amount, IdempotencyKey: "k1",
			})
			assert.ErrorIs(t, err, ErrInvalidAmount, "amount %d", amount)
			l.verify(t)
		}
	})

	t.Run("missing idempotency key", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)

		_, err := l.service.Deposit(ctx, DepositRequest{OwnerID: testOwnerID, AccountID: 1, Amount: 1000})
		assert.ErrorIs(t, err, ErrInvalidRequest)
		l.verify(t)
	})

	t.Run("unowned account", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectNoAccount(1)

		_, err := l.service.Deposit(ctx, DepositRequest{
			OwnerID: testOwnerID, AccountID: 1, Amount: 1000, IdempotencyKey: "k1",
		})
		assert.ErrorIs(t, err, ErrNotFound)
		l.verify(t)
	})

	t.Run("configured PIN must match", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 0, mustHashPIN(t, testPIN))

		_, err := l.service.Deposit(ctx, DepositRequest{
			OwnerID: testOwnerID, AccountID: 1, Amount: 1000, IdempotencyKey: "k1", PIN: "0000",
		})
		assert.ErrorIs(t, err, ErrUnauthorized)
		l.verify(t)
	})

	t.Run("required policy refuses accounts without a PIN", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.PINPolicy = PINRequired
		l := newTestLedger(t, cfg, nil)
		l.expectAccount(1, testChildID, 0, "")

		_, err := l.service.Deposit(ctx, DepositRequest{
			OwnerID: testOwnerID, AccountID: 1, Amount: 1000, IdempotencyKey: "k1",
		})
		assert.ErrorIs(t, err, ErrUnauthorized)
		l.verify(t)
	})

	t.Run("allowance kind with matching PIN", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.PINPolicy = PINRequired
		l := newTestLedger(t, cfg, nil)
		l.expectAccount(1, testChildID, 0, mustHashPIN(t, testPIN))
		l.expectKeyMiss("allowance-2026-10-12")
		l.mock.ExpectBegin()
		l.expectLock(1, 0)
		l.expectInsert(1, 700, "allowance", "allowance-2026-10-12", 3)
		l.expectDelta(1, 700, 700)
		l.mock.ExpectCommit()
		l.publisher.On("Publish", mock.Anything, publishedOne(3, 700)).Return(nil).Once()

		result, err := l.service.Deposit(ctx, DepositRequest{
			OwnerID: testOwnerID, AccountID: 1, Amount: 700,
			IdempotencyKey: "allowance-2026-10-12", PIN: testPIN, Kind: "allowance",
		})
		require.NoError(t, err)
		assert.Equal(t, "allowance", result.Transaction.Kind)
		l.verify(t)
	})

	t.Run("failed balance update rolls back", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 0, "")
		l.expectKeyMiss("k1")
		l.mock.ExpectBegin()
		l.expectLock(1, 0)
		l.expectInsert(1, 1000, "deposit", "k1", 1)
		l.mock.ExpectQuery(sqlApplyDelta).
			WithArgs(int64(1000), int64(1)).
			WillReturnError(errors.New("connection reset"))
		l.mock.ExpectRollback()

		_, err := l.service.Deposit(ctx, DepositRequest{
			OwnerID: testOwnerID, AccountID: 1, Amount: 1000, IdempotencyKey: "k1",
		})
		require.Error(t, err)
		assert.Equal(t, ErrorKind(""), KindOf(err))
		l.verify(t)
	})

	t.Run("publish failure does not undo the deposit", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 0, "")
		l.expectKeyMiss("k1")
		l.mock.ExpectBegin()
		l.expectLock(1, 0)
		l.expectInsert(1, 1000, "deposit", "k1", 1)
		l.expectDelta(1, 1000, 1000)
		l.mock.ExpectCommit()
		l.publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

		result, err := l.service.Deposit(ctx, DepositRequest{
			OwnerID: testOwnerID, AccountID: 1, Amount: 1000, IdempotencyKey: "k1",
		})
		require.NoError(t, err)
		assert.Equal(t, money.Amount(1000), result.NewBalance)
		l.verify(t)
	})
}
