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

func publishedLegs(debitID, creditID int64) any {
	return mock.MatchedBy(func(evts []events.TransactionCommitted) bool {
		if len(evts) != 2 {
			return false
		}
		return evts[0].TransactionID == debitID &&
			evts[1].TransactionID == creditID &&
			evts[0].Amount+evts[1].Amount == 0 &&
			evts[0].CorrelationID != "" &&
			evts[0].CorrelationID == evts[1].CorrelationID
	})
}

func TestService_Transfer(t *testing.T) {
	ctx := context.Background()
	hash := mustHashPIN(t, testPIN)

	request := func(source, destination int64, amount money.Amount) TransferRequest {
		return TransferRequest{
			OwnerID:              testOwnerID,
			SourceAccountID:      source,
			DestinationAccountID: destination,
			Amount:               amount,
			IdempotencyKey:       "t1",
			PIN:                  testPIN,
		}
	}

	t.Run("moves money between sibling accounts", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 5000, hash)
		l.expectAccount(2, testChildID, 0, "")
		l.expectKeyMiss("t1_debit")
		l.mock.ExpectBegin()
		l.expectLock(1, 5000)
		l.expectLock(2, 0)
		l.expectInsert(1, -2000, "transfer_out", "t1_debit", 11)
		l.expectInsert(2, 2000, "transfer_in", "t1_credit", 12)
		l.expectDelta(1, -2000, 3000)
		l.expectDelta(2, 2000, 2000)
		l.mock.ExpectCommit()
		l.publisher.On("Publish", mock.Anything, publishedLegs(11, 12)).Return(nil).Once()

		result, err := l.service.Transfer(ctx, request(1, 2, 2000))
		require.NoError(t, err)
		assert.Equal(t, int64(11), result.TransferID)
		assert.Equal(t, money.Amount(2000), result.Amount)
		assert.Equal(t, money.Amount(3000), result.SourceBalance)
		assert.Equal(t, money.Amount(2000), result.DestinationBalance)
		assert.False(t, result.Replayed)

		total, err := money.Sum(result.Debit.Amount, result.Credit.Amount)
		require.NoError(t, err)
		assert.Zero(t, total)
		l.verify(t)
	})

	t.Run("locks rows in ascending id order", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(5, testChildID, 5000, hash)
		l.expectAccount(2, testChildID, 0, "")
		l.expectKeyMiss("t1_debit")
		l.mock.ExpectBegin()
		l.expectLock(2, 0)
		l.expectLock(5, 5000)
		l.expectInsert(5, -1000, "transfer_out", "t1_debit", 21)
		l.expectInsert(2, 1000, "transfer_in", "t1_credit", 22)
		l.expectDelta(5, -1000, 4000)
		l.expectDelta(2, 1000, 1000)
		l.mock.ExpectCommit()
		l.publisher.On("Publish", mock.Anything, publishedLegs(21, 22)).Return(nil).Once()

		result, err := l.service.Transfer(ctx, request(5, 2, 1000))
		require.NoError(t, err)
		assert.Equal(t, money.Amount(4000), result.SourceBalance)
		assert.Equal(t, money.Amount(1000), result.DestinationBalance)
		l.verify(t)
	})

	t.Run("insufficient funds before locking", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 100, hash)
		l.expectAccount(2, testChildID, 0, "")
		l.expectKeyMiss("t1_debit")

		_, err := l.service.Transfer(ctx, request(1, 2, 2000))
		require.ErrorIs(t, err, ErrInsufficientFunds)

		var ledgerErr *Error
		require.True(t, errors.As(err, &ledgerErr))
		assert.Equal(t, money.Amount(100), ledgerErr.Available)
		assert.Equal(t, money.Amount(2000), ledgerErr.Required)
		l.verify(t)
	})

	t.Run("insufficient funds under lock", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 5000, hash)
		l.expectAccount(2, testChildID, 0, "")
		l.expectKeyMiss("t1_debit")
		l.mock.ExpectBegin()
		l.expectLock(1, 1500)
		l.expectLock(2, 0)
		l.mock.ExpectRollback()

		_, err := l.service.Transfer(ctx, request(1, 2, 2000))
		require.ErrorIs(t, err, ErrInsufficientFunds)

		var ledgerErr *Error
		require.True(t, errors.As(err, &ledgerErr))
		assert.Equal(t, money.Amount(1500), ledgerErr.Available)
		l.verify(t)
	})

	t.Run("credit leg failure rolls back both legs", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 5000, hash)
		l.expectAccount(2, testChildID, 0, "")
		l.expectKeyMiss("t1_debit")
		l.mock.ExpectBegin()
		l.expectLock(1, 5000)
		l.expectLock(2, 0)
		l.expectInsert(1, -2000, "transfer_out", "t1_debit", 11)
		l.mock.ExpectQuery(sqlInsertTx).
			WithArgs(int64(2), int64(2000), "transfer_in", "t1_credit").
			WillReturnError(errors.New("disk full"))
		l.mock.ExpectRollback()

		_, err := l.service.Transfer(ctx, request(1, 2, 2000))
		require.Error(t, err)
		assert.Equal(t, ErrorKind(""), KindOf(err))
		l.verify(t)
	})

	t.Run("accounts of different children", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 5000, hash)
		l.expectAccount(3, testChildID+1, 0, "")

		_, err := l.service.Transfer(ctx, request(1, 3, 2000))
		assert.ErrorIs(t, err, ErrCrossOwner)
		l.verify(t)
	})

	t.Run("wrong PIN", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 5000, hash)
		l.expectAccount(2, testChildID, 0, "")

		req := request(1, 2, 2000)
		req.PIN = "0000"
		_, err := l.service.Transfer(ctx, req)
		assert.ErrorIs(t, err, ErrUnauthorized)
		l.verify(t)
	})

	t.Run("source without a PIN", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 5000, "")
		l.expectAccount(2, testChildID, 0, "")

		_, err := l.service.Transfer(ctx, request(1, 2, 2000))
		assert.ErrorIs(t, err, ErrUnauthorized)
		l.verify(t)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		for _, amount := range []money.Amount{0, -5} {
			l := newTestLedger(t, DefaultConfig(), nil)
			l.expectAccount(1, testChildID, 5000, hash)
			l.expectAccount(2, testChildID, 0, "")

			_, err := l.service.Transfer(ctx, request(1, 2, amount))
			assert.ErrorIs(t, err, ErrInvalidAmount)
			l.verify(t)
		}
	})

	t.Run("same account on both sides", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)

		_, err := l.service.Transfer(ctx, request(1, 1, 2000))
		assert.ErrorIs(t, err, ErrInvalidRequest)
		l.verify(t)
	})

	t.Run("retry replays both legs even after the source drained", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 0, hash)
		l.expectAccount(2, testChildID, 2000, "")
		l.expectKeyHit("t1_debit", 11, 1, -2000, "transfer_out")
		l.expectKeyHit("t1_credit", 12, 2, 2000, "transfer_in")
		l.expectBalance(1, 0)
		l.expectBalance(2, 2000)

		result, err := l.service.Transfer(ctx, request(1, 2, 2000))
		require.NoError(t, err)
		assert.True(t, result.Replayed)
		assert.Equal(t, int64(11), result.TransferID)
		assert.Equal(t, money.Amount(2000), result.Amount)
		assert.Equal(t, money.Amount(0), result.SourceBalance)

		total, err := money.Sum(result.Debit.Amount, result.Credit.Amount)
		require.NoError(t, err)
		assert.Zero(t, total)
		l.verify(t)
	})

	t.Run("key reused for a different pair of accounts", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 5000, hash)
		l.expectAccount(2, testChildID, 0, "")
		l.expectKeyHit("t1_debit", 11, 4, -2000, "transfer_out")
		l.expectKeyHit("t1_credit", 12, 2, 2000, "transfer_in")

		_, err := l.service.Transfer(ctx, request(1, 2, 2000))
		assert.ErrorIs(t, err, ErrInvalidRequest)
		l.verify(t)
	})

	t.Run("debit key belongs to a deposit", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 5000, hash)
		l.expectAccount(2, testChildID, 0, "")
		l.expectKeyHit("t1_debit", 9, 1, 500, "deposit")

		result, err := l.service.Transfer(ctx, request(1, 2, 2000))
		assert.ErrorIs(t, err, ErrInvalidRequest)
		assert.Nil(t, result)
		l.verify(t)
	})

	t.Run("credit key already used by a deposit", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 5000, hash)
		l.expectAccount(2, testChildID, 0, "")
		l.expectKeyMiss("t1_debit")
		l.mock.ExpectBegin()
		l.expectLock(1, 5000)
		l.expectLock(2, 0)
		l.expectInsert(1, -2000, "transfer_out", "t1_debit", 11)
		l.mock.ExpectQuery(sqlInsertTx).
			WithArgs(int64(2), int64(2000), "transfer_in", "t1_credit").
			WillReturnError(&pq.Error{Code: "23505"})
		l.mock.ExpectRollback()
		l.expectKeyMiss("t1_debit")

		_, err := l.service.Transfer(ctx, request(1, 2, 2000))
		require.ErrorIs(t, err, ErrInvalidRequest)
		assert.Equal(t, KindInvalidRequest, KindOf(err))
		l.verify(t)
	})

	t.Run("debit leg without its credit leg", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 3000, hash)
		l.expectAccount(2, testChildID, 0, "")
		l.expectKeyHit("t1_debit", 11, 1, -2000, "transfer_out")
		l.expectKeyMiss("t1_credit")

		_, err := l.service.Transfer(ctx, request(1, 2, 2000))
		assert.ErrorIs(t, err, ErrInvalidRequest)
		l.verify(t)
	})

	t.Run("key replayed with a different amount", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 3000, hash)
		l.expectAccount(2, testChildID, 2000, "")
		l.expectKeyHit("t1_debit", 11, 1, -2000, "transfer_out")
		l.expectKeyHit("t1_credit", 12, 2, 2000, "transfer_in")

		_, err := l.service.Transfer(ctx, request(1, 2, 1500))
		assert.ErrorIs(t, err, ErrInvalidRequest)
		l.verify(t)
	})

	t.Run("concurrent duplicate becomes a replay", func(t *testing.T) {
		l := newTestLedger(t, DefaultConfig(), nil)
		l.expectAccount(1, testChildID, 5000, hash)
		l.expectAccount(2, testChildID, 0, "")
		l.expectKeyMiss("t1_debit")
		l.mock.ExpectBegin()
		l.expectLock(1, 3000)
		l.expectLock(2, 2000)
		l.mock.ExpectQuery(sqlInsertTx).
			WithArgs(int64(1), int64(-2000), "transfer_out", "t1_debit").
			WillReturnError(&pq.Error{Code: "23505"})
		l.mock.ExpectRollback()
		l.expectKeyHit("t1_debit", 11, 1, -2000, "transfer_out")
		l.expectKeyHit("t1_credit", 12, 2, 2000, "transfer_in")
		l.expectBalance(1, 3000)
		l.expectBalance(2, 2000)

		result, err := l.service.Transfer(ctx, request(1, 2, 2000))
		require.NoError(t, err)
		assert.True(t, result.Replayed)
		assert.Equal(t, int64(11), result.TransferID)
		l.verify(t)
	})
}
