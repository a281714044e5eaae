package repository_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/payment-sync/services/webhook-service/models"
	"github.com/yashrajoria/payment-sync/services/webhook-service/repository"
)

func newEntry(eventID string) *models.LedgerEntry {
	return &models.LedgerEntry{
		EventID:     eventID,
		EventType:   models.EventTypePayment,
		PaymentID:   "123456",
		Status:      models.LedgerStatusProcessing,
		PayloadJSON: `{"type":"payment","data":{"id":"123456"}}`,
	}
}

// runLedgerContract exercises the behaviour every Ledger backend must share.
func runLedgerContract(t *testing.T, newLedger func(t *testing.T) repository.Ledger) {
	t.Run("get missing", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Get(context.Background(), "payment_nope")
		assert.ErrorIs(t, err, repository.ErrLedgerEntryNotFound)
	})

	t.Run("insert then get", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		require.NoError(t, l.Insert(ctx, newEntry("payment_1")))

		got, err := l.Get(ctx, "payment_1")
		require.NoError(t, err)
		assert.Equal(t, "payment_1", got.EventID)
		assert.Equal(t, models.LedgerStatusProcessing, got.Status)
		assert.Equal(t, "123456", got.PaymentID)
		assert.Nil(t, got.ProcessedAt)
	})

	t.Run("duplicate insert", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		require.NoError(t, l.Insert(ctx, newEntry("payment_2")))
		err := l.Insert(ctx, newEntry("payment_2"))
		assert.ErrorIs(t, err, repository.ErrLedgerEntryExists)
	})

	t.Run("concurrent inserts admit exactly one", func(t *testing.T) {
		l := newLedger(t)
		var wins, dups int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := l.Insert(context.Background(), newEntry("payment_race"))
				switch err {
				case nil:
					atomic.AddInt32(&wins, 1)
				case repository.ErrLedgerEntryExists:
					atomic.AddInt32(&dups, 1)
				default:
					t.Errorf("unexpected insert error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
		assert.Equal(t, int32(15), dups)
	})

	t.Run("update to terminal", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		require.NoError(t, l.Insert(ctx, newEntry("payment_3")))
		require.NoError(t, l.Update(ctx, "payment_3", models.LedgerStatusFailed, "", "reconcile returned 500"))

		got, err := l.Get(ctx, "payment_3")
		require.NoError(t, err)
		assert.Equal(t, models.LedgerStatusFailed, got.Status)
		assert.Equal(t, "reconcile returned 500", got.ProcessingError)
		assert.NotNil(t, got.ProcessedAt)
		assert.True(t, got.IsTerminal())
		assert.Contains(t, got.PayloadJSON, "123456")
	})

	t.Run("update missing", func(t *testing.T) {
		l := newLedger(t)
		err := l.Update(context.Background(), "payment_ghost", models.LedgerStatusSuccess, "", "")
		assert.ErrorIs(t, err, repository.ErrLedgerEntryNotFound)
	})

	t.Run("list by status", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()
		for i := 0; i < 4; i++ {
			e := newEntry(fmt.Sprintf("payment_list_%d", i))
			e.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
			require.NoError(t, l.Insert(ctx, e))
		}
		require.NoError(t, l.Update(ctx, "payment_list_0", models.LedgerStatusFailed, "", "boom"))
		require.NoError(t, l.Update(ctx, "payment_list_2", models.LedgerStatusFailed, "", "boom"))
		require.NoError(t, l.Update(ctx, "payment_list_3", models.LedgerStatusSuccess, "", ""))

		failed, err := l.ListByStatus(ctx, models.LedgerStatusFailed, 10)
		require.NoError(t, err)
		require.Len(t, failed, 2)
		assert.Equal(t, "payment_list_2", failed[0].EventID)
		assert.Equal(t, "payment_list_0", failed[1].EventID)

		processing, err := l.ListByStatus(ctx, models.LedgerStatusProcessing, 10)
		require.NoError(t, err)
		require.Len(t, processing, 1)
		assert.Equal(t, "payment_list_1", processing[0].EventID)

		limited, err := l.ListByStatus(ctx, models.LedgerStatusFailed, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}
