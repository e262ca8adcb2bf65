package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/pos-orders/internal/orders"
)

func TestAdjustIsLinearizable(t *testing.T) {
	s := New()
	s.PutProduct(orders.Product{ID: "p1", Price: decimal.NewFromInt(1), StockQuantity: 50})
	ctx := context.Background()

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Adjust(ctx, "p1", -1, orders.MovementSale, "x"); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, ok.Load())
	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.StockQuantity)

	ms, err := s.Movements(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Len(t, ms, 50)
}

func TestAdjustErrors(t *testing.T) {
	s := New()
	s.PutProduct(orders.Product{ID: "p1", StockQuantity: 1})
	ctx := context.Background()

	_, err := s.Adjust(ctx, "p1", 0, orders.MovementSale, "")
	assert.ErrorIs(t, err, orders.ErrInvalidQuantity)
	_, err = s.Adjust(ctx, "nope", -1, orders.MovementSale, "")
	assert.ErrorIs(t, err, orders.ErrProductNotFound)
	_, err = s.Adjust(ctx, "p1", -2, orders.MovementSale, "")
	assert.ErrorIs(t, err, orders.ErrInsufficientStock)

	ms, err := s.Movements(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestOrderTokenUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	agg := &orders.Aggregate{Order: orders.Order{ID: "o1", SubmissionToken: "tok", Status: orders.StatusPending, SyncStatus: orders.SyncPending}}
	require.NoError(t, s.InsertOrder(ctx, agg))

	twin := &orders.Aggregate{Order: orders.Order{ID: "o2", SubmissionToken: "tok"}}
	assert.ErrorIs(t, s.InsertOrder(ctx, twin), orders.ErrDuplicateSubmission)

	found, err := s.FindBySubmissionToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "o1", found.ID)

	assert.ErrorIs(t, s.UpdateSyncStatus(ctx, "o1", orders.SyncError, orders.SyncPending, ""), orders.ErrInvalidTransition)
	require.NoError(t, s.UpdateSyncStatus(ctx, "o1", orders.SyncPending, orders.SyncError, "boom"))
	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "boom", got.SyncError)

	_, err = s.DeleteOrder(ctx, "o1")
	require.NoError(t, err)
	_, err = s.FindBySubmissionToken(ctx, "tok")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestIdempotency(t *testing.T) {
	i := NewIdempotency()
	ctx := context.Background()

	ok, _ := i.Reserve(ctx, "t")
	assert.True(t, ok)
	ok, _ = i.Reserve(ctx, "t")
	assert.False(t, ok)

	_, found, _ := i.Lookup(ctx, "t")
	assert.False(t, found)

	require.NoError(t, i.Release(ctx, "t"))
	ok, _ = i.Reserve(ctx, "t")
	assert.True(t, ok)

	require.NoError(t, i.Complete(ctx, "t", "o1"))
	require.NoError(t, i.Release(ctx, "t")) // completed tokens stay
	id, found, _ := i.Lookup(ctx, "t")
	assert.True(t, found)
	assert.Equal(t, "o1", id)

	require.NoError(t, i.Forget(ctx, "t"))
	ok, _ = i.Reserve(ctx, "t")
	assert.True(t, ok)
}
