package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/pos-orders/internal/memstore"
	"github.com/ariefcatur/pos-orders/internal/orders"
)

func seedStore(t *testing.T, products ...orders.Product) *memstore.Store {
	t.Helper()
	s := memstore.New()
	for _, p := range products {
		s.PutProduct(p)
	}
	s.PutCustomer("c1")
	return s
}

func product(id string, price int64, stock int) orders.Product {
	return orders.Product{ID: id, Name: "product " + id, Price: decimal.NewFromInt(price), StockQuantity: stock}
}

func newCoordinator(s *memstore.Store) *Coordinator {
	return &Coordinator{
		Builder: orders.NewBuilder(s),
		Ledger:  s,
		Store:   s,
		Idem:    memstore.NewIdempotency(),
		RestoreBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1)
		},
	}
}

func stockOf(t *testing.T, s *memstore.Store, id string) int {
	t.Helper()
	p, err := s.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

func movementsOf(t *testing.T, s *memstore.Store, id string) []orders.StockMovement {
	t.Helper()
	ms, err := s.Movements(context.Background(), id, 0)
	require.NoError(t, err)
	return ms
}

func sub(token string, items ...orders.ItemInput) Submission {
	return Submission{Token: token, CreatedBy: "cashier-1", Items: items}
}

func item(pid string, qty int) orders.ItemInput {
	return orders.ItemInput{ProductID: pid, Quantity: qty}
}

// ---- test doubles ----

type failingInsertStore struct {
	*memstore.Store
	err    error
	before func()
}

func (f *failingInsertStore) InsertOrder(ctx context.Context, agg *orders.Aggregate) error {
	if f.before != nil {
		f.before()
	}
	if f.err != nil {
		return f.err
	}
	return ctx.Err()
}

// lateCommitStore writes the order and then reports a timeout.
type lateCommitStore struct {
	*memstore.Store
}

func (l *lateCommitStore) InsertOrder(ctx context.Context, agg *orders.Aggregate) error {
	if err := l.Store.InsertOrder(ctx, agg); err != nil {
		return err
	}
	return context.DeadlineExceeded
}

// ctxLedger refuses to work on a cancelled context, like a real database.
type ctxLedger struct{ Ledger }

func (l ctxLedger) Adjust(ctx context.Context, pid string, delta int, mt orders.MovementType, ref string) (orders.Adjustment, error) {
	if err := ctx.Err(); err != nil {
		return orders.Adjustment{}, err
	}
	return l.Ledger.Adjust(ctx, pid, delta, mt, ref)
}

type brokenRestoreLedger struct {
	Ledger
	mu       sync.Mutex
	restores int
}

func (l *brokenRestoreLedger) Adjust(ctx context.Context, pid string, delta int, mt orders.MovementType, ref string) (orders.Adjustment, error) {
	if delta > 0 {
		l.mu.Lock()
		l.restores++
		l.mu.Unlock()
		return orders.Adjustment{}, errors.New("connection reset")
	}
	return l.Ledger.Adjust(ctx, pid, delta, mt, ref)
}

type recordingAlerts struct {
	mu   sync.Mutex
	seen []orders.Adjustment
}

func (r *recordingAlerts) LowStock(_ context.Context, adj orders.Adjustment, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, adj)
}

// ---- happy path ----

func TestSubmitComputesTotalAndDecrementsStock(t *testing.T) {
	s := seedStore(t, product("p1", 10, 10), product("p2", 5, 10))
	c := newCoordinator(s)

	res, err := c.Submit(context.Background(), sub("tok-1", item("p2", 1), item("p1", 2)))
	require.NoError(t, err)
	require.False(t, res.Replayed)

	o := res.Order
	assert.True(t, decimal.NewFromInt(25).Equal(o.TotalAmount), "total %s", o.TotalAmount)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, orders.SyncPending, o.SyncStatus)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "p1", o.Items[0].ProductID)
	assert.Equal(t, "p2", o.Items[1].ProductID)

	assert.Equal(t, 8, stockOf(t, s, "p1"))
	assert.Equal(t, 9, stockOf(t, s, "p2"))

	for pid, want := range map[string]int{"p1": -2, "p2": -1} {
		ms := movementsOf(t, s, pid)
		require.Len(t, ms, 1, pid)
		assert.Equal(t, want, ms[0].Quantity)
		assert.Equal(t, orders.MovementSale, ms[0].Type)
		assert.Equal(t, o.ID, ms[0].Reference)
	}

	stored, err := s.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", stored.SubmissionToken)
}

func TestSubmitMergesRepeatedProducts(t *testing.T) {
	s := seedStore(t, product("p1", 10, 10))
	c := newCoordinator(s)

	res, err := c.Submit(context.Background(), sub("", item("p1", 2), item("p1", 3)))
	require.NoError(t, err)
	require.Len(t, res.Order.Items, 1)
	assert.Equal(t, 5, res.Order.Items[0].Quantity)
	assert.Equal(t, 5, stockOf(t, s, "p1"))
	assert.Len(t, movementsOf(t, s, "p1"), 1)
}

// ---- failures ----

func TestSubmitInsufficientStockLeavesNoTrace(t *testing.T) {
	s := seedStore(t, product("p1", 10, 10), product("p2", 5, 1))
	c := newCoordinator(s)

	res, err := c.Submit(context.Background(), sub("tok-1", item("p1", 2), item("p2", 5)))
	require.Error(t, err)
	assert.Nil(t, res)

	var sc *StockConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, "p2", sc.ProductID)
	assert.Equal(t, 5, sc.Requested)
	assert.Equal(t, 1, sc.Available)
	assert.Equal(t, KindStockConflict, KindOf(err))

	assert.Equal(t, 10, stockOf(t, s, "p1"))
	assert.Equal(t, 1, stockOf(t, s, "p2"))

	// sale and its compensation, newest first
	ms := movementsOf(t, s, "p1")
	require.Len(t, ms, 2)
	assert.Equal(t, orders.MovementAdjustment, ms[0].Type)
	assert.Equal(t, 2, ms[0].Quantity)
	assert.Equal(t, -2, ms[1].Quantity)
	assert.Empty(t, movementsOf(t, s, "p2"))

	list, err := s.ListOrders(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	// the token was released, so a corrected retry goes through
	_, err = c.Submit(context.Background(), sub("tok-1", item("p1", 2), item("p2", 1)))
	require.NoError(t, err)
}

func TestSubmitValidation(t *testing.T) {
	s := seedStore(t, product("p1", 10, 10))
	c := newCoordinator(s)

	cases := []struct {
		name string
		sub  Submission
		kind Kind
	}{
		{"no items", sub(""), KindValidation},
		{"zero quantity", sub("", item("p1", 0)), KindValidation},
		{"negative quantity", sub("", item("p1", -1)), KindValidation},
		{"unknown product", sub("", item("nope", 1)), KindValidation},
		{"missing cashier", Submission{Items: []orders.ItemInput{item("p1", 1)}}, KindValidation},
		{"unknown customer", Submission{CustomerID: "ghost", CreatedBy: "x", Items: []orders.ItemInput{item("p1", 1)}}, KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Submit(context.Background(), tc.sub)
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))
		})
	}
	assert.Equal(t, 10, stockOf(t, s, "p1"))
	assert.Empty(t, movementsOf(t, s, "p1"))
}

func TestCommitFailureCompensates(t *testing.T) {
	s := seedStore(t, product("p1", 10, 10), product("p2", 5, 10))
	c := newCoordinator(s)
	c.Store = &failingInsertStore{Store: s, err: errors.New("disk full")}

	_, err := c.Submit(context.Background(), sub("tok-1", item("p1", 2), item("p2", 3)))
	require.Error(t, err)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindPersistence, KindOf(err))

	assert.Equal(t, 10, stockOf(t, s, "p1"))
	assert.Equal(t, 10, stockOf(t, s, "p2"))
	assert.Len(t, movementsOf(t, s, "p1"), 2)
	assert.Len(t, movementsOf(t, s, "p2"), 2)

	c.Store = s
	res, err := c.Submit(context.Background(), sub("tok-1", item("p1", 2), item("p2", 3)))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestCommitLandingAfterTimeoutKeepsSale(t *testing.T) {
	s := seedStore(t, product("p1", 10, 10))
	c := newCoordinator(s)
	c.Store = &lateCommitStore{Store: s}

	res, err := c.Submit(context.Background(), sub("tok-1", item("p1", 3)))
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.False(t, res.Replayed)

	stored, err := s.GetOrder(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", stored.SubmissionToken)

	assert.Equal(t, 7, stockOf(t, s, "p1"))
	ms := movementsOf(t, s, "p1")
	require.Len(t, ms, 1)
	assert.Equal(t, -3, ms[0].Quantity)

	again, err := c.Submit(context.Background(), sub("tok-1", item("p1", 3)))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, res.Order.ID, again.Order.ID)
}

func TestCompensationSurvivesCancelledRequest(t *testing.T) {
	s := seedStore(t, product("p1", 10, 10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCoordinator(s)
	c.Ledger = ctxLedger{Ledger: s}
	// client disconnects while the order is being committed
	c.Store = &failingInsertStore{Store: s, before: cancel}

	_, err := c.Submit(ctx, sub("", item("p1", 4)))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 10, stockOf(t, s, "p1"))
}

func TestCompensationFailureIsReported(t *testing.T) {
	s := seedStore(t, product("p1", 10, 10), product("p2", 5, 0))
	led := &brokenRestoreLedger{Ledger: s}
	c := newCoordinator(s)
	c.Ledger = led

	_, err := c.Submit(context.Background(), sub("", item("p1", 3), item("p2", 1)))
	require.Error(t, err)

	var ce *CompensationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindCompensation, KindOf(err))
	require.Len(t, ce.Failures, 1)
	assert.Equal(t, "p1", ce.Failures[0].ProductID)
	assert.Equal(t, 3, ce.Failures[0].Quantity)
	// the cause is still reachable
	var sc *StockConflictError
	assert.ErrorAs(t, err, &sc)

	// one try plus one retry
	assert.Equal(t, 2, led.restores)
	assert.Equal(t, 7, stockOf(t, s, "p1"))
}

// ---- concurrency ----

func TestConcurrentSubmissionsNeverOversell(t *testing.T) {
	s := seedStore(t, product("p1", 10, 5))
	c := newCoordinator(s)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ok  int
		bad int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Submit(context.Background(), sub("", item("p1", 3)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			var sc *StockConflictError
			if errors.As(err, &sc) {
				bad++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, bad)
	assert.Equal(t, 2, stockOf(t, s, "p1"))
	ms := movementsOf(t, s, "p1")
	require.Len(t, ms, 1)
	assert.Equal(t, -3, ms[0].Quantity)
}

func TestConcurrentSubmissionsFloorOfStock(t *testing.T) {
	const (
		stock = 23
		qty   = 3
		n     = 20
	)
	s := seedStore(t, product("p1", 1, stock), product("p2", 1, 1000))
	c := newCoordinator(s)

	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Submit(context.Background(), sub("", item("p2", 1), item("p1", qty)))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.Equal(t, KindStockConflict, KindOf(err))
	}
	assert.Equal(t, stock/qty, ok)
	assert.Equal(t, stock-ok*qty, stockOf(t, s, "p1"))
	// losers gave p2 back
	assert.Equal(t, 1000-ok, stockOf(t, s, "p2"))

	list, err := s.ListOrders(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, list, ok)
}

// ---- idempotency ----

func TestSubmitReplaysSameToken(t *testing.T) {
	s := seedStore(t, product("p1", 10, 10))
	c := newCoordinator(s)

	first, err := c.Submit(context.Background(), sub("tok-1", item("p1", 2)))
	require.NoError(t, err)
	second, err := c.Submit(context.Background(), sub("tok-1", item("p1", 2)))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 8, stockOf(t, s, "p1"))
}

func TestSubmitReplaysFromDatabaseWithoutFastPath(t *testing.T) {
	s := seedStore(t, product("p1", 10, 10))
	c := newCoordinator(s)

	first, err := c.Submit(context.Background(), sub("tok-1", item("p1", 2)))
	require.NoError(t, err)

	// fresh idempotency store, e.g. after a Redis flush
	c.Idem = memstore.NewIdempotency()
	second, err := c.Submit(context.Background(), sub("tok-1", item("p1", 2)))
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 8, stockOf(t, s, "p1"))
}

func TestConcurrentSameTokenCreatesOneOrder(t *testing.T) {
	for _, withIdem := range []bool{true, false} {
		t.Run(fmt.Sprintf("fast_path=%v", withIdem), func(t *testing.T) {
			s := seedStore(t, product("p1", 10, 100))
			c := newCoordinator(s)
			if !withIdem {
				c.Idem = nil
			}

			const n = 10
			var (
				wg  sync.WaitGroup
				mu  sync.Mutex
				ids = map[string]bool{}
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := c.Submit(context.Background(), sub("same", item("p1", 1)))
					if err != nil {
						assert.ErrorIs(t, err, ErrSubmissionInFlight)
						return
					}
					mu.Lock()
					ids[res.Order.ID] = true
					mu.Unlock()
				}()
			}
			wg.Wait()

			assert.Len(t, ids, 1)
			list, err := s.ListOrders(context.Background(), 0)
			require.NoError(t, err)
			assert.Len(t, list, 1)
			assert.Equal(t, 99, stockOf(t, s, "p1"))
		})
	}
}

// ---- alerts ----

func TestLowStockAlert(t *testing.T) {
	p := product("p1", 10, 3)
	p.AlertThreshold = 2
	s := seedStore(t, p, product("p2", 1, 50))
	alerts := &recordingAlerts{}
	c := newCoordinator(s)
	c.Alerts = alerts

	_, err := c.Submit(context.Background(), sub("", item("p1", 1), item("p2", 1)))
	require.NoError(t, err)

	require.Len(t, alerts.seen, 1)
	assert.Equal(t, "p1", alerts.seen[0].ProductID)
	assert.Equal(t, 2, alerts.seen[0].NewQuantity)
}

// ---- update / delete ----

func TestUpdateOrderStatus(t *testing.T) {
	s := seedStore(t, product("p1", 10, 10))
	c := newCoordinator(s)
	res, err := c.Submit(context.Background(), sub("", item("p1", 1)))
	require.NoError(t, err)
	id := res.Order.ID

	completed := orders.StatusCompleted
	o, err := c.UpdateOrder(context.Background(), id, &completed, nil)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, o.Status)

	cancelled := orders.StatusCancelled
	_, err = c.UpdateOrder(context.Background(), id, &cancelled, nil)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.Equal(t, KindConflict, KindOf(err))

	bogus := orders.Status("shipped")
	_, err = c.UpdateOrder(context.Background(), id, &bogus, nil)
	assert.Equal(t, KindValidation, KindOf(err))

	synced := orders.SyncSynced
	o, err = c.UpdateOrder(context.Background(), id, nil, &synced)
	require.NoError(t, err)
	assert.Equal(t, orders.SyncSynced, o.SyncStatus)

	pending := orders.SyncPending
	_, err = c.UpdateOrder(context.Background(), id, nil, &pending)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)

	_, err = c.UpdateOrder(context.Background(), "missing", &completed, nil)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestDeleteOrderKeepsStock(t *testing.T) {
	s := seedStore(t, product("p1", 10, 10))
	c := newCoordinator(s)
	res, err := c.Submit(context.Background(), sub("tok-1", item("p1", 4)))
	require.NoError(t, err)

	deleted, err := c.DeleteOrder(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Len(t, deleted.Items, 1)
	assert.Equal(t, 6, stockOf(t, s, "p1"))

	_, err = c.GetOrder(context.Background(), res.Order.ID)
	assert.Equal(t, KindNotFound, KindOf(err))
	_, err = c.DeleteOrder(context.Background(), res.Order.ID)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestDeletedOrderFreesToken(t *testing.T) {
	for _, tc := range []struct {
		name string
		idem IdempotencyStore
	}{
		{"with fast path", memstore.NewIdempotency()},
		{"database only", nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := seedStore(t, product("p1", 10, 10))
			c := newCoordinator(s)
			c.Idem = tc.idem

			first, err := c.Submit(context.Background(), sub("tok-1", item("p1", 1)))
			require.NoError(t, err)
			_, err = c.DeleteOrder(context.Background(), first.Order.ID)
			require.NoError(t, err)

			second, err := c.Submit(context.Background(), sub("tok-1", item("p1", 1)))
			require.NoError(t, err)
			assert.False(t, second.Replayed)
			assert.NotEqual(t, first.Order.ID, second.Order.ID)
			assert.Equal(t, 8, stockOf(t, s, "p1"))
		})
	}
}
