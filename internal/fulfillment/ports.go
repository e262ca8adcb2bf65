package fulfillment

import (
	"context"

	"github.com/ariefcatur/pos-orders/internal/orders"
)

// Ledger is the stock ledger primitive. It is the only writer of
// product stock.
type Ledger interface {
	Adjust(ctx context.Context, productID string, delta int, mt orders.MovementType, reference string) (orders.Adjustment, error)
}

// SyncStore persists sync status with compare-and-set semantics.
type SyncStore interface {
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	UpdateSyncStatus(ctx context.Context, id string, from, to orders.SyncStatus, reason string) error
}

type OrderStore interface {
	SyncStore
	InsertOrder(ctx context.Context, agg *orders.Aggregate) error
	FindBySubmissionToken(ctx context.Context, token string) (*orders.Order, error)
	ListOrders(ctx context.Context, limit int) ([]orders.Order, error)
	UpdateStatus(ctx context.Context, id string, from, to orders.Status) error
	DeleteOrder(ctx context.Context, id string) (*orders.Order, error)
}

// IdempotencyStore is the fast path for submission tokens.
type IdempotencyStore interface {
	Reserve(ctx context.Context, token string) (bool, error)
	Complete(ctx context.Context, token, orderID string) error
	Release(ctx context.Context, token string) error
	Lookup(ctx context.Context, token string) (orderID string, ok bool, err error)
	// Forget drops the token whatever its state, after its order is deleted.
	Forget(ctx context.Context, token string) error
}

// Acknowledger delivers a completed order to the system of record and
// returns only once the delivery is durable.
type Acknowledger interface {
	Acknowledge(ctx context.Context, o *orders.Order) error
}

// AlertPublisher receives low-stock notifications. Best effort.
type AlertPublisher interface {
	LowStock(ctx context.Context, adj orders.Adjustment, orderID string)
}
