// Package memstore is an in-process implementation of the catalog, ledger
// and order store. It backs STORE_DRIVER=memory and the coordinator tests,
// and gives the same per-product linearizability as the Postgres ledger.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/pos-orders/internal/orders"
	"github.com/google/uuid"
)

type Store struct {
	mu        sync.RWMutex
	products  map[string]orders.Product
	customers map[string]bool
	movements []orders.StockMovement
	orders    map[string]orders.Order
	byToken   map[string]string

	// per-product mutexes, product_id -> *sync.Mutex
	locks sync.Map

	Now func() time.Time
}

func New() *Store {
	return &Store{
		products:  map[string]orders.Product{},
		customers: map[string]bool{},
		orders:    map[string]orders.Order{},
		byToken:   map[string]string{},
		Now:       time.Now,
	}
}

// PutProduct inserts or replaces a product (seeding only; stock changes in
// normal operation go through Adjust).
func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.Now().UTC()
	}
	p.UpdatedAt = p.CreatedAt
	s.products[p.ID] = p
}

func (s *Store) PutCustomer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[id] = true
}

// helper: acquire per-product lock. Returns unlock func.
func (s *Store) lockProduct(productID string) func() {
	v, _ := s.locks.LoadOrStore(productID, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// ---- catalog ----

func (s *Store) ProductsByIDs(_ context.Context, ids []string) (map[string]orders.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]orders.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) CustomerExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customers[id], nil
}

func (s *Store) ListProducts(_ context.Context) ([]orders.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orders.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*orders.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, orders.ErrProductNotFound
	}
	return &p, nil
}

// ---- ledger ----

// Adjust performs the read-check-write under the product's mutex and
// appends the movement under the store lock, so no reader ever sees one
// without the other.
func (s *Store) Adjust(_ context.Context, productID string, delta int, mt orders.MovementType, reference string) (orders.Adjustment, error) {
	if delta == 0 {
		return orders.Adjustment{}, orders.ErrInvalidQuantity
	}
	if !mt.Valid() {
		return orders.Adjustment{}, fmt.Errorf("unknown movement type %q", mt)
	}

	unlock := s.lockProduct(productID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return orders.Adjustment{}, fmt.Errorf("%w: %s", orders.ErrProductNotFound, productID)
	}
	if p.StockQuantity+delta < 0 {
		return orders.Adjustment{}, &orders.InsufficientStockError{ProductID: productID, Requested: -delta, Available: p.StockQuantity}
	}

	now := s.Now().UTC()
	p.StockQuantity += delta
	p.UpdatedAt = now
	s.products[productID] = p

	m := orders.StockMovement{
		ID:        uuid.NewString(),
		ProductID: productID,
		Quantity:  delta,
		Type:      mt,
		Reference: reference,
		CreatedAt: now,
	}
	s.movements = append(s.movements, m)

	return orders.Adjustment{
		ProductID:      productID,
		Delta:          delta,
		NewQuantity:    p.StockQuantity,
		AlertThreshold: p.AlertThreshold,
		MovementID:     m.ID,
	}, nil
}

func (s *Store) Movements(_ context.Context, productID string, limit int) ([]orders.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []orders.StockMovement{}
	for i := len(s.movements) - 1; i >= 0; i-- {
		if s.movements[i].ProductID != productID {
			continue
		}
		out = append(out, s.movements[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ---- orders ----

func (s *Store) InsertOrder(_ context.Context, agg *orders.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := agg.Order
	if o.SubmissionToken != "" {
		if _, taken := s.byToken[o.SubmissionToken]; taken {
			return orders.ErrDuplicateSubmission
		}
	}
	if _, exists := s.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	o.Items = append([]orders.OrderLine(nil), o.Items...)
	s.orders[o.ID] = o
	if o.SubmissionToken != "" {
		s.byToken[o.SubmissionToken] = o.ID
	}
	return nil
}

func (s *Store) FindBySubmissionToken(_ context.Context, token string) (*orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return s.copyOrder(id)
}

func (s *Store) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyOrder(id)
}

func (s *Store) ListOrders(_ context.Context, limit int) ([]orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orders.Order, 0, len(s.orders))
	for id := range s.orders {
		o, _ := s.copyOrder(id)
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, from, to orders.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	if o.Status != from {
		return orders.ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = s.Now().UTC()
	s.orders[id] = o
	return nil
}

func (s *Store) UpdateSyncStatus(_ context.Context, id string, from, to orders.SyncStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	if o.SyncStatus != from {
		return orders.ErrInvalidTransition
	}
	o.SyncStatus = to
	o.SyncError = reason
	o.UpdatedAt = s.Now().UTC()
	s.orders[id] = o
	return nil
}

func (s *Store) DeleteOrder(_ context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.copyOrder(id)
	if err != nil {
		return nil, err
	}
	delete(s.orders, id)
	if o.SubmissionToken != "" {
		delete(s.byToken, o.SubmissionToken)
	}
	return o, nil
}

// caller holds s.mu
func (s *Store) copyOrder(id string) (*orders.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	o.Items = append([]orders.OrderLine(nil), o.Items...)
	return &o, nil
}
