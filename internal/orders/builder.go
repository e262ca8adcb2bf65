package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Catalog is the read side the builder needs: current prices and customer
// existence.
type Catalog interface {
	ProductsByIDs(ctx context.Context, ids []string) (map[string]Product, error)
	CustomerExists(ctx context.Context, id string) (bool, error)
}

// Aggregate is an order header plus its lines, assembled in memory and not
// yet persisted. Items are sorted by product id.
type Aggregate struct {
	Order Order
}

func (a *Aggregate) Lines() []OrderLine { return a.Order.Items }

type Builder struct {
	Catalog Catalog
	Now     func() time.Time
}

func NewBuilder(c Catalog) *Builder {
	return &Builder{Catalog: c, Now: time.Now}
}

// Build validates a submission and snapshots unit prices from the catalog.
// The total is always computed here; a client-supplied total is never read.
func (b *Builder) Build(ctx context.Context, customerID, createdBy string, items []ItemInput) (*Aggregate, error) {
	if strings.TrimSpace(createdBy) == "" {
		return nil, invalid("created_by", "is required")
	}
	if len(items) == 0 {
		return nil, invalid("items", "must contain at least one item")
	}

	// merge repeated products so each one is reserved exactly once
	qty := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return nil, invalid(fmt.Sprintf("items[%d].product_id", i), "is required")
		}
		if it.Quantity <= 0 {
			return nil, invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than 0")
		}
		if _, seen := qty[it.ProductID]; !seen {
			order = append(order, it.ProductID)
		}
		qty[it.ProductID] += it.Quantity
	}

	if customerID != "" {
		ok, err := b.Catalog.CustomerExists(ctx, customerID)
		if err != nil {
			return nil, fmt.Errorf("lookup customer: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
		}
	}

	products, err := b.Catalog.ProductsByIDs(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("lookup products: %w", err)
	}
	for i, it := range items {
		if _, ok := products[it.ProductID]; !ok {
			return nil, invalid(fmt.Sprintf("items[%d].product_id", i), "unknown product %s", it.ProductID)
		}
	}

	sort.Strings(order)
	now := b.now()
	o := Order{
		ID:          uuid.NewString(),
		TotalAmount: decimal.Zero,
		Status:      StatusPending,
		SyncStatus:  SyncPending,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
		Items:       make([]OrderLine, 0, len(order)),
	}
	if customerID != "" {
		c := customerID
		o.CustomerID = &c
	}
	for _, pid := range order {
		line := OrderLine{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			ProductID: pid,
			Quantity:  qty[pid],
			UnitPrice: products[pid].Price,
		}
		o.Items = append(o.Items, line)
		o.TotalAmount = o.TotalAmount.Add(line.Subtotal())
	}
	return &Aggregate{Order: o}, nil
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}
