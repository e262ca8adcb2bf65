package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Price          decimal.Decimal `json:"price"`
	StockQuantity  int             `json:"stock_quantity"`
	AlertThreshold int             `json:"alert_threshold"`
	CategoryID     *string         `json:"category_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StockMovement is one append-only ledger row. Quantity is signed:
// negative for sales, positive for restocks and compensations.
type StockMovement struct {
	ID        string       `json:"id"`
	ProductID string       `json:"product_id"`
	Quantity  int          `json:"quantity"`
	Type      MovementType `json:"movement_type"`
	Reference string       `json:"reference,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

type Order struct {
	ID              string          `json:"id"`
	SubmissionToken string          `json:"submission_token,omitempty"`
	CustomerID      *string         `json:"customer_id,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Status          Status          `json:"status"` // lihat status.go
	SyncStatus      SyncStatus      `json:"sync_status"`
	SyncError       string          `json:"sync_error,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []OrderLine     `json:"items"`
}

type OrderLine struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Adjustment is the result of one successful ledger operation.
type Adjustment struct {
	ProductID      string
	Delta          int
	NewQuantity    int
	AlertThreshold int
	MovementID     string
}

// BelowThreshold reports whether a sale pushed the product to or under its
// alert threshold.
func (a Adjustment) BelowThreshold() bool {
	return a.Delta < 0 && a.AlertThreshold > 0 && a.NewQuantity <= a.AlertThreshold
}
