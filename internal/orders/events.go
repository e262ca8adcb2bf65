package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated     = "OrderCreated"
	EventLowStockAlert    = "LowStockAlert"
	EventRestockRequested = "RestockRequested"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "pos-orders"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type ItemPrice struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID         string          `json:"order_id"`
	SubmissionToken string          `json:"submission_token,omitempty"`
	CustomerID      string          `json:"customer_id,omitempty"`
	CreatedBy       string          `json:"created_by"`
	Items           []ItemPrice     `json:"items"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
}

func NewOrderCreatedPayload(o *Order) OrderCreatedPayload {
	p := OrderCreatedPayload{
		OrderID:         o.ID,
		SubmissionToken: o.SubmissionToken,
		CreatedBy:       o.CreatedBy,
		Items:           make([]ItemPrice, 0, len(o.Items)),
		TotalAmount:     o.TotalAmount,
	}
	if o.CustomerID != nil {
		p.CustomerID = *o.CustomerID
	}
	for _, l := range o.Items {
		p.Items = append(p.Items, ItemPrice{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return p
}

type LowStockAlertPayload struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	Threshold int    `json:"threshold"`
	OrderID   string `json:"order_id,omitempty"`
}

// RestockRequestedPayload is published by the warehouse side and consumed by
// the inventory worker. Quantity must be positive.
type RestockRequestedPayload struct {
	ProductID string       `json:"product_id"`
	Quantity  int          `json:"quantity"`
	Type      MovementType `json:"movement_type,omitempty"` // default restock
	Reference string       `json:"reference,omitempty"`
}
