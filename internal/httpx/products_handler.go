package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/pos-orders/internal/fulfillment"
	"github.com/ariefcatur/pos-orders/internal/logging"
	"github.com/ariefcatur/pos-orders/internal/metrics"
	"github.com/ariefcatur/pos-orders/internal/orders"
)

const recentMovements = 20

type ProductCatalog interface {
	ListProducts(ctx context.Context) ([]orders.Product, error)
	GetProduct(ctx context.Context, id string) (*orders.Product, error)
}

type StockLedger interface {
	fulfillment.Ledger
	Movements(ctx context.Context, productID string, limit int) ([]orders.StockMovement, error)
}

type ProductsHandler struct {
	Catalog ProductCatalog
	Ledger  StockLedger
	Alerts  fulfillment.AlertPublisher // optional
}

type ProductDetailResp struct {
	orders.Product
	Movements []orders.StockMovement `json:"movements"`
}

// AdjustStockReq is a manual ledger entry. Sales only happen through orders.
type AdjustStockReq struct {
	Delta        int                 `json:"delta"`
	MovementType orders.MovementType `json:"movement_type"`
	Reference    string              `json:"reference"`
}

type AdjustStockResp struct {
	ProductID     string `json:"product_id"`
	StockQuantity int    `json:"stock_quantity"`
	MovementID    string `json:"movement_id"`
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/{id}", h.getProduct)
		r.Post("/{id}/stock", h.adjustStock)
	})
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Catalog.GetProduct(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ms, err := h.Ledger.Movements(ctx, id, recentMovements)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ProductDetailResp{Product: *p, Movements: ms})
}

func (h *ProductsHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req AdjustStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.MovementType == "" {
		req.MovementType = orders.MovementRestock
	}
	switch {
	case req.Delta == 0:
		badRequest(w, "delta must be non-zero")
		return
	case req.MovementType == orders.MovementSale:
		badRequest(w, "sales are recorded through orders")
		return
	case !req.MovementType.Valid():
		badRequest(w, "unknown movement_type")
		return
	case req.MovementType == orders.MovementRestock && req.Delta < 0:
		badRequest(w, "restock delta must be positive")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	adj, err := h.Ledger.Adjust(ctx, id, req.Delta, req.MovementType, req.Reference)
	if err != nil {
		metrics.StockAdjustments.WithLabelValues(string(req.MovementType), "rejected").Inc()
		writeError(w, r, err)
		return
	}
	metrics.StockAdjustments.WithLabelValues(string(req.MovementType), "ok").Inc()
	logging.FromContext(ctx).Info("stock adjusted",
		zap.String("product_id", id),
		zap.Int("delta", req.Delta),
		zap.Int("stock", adj.NewQuantity))

	if h.Alerts != nil && adj.BelowThreshold() {
		h.Alerts.LowStock(ctx, adj, "")
	}
	writeJSON(w, http.StatusOK, AdjustStockResp{ProductID: id, StockQuantity: adj.NewQuantity, MovementID: adj.MovementID})
}
