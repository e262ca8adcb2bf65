package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/pos-orders/internal/fulfillment"
	"github.com/ariefcatur/pos-orders/internal/orders"
)

type OrdersHandler struct {
	Orders *fulfillment.Coordinator
}

type CreateOrderReq struct {
	SubmissionToken string             `json:"submission_token"`
	CustomerID      string             `json:"customer_id"`
	CreatedBy       string             `json:"created_by"`
	Items           []orders.ItemInput `json:"items"`
}

type CreateOrderResp struct {
	*orders.Order
	Idempotent bool `json:"idempotent"`
}

type UpdateOrderReq struct {
	ID         string             `json:"id"`
	Status     *orders.Status     `json:"status"`
	SyncStatus *orders.SyncStatus `json:"sync_status"`
}

type DeleteOrderReq struct {
	ID string `json:"id"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Put("/", h.updateOrder)
		r.Delete("/", h.deleteOrder)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/sync", h.retrySync)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	// header dipakai kalau body tidak bawa token
	if req.SubmissionToken == "" {
		req.SubmissionToken = r.Header.Get("Idempotency-Key")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Orders.Submit(ctx, fulfillment.Submission{
		Token:      req.SubmissionToken,
		CustomerID: req.CustomerID,
		CreatedBy:  req.CreatedBy,
		Items:      req.Items,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, CreateOrderResp{Order: res.Order, Idempotent: res.Replayed})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Orders.ListOrders(ctx, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.ID == "" {
		badRequest(w, "missing id")
		return
	}
	if req.Status == nil && req.SyncStatus == nil {
		badRequest(w, "nothing to update")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.UpdateOrder(ctx, req.ID, req.Status, req.SyncStatus)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	var req DeleteOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		// DELETE /orders?id=... juga boleh
		req.ID = r.URL.Query().Get("id")
	}
	if req.ID == "" {
		badRequest(w, "missing id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.DeleteOrder(ctx, req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) retrySync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	o, err := h.Orders.RetrySync(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
