package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/pos-orders/internal/fulfillment"
	"github.com/ariefcatur/pos-orders/internal/logging"
	"github.com/ariefcatur/pos-orders/internal/orders"
)

type errorResp struct {
	Error  string           `json:"error"`
	Kind   fulfillment.Kind `json:"kind"`
	Field  string           `json:"field,omitempty"`
	Detail any              `json:"detail,omitempty"`
}

type stockDetail struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

var kindStatus = map[fulfillment.Kind]int{
	fulfillment.KindValidation:    http.StatusBadRequest,
	fulfillment.KindStockConflict: http.StatusBadRequest,
	fulfillment.KindPersistence:   http.StatusInternalServerError,
	fulfillment.KindNotFound:      http.StatusNotFound,
	fulfillment.KindConflict:      http.StatusConflict,
	fulfillment.KindCompensation:  http.StatusInternalServerError,
	fulfillment.KindInternal:      http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := fulfillment.KindOf(err)
	code, ok := kindStatus[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	resp := errorResp{Error: err.Error(), Kind: kind}

	var (
		ve  *orders.ValidationError
		sc  *fulfillment.StockConflictError
		ise *orders.InsufficientStockError
	)
	switch {
	case errors.As(err, &ve):
		resp.Field = ve.Field
	case errors.As(err, &sc):
		resp.Detail = stockDetail{ProductID: sc.ProductID, Requested: sc.Requested, Available: sc.Available}
	case errors.As(err, &ise):
		resp.Detail = stockDetail{ProductID: ise.ProductID, Requested: ise.Requested, Available: ise.Available}
	}

	if code >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
		if kind == fulfillment.KindInternal {
			resp.Error = "internal error"
		}
	}
	writeJSON(w, code, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResp{Error: msg, Kind: fulfillment.KindValidation})
}
