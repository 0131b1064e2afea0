package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"payout/internal/domain"
)

type DisburseReq struct {
	Provider string `json:"provider" validate:"required,oneof=flip midtrans"`
}

type DisburseResp struct {
	Accepted     bool   `json:"accepted"`
	OrderID      string `json:"order_id"`
	Status       string `json:"status,omitempty"`
	PayoutStatus string `json:"payout_status,omitempty"`
	Reference    string `json:"reference,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Disburse triggers one disbursement attempt for an order.
// POST /payouts/{id}/disburse
func (h *Handler) Disburse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DisburseReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid json"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}
	provider := domain.Provider(req.Provider)

	order, err := h.orders.Get(r.Context(), domain.OrderFilter{ID: id})
	if errors.Is(err, domain.ErrOrderNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "order not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load order", zap.String("order_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "Internal Server Error"})
		return
	}
	if order.Status.InFlight() {
		writeJSON(w, http.StatusConflict, DisburseResp{
			OrderID: id,
			Status:  string(order.Status),
			Error:   domain.ErrAlreadySubmitted.Error(),
		})
		return
	}

	accepted := h.disbursements.DisburseOrder(r.Context(), order, provider)

	resp := DisburseResp{Accepted: accepted, OrderID: id}
	code := http.StatusAccepted
	if !accepted {
		code = http.StatusUnprocessableEntity
	}
	if after, err := h.orders.Get(r.Context(), domain.OrderFilter{ID: id}); err == nil {
		resp.Status = string(after.Status)
		resp.PayoutStatus = string(after.PayoutStatus)
		resp.Reference = after.ProviderRef(provider)
		resp.Error = after.PayoutError
		// a refused attempt leaves the order alone, so an in-flight status
		// here belongs to a concurrent attempt that won the claim
		if !accepted && after.Status.InFlight() {
			code = http.StatusConflict
			resp.Error = domain.ErrAlreadySubmitted.Error()
		}
	}
	writeJSON(w, code, resp)
}
