package http

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"payout/internal/domain"
)

type webhookAck struct {
	Status      string `json:"status"`
	Note        string `json:"note,omitempty"`
	SandboxTest bool   `json:"sandbox_test,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// webhook serves one provider's disbursement callback endpoint.
func (h *Handler) webhook(p domain.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, ok := h.webhooks[p]
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResponse{Detail: "provider not configured"})
			return
		}

		raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "Invalid callback payload"})
			return
		}

		res, err := svc.Handle(r.Context(), raw, "", h.settlement[p])
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrInvalidPayload):
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "Invalid callback payload"})
			return
		case errors.Is(err, domain.ErrUnauthorized):
			writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "Unauthorized callback"})
			return
		case errors.Is(err, domain.ErrOrderNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse{Detail: "Order not found"})
			return
		default:
			h.logger.Error("error processing callback",
				zap.String("provider", string(p)), zap.String("trace_id", GetTraceID(r.Context())), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "Internal Server Error"})
			return
		}

		writeJSON(w, http.StatusOK, webhookAck{Status: "ok", Note: res.Note, SandboxTest: res.SandboxTest})
	}
}
