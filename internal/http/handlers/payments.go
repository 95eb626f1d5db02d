package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/nika/server/internal/apperr"
	"github.com/nika/server/internal/payments"
)

// PaymentsHandler receives payment provider notifications
type PaymentsHandler struct {
	payments *payments.Service
	logger   *zap.Logger
}

// NewPaymentsHandler creates a payments handler
func NewPaymentsHandler(svc *payments.Service, logger *zap.Logger) *PaymentsHandler {
	return &PaymentsHandler{payments: svc, logger: logger}
}

// HandleNotify handles POST /payments/notify. The provider keeps retrying
// until it reads "OK", so every processed notification is acknowledged,
// including forged and unknown ones.
func (h *PaymentsHandler) HandleNotify(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.payments.Notify(r.Context(), params); err != nil {
		switch apperr.KindOf(err) {
		case apperr.Invalid, apperr.NotFound:
			h.logger.Warn("payment_notification_ignored", zap.Any("order_id", params["OrderId"]), zap.Error(err))
		default:
			h.logger.Error("payment_notification_failed", zap.Any("order_id", params["OrderId"]), zap.Error(err))
			respondWithError(w, http.StatusInternalServerError, "notification not processed")
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
