package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paymind/sessionpay/internal/audit"
	apperrors "github.com/paymind/sessionpay/internal/errors"
	"github.com/paymind/sessionpay/internal/httputil"
	"github.com/paymind/sessionpay/internal/service"
)

// PaymentAuthorizer checks and records agent payments. *service.PaymentService satisfies it.
type PaymentAuthorizer interface {
	Authorize(ctx context.Context, req service.PaymentRequest) (*service.PaymentResult, error)
}

// PaymentHandler serves agents holding a session key. Requests authenticate
// by signature, not by owner token.
type PaymentHandler struct {
	payments PaymentAuthorizer
}

func NewPaymentHandler(payments PaymentAuthorizer) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

func (h *PaymentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/authorize", h.Authorize)
	return r
}

// POST /v1/payments/authorize
func (h *PaymentHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req service.PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.payments.Authorize(r.Context(), req)
	if err != nil {
		audit.LogFromRequest(r, audit.Event{
			Type:      audit.EventPaymentDenied,
			SessionID: req.SessionID,
			Details: map[string]interface{}{
				"paymentId": req.PaymentID,
				"code":      string(apperrors.GetCode(err)),
			},
		})
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventPaymentAuthorized,
		OwnerID:   result.OwnerID,
		SessionID: result.SessionID,
		Details: map[string]interface{}{
			"paymentId": req.PaymentID,
			"amount":    result.Payment.Amount,
		},
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}
