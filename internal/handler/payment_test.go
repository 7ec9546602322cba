package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/paymind/sessionpay/internal/errors"
	"github.com/paymind/sessionpay/internal/model"
	"github.com/paymind/sessionpay/internal/service"
)

type mockPaymentAuthorizer struct {
	mock.Mock
}

func (m *mockPaymentAuthorizer) Authorize(ctx context.Context, req service.PaymentRequest) (*service.PaymentResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.PaymentResult), args.Error(1)
}

func TestPaymentHandler_Authorize(t *testing.T) {
	body := `{"sessionId":"` + handlerSessionID + `","paymentId":"order-1",` +
		`"to":"0x00000000000000000000000000000000000000aa","amount":"5000000","nonce":1700000000000,"signature":"0xsig"}`
	want := service.PaymentRequest{
		SessionID: handlerSessionID,
		PaymentID: "order-1",
		To:        "0x00000000000000000000000000000000000000aa",
		Amount:    "5000000",
		Nonce:     1_700_000_000_000,
		Signature: "0xsig",
	}

	t.Run("authorized", func(t *testing.T) {
		payments := &mockPaymentAuthorizer{}
		payments.On("Authorize", mock.Anything, want).Return(&service.PaymentResult{
			Payment:        &model.PaymentRecord{PaymentID: "order-1", Amount: 5_000_000},
			SessionID:      handlerSessionID,
			UsedToday:      5_000_000,
			RemainingToday: 95_000_000,
			OwnerID:        "owner-1",
		}, nil)

		rec := httptest.NewRecorder()
		NewPaymentHandler(payments).Routes().ServeHTTP(rec,
			httptest.NewRequest(http.MethodPost, "/authorize", bytes.NewBufferString(body)))

		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeBody(t, rec)
		assert.Equal(t, true, resp["success"])
		result := resp["result"].(map[string]any)
		assert.Equal(t, float64(95_000_000), result["remainingToday"])
		assert.NotContains(t, result, "OwnerID")
		payments.AssertExpectations(t)
	})

	t.Run("limit exceeded is 422", func(t *testing.T) {
		payments := &mockPaymentAuthorizer{}
		payments.On("Authorize", mock.Anything, want).Return(nil, apperrors.LimitExceeded("Exceeds daily limit"))

		rec := httptest.NewRecorder()
		NewPaymentHandler(payments).Routes().ServeHTTP(rec,
			httptest.NewRequest(http.MethodPost, "/authorize", bytes.NewBufferString(body)))

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "LIMIT_EXCEEDED", decodeBody(t, rec)["code"])
	})

	t.Run("stale session is 410", func(t *testing.T) {
		payments := &mockPaymentAuthorizer{}
		payments.On("Authorize", mock.Anything, want).Return(nil, apperrors.StaleSession("expired"))

		rec := httptest.NewRecorder()
		NewPaymentHandler(payments).Routes().ServeHTTP(rec,
			httptest.NewRequest(http.MethodPost, "/authorize", bytes.NewBufferString(body)))

		assert.Equal(t, http.StatusGone, rec.Code)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewPaymentHandler(&mockPaymentAuthorizer{}).Routes().ServeHTTP(rec,
			httptest.NewRequest(http.MethodPost, "/authorize", bytes.NewBufferString(`{"amount":"1","extra":true}`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
