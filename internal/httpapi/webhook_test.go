package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velstore/checkout/internal/domain/order"
)

var testSecret = []byte("webhook-test-secret")

// stubOrders implements OrderService with canned responses.
type stubOrders struct {
	confirmedPaymentIDs []string
	confirmErr          error

	orders map[uuid.UUID]*order.Order
}

func (s *stubOrders) Create(context.Context, uuid.UUID, order.CreateRequest) (*order.Order, error) {
	return nil, order.ErrEmptyItems
}

func (s *stubOrders) ConfirmPayment(_ context.Context, paymentID string) (*order.Order, error) {
	if s.confirmErr != nil {
		return nil, s.confirmErr
	}
	s.confirmedPaymentIDs = append(s.confirmedPaymentIDs, paymentID)
	return &order.Order{ID: uuid.New(), Number: "ORD-1-TEST", Status: order.StatusPaid}, nil
}

func (s *stubOrders) UpdateStatus(_ context.Context, id uuid.UUID, status order.Status) (*order.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o.Status = status
	return o, nil
}

func (s *stubOrders) Get(_ context.Context, id uuid.UUID) (*order.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (s *stubOrders) List(_ context.Context, userID *uuid.UUID) ([]order.Order, error) {
	var out []order.Order
	for _, o := range s.orders {
		if userID == nil || (o.UserID != nil && *o.UserID == *userID) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func sign(secret []byte, body string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(h *Handler, body, signature string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(body))
	if signature != "" {
		r.Header.Set("X-Webhook-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.handlePaymentWebhook(rec, r)
	return rec
}

func TestPaymentWebhook(t *testing.T) {
	succeededBody := `{
		"type": "notification",
		"event": "payment.succeeded",
		"object": {
			"id": "pay-42",
			"status": "succeeded",
			"metadata": {"order_id": "11111111-2222-3333-4444-555555555555"}
		}
	}`

	t.Run("missing signature", func(t *testing.T) {
		orders := &stubOrders{}
		h := NewHandler(orders, nil, nil, testSecret)

		rec := postWebhook(h, succeededBody, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, orders.confirmedPaymentIDs)
	})

	t.Run("wrong signature", func(t *testing.T) {
		orders := &stubOrders{}
		h := NewHandler(orders, nil, nil, testSecret)

		rec := postWebhook(h, succeededBody, sign([]byte("other-secret"), succeededBody))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, orders.confirmedPaymentIDs)
	})

	t.Run("signature over different body", func(t *testing.T) {
		orders := &stubOrders{}
		h := NewHandler(orders, nil, nil, testSecret)

		rec := postWebhook(h, succeededBody, sign(testSecret, succeededBody+" "))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed payload", func(t *testing.T) {
		orders := &stubOrders{}
		h := NewHandler(orders, nil, nil, testSecret)

		body := `{"event": "payment.succeeded", "object": `
		rec := postWebhook(h, body, sign(testSecret, body))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unrelated event acknowledged without effect", func(t *testing.T) {
		orders := &stubOrders{}
		h := NewHandler(orders, nil, nil, testSecret)

		body := `{"event": "payment.canceled", "object": {"id": "pay-42"}}`
		rec := postWebhook(h, body, sign(testSecret, body))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "ignored")
		assert.Empty(t, orders.confirmedPaymentIDs)
	})

	t.Run("missing payment id", func(t *testing.T) {
		orders := &stubOrders{}
		h := NewHandler(orders, nil, nil, testSecret)

		body := `{"event": "payment.succeeded", "object": {"metadata": {"order_id": "x"}}}`
		rec := postWebhook(h, body, sign(testSecret, body))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("succeeded payment confirms the order", func(t *testing.T) {
		orders := &stubOrders{}
		h := NewHandler(orders, nil, nil, testSecret)

		rec := postWebhook(h, succeededBody, sign(testSecret, succeededBody))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"pay-42"}, orders.confirmedPaymentIDs)
	})

	t.Run("unknown payment id", func(t *testing.T) {
		orders := &stubOrders{confirmErr: order.ErrNotFound}
		h := NewHandler(orders, nil, nil, testSecret)

		rec := postWebhook(h, succeededBody, sign(testSecret, succeededBody))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
