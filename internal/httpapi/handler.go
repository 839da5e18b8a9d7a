// Package httpapi exposes the checkout core over a JSON HTTP surface: order
// management, pre-checkout promocode validation, the payment webhook, and the
// websocket upgrade for live order events.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/velstore/checkout/internal/auth"
	"github.com/velstore/checkout/internal/domain/order"
	"github.com/velstore/checkout/internal/domain/promo"
)

// OrderService is the checkout service surface the handlers delegate to.
type OrderService interface {
	Create(ctx context.Context, userID uuid.UUID, req order.CreateRequest) (*order.Order, error)
	ConfirmPayment(ctx context.Context, paymentID string) (*order.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status order.Status) (*order.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*order.Order, error)
	List(ctx context.Context, userID *uuid.UUID) ([]order.Order, error)
}

// PromoReader provides read-only promocode access for pre-checkout
// validation. Redemption goes through the checkout transaction instead.
type PromoReader interface {
	FindByCode(ctx context.Context, code string) (*promo.Promocode, error)
	UsageExists(ctx context.Context, promoID, userID uuid.UUID) (bool, error)
}

// Handler holds the dependencies of the JSON API.
type Handler struct {
	orders        OrderService
	promos        PromoReader
	codes         *promo.CodeSet
	webhookSecret []byte
}

// NewHandler constructs a Handler. codes may be nil, in which case every
// promocode lookup goes to the database.
func NewHandler(orders OrderService, promos PromoReader, codes *promo.CodeSet, webhookSecret []byte) *Handler {
	return &Handler{
		orders:        orders,
		promos:        promos,
		codes:         codes,
		webhookSecret: webhookSecret,
	}
}

// Routes builds the API router. The payment webhook authenticates by
// signature rather than session, so it sits outside the auth group. The
// idempotency middleware guards order creation only. ws may be nil to
// disable the websocket endpoint.
func (h *Handler) Routes(sessions auth.Repository, idem func(http.Handler) http.Handler, ws http.HandlerFunc) chi.Router {
	r := chi.NewRouter()

	r.Post("/webhooks/payment", h.handlePaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(sessions))

		r.Get("/orders", h.handleListOrders)
		r.With(idem).Post("/orders", h.handleCreateOrder)
		r.Get("/orders/{id}", h.handleGetOrder)
		r.With(auth.RequireStaff).Put("/orders/{id}/status", h.handleUpdateOrderStatus)

		r.Post("/promocodes/validate", h.handleValidatePromocode)

		if ws != nil {
			r.Get("/ws", ws)
		}
	})

	return r
}
