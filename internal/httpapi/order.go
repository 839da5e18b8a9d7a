package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/velstore/checkout/internal/auth"
	"github.com/velstore/checkout/internal/domain/order"
)

// maxBodySize bounds request bodies on JSON endpoints.
const maxBodySize = 1 << 20

// handleListOrders returns the caller's orders. Staff sessions see every
// order.
func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := auth.FromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var userID *uuid.UUID
	if !sess.IsStaff() {
		userID = &sess.UserID
	}

	orders, err := h.orders.List(ctx, userID)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

// handleCreateOrder runs the checkout transaction for the authenticated
// user. The route is wrapped by the idempotency middleware, which replays
// the stored response with status 200, so success here is 200 as well to
// keep first response and replay identical.
func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := auth.FromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req order.CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.orders.Create(ctx, sess.UserID, req)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// handleGetOrder returns one order. Customers may only read their own.
func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := auth.FromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := h.orders.Get(ctx, id)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}

	if !sess.IsStaff() && (o.UserID == nil || *o.UserID != sess.UserID) {
		respondError(w, http.StatusForbidden, "access denied")
		return
	}
	respondJSON(w, http.StatusOK, o)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// handleUpdateOrderStatus transitions an order to a new status. Staff only;
// the route is guarded by auth.RequireStaff.
func (h *Handler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.orders.UpdateStatus(ctx, id, order.Status(req.Status))
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}
