package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/velstore/checkout/internal/domain/order"
	"github.com/velstore/checkout/internal/domain/promo"
)

type errorResponse struct {
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Message: msg})
}

// respondDomainError maps domain failures onto HTTP statuses. Constraint
// violations keep their specific message so clients can self-correct;
// anything unrecognized is infrastructure and stays opaque.
func respondDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		minAmount  *promo.MinAmountError
		invalidQty *order.InvalidQuantityError
		noProduct  *order.ProductNotFoundError
		noStock    *order.InsufficientStockError
		bonusCap   *order.BonusLimitError
	)
	switch {
	case errors.Is(err, order.ErrNotFound):
		respondError(w, http.StatusNotFound, "order not found")
	case errors.As(err, &noProduct):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, promo.ErrNotFound),
		errors.Is(err, promo.ErrInactive),
		errors.Is(err, promo.ErrExpired),
		errors.Is(err, promo.ErrAlreadyUsed),
		errors.As(err, &minAmount),
		errors.As(err, &invalidQty),
		errors.As(err, &noStock),
		errors.As(err, &bonusCap),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrNegativeBonuses),
		errors.Is(err, order.ErrConflictingDiscounts),
		errors.Is(err, order.ErrInsufficientBonus),
		errors.Is(err, order.ErrInvalidStatus):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
