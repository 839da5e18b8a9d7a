package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/velstore/checkout/internal/auth"
	"github.com/velstore/checkout/internal/domain/promo"
)

type validatePromoRequest struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type validatePromoResponse struct {
	Valid          bool            `json:"valid"`
	Code           string          `json:"code"`
	Type           promo.Type      `json:"type"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
}

// handleValidatePromocode checks a promocode against the caller's cart
// subtotal without consuming it. The bloom filter of known codes rejects
// junk input before the database is consulted; redemption re-validates
// inside the checkout transaction, so a stale positive here is harmless.
func (h *Handler) handleValidatePromocode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := auth.FromContext(ctx)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req validatePromoRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		respondError(w, http.StatusBadRequest, "code required")
		return
	}

	if h.codes != nil && !h.codes.MayContain(code) {
		respondError(w, http.StatusBadRequest, promo.ErrNotFound.Error())
		return
	}

	p, err := h.promos.FindByCode(ctx, code)
	if err != nil {
		respondDomainError(ctx, w, err)
		return
	}

	usageExists := false
	if p != nil && p.Type == promo.TypeTemporary {
		usageExists, err = h.promos.UsageExists(ctx, p.ID, sess.UserID)
		if err != nil {
			respondDomainError(ctx, w, err)
			return
		}
	}

	if err := promo.Validate(p, req.Subtotal, time.Now(), usageExists); err != nil {
		respondDomainError(ctx, w, err)
		return
	}

	respondJSON(w, http.StatusOK, validatePromoResponse{
		Valid:          true,
		Code:           p.Code,
		Type:           p.Type,
		DiscountAmount: promo.ComputeDiscount(p, req.Subtotal),
	})
}
