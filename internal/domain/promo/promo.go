// Package promo implements promocode validation and discount calculation.
package promo

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type enumerates promocode redemption policies.
type Type string

const (
	// TypeSingleUse is redeemable exactly once, globally. The promocode row
	// is deleted when the redeeming order commits.
	TypeSingleUse Type = "single_use"
	// TypeTemporary is redeemable once per user, tracked via usage records.
	// The promocode row itself persists.
	TypeTemporary Type = "temporary"
)

var (
	// ErrNotFound is returned when no promocode exists for the given code.
	ErrNotFound = errors.New("promocode not found")
	// ErrInactive is returned when the promocode has been deactivated.
	ErrInactive = errors.New("promocode is not active")
	// ErrExpired is returned when the promocode is past its expiry.
	ErrExpired = errors.New("promocode expired")
	// ErrAlreadyUsed is returned when the user has already redeemed a
	// temporary promocode.
	ErrAlreadyUsed = errors.New("promocode already used")
)

// MinAmountError indicates the order subtotal is below the promocode's
// minimum. The message carries the minimum so the client can self-correct.
type MinAmountError struct {
	MinOrderAmount decimal.Decimal
}

func (e *MinAmountError) Error() string {
	return fmt.Sprintf("minimum order amount for this promocode: %s", e.MinOrderAmount)
}

// Promocode is a discount rule addressed by a case-insensitive code.
// Codes are stored uppercase.
type Promocode struct {
	ID                 uuid.UUID
	Code               string
	Type               Type
	DiscountPercentage decimal.Decimal
	MaxDiscount        *decimal.Decimal
	MinOrderAmount     decimal.Decimal
	ExpiresAt          *time.Time
	IsActive           bool
}

// Validate checks a promocode against an order subtotal, applying checks in
// a fixed order so the first failing constraint determines the user-facing
// message: existence, active flag, expiry, minimum amount, prior usage.
//
// usageExists reports whether a usage record already exists for the
// requesting user; it is only consulted for temporary promocodes.
func Validate(p *Promocode, subtotal decimal.Decimal, now time.Time, usageExists bool) error {
	if p == nil {
		return ErrNotFound
	}
	if !p.IsActive {
		return ErrInactive
	}
	if p.ExpiresAt != nil && p.ExpiresAt.Before(now) {
		return ErrExpired
	}
	if subtotal.LessThan(p.MinOrderAmount) {
		return &MinAmountError{MinOrderAmount: p.MinOrderAmount}
	}
	if p.Type == TypeTemporary && usageExists {
		return ErrAlreadyUsed
	}
	return nil
}
