// Package bonus implements the bonus-balance usage rules.
package bonus

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MaxUsable returns the largest bonus amount a user may apply to an order:
// the lesser of the current balance and capPercent of the subtotal (floored).
// The cap guarantees the merchant always collects a cash portion.
//
// Callers must re-check the actual balance at debit time; the balance read
// here may be stale under concurrent orders.
func MaxUsable(balance int64, subtotal decimal.Decimal, capPercent int64) int64 {
	if balance <= 0 || subtotal.Sign() <= 0 || capPercent <= 0 {
		return 0
	}
	limit := subtotal.Mul(decimal.NewFromInt(capPercent)).Div(hundred).Floor().IntPart()
	if balance < limit {
		return balance
	}
	return limit
}
