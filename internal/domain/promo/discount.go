package promo

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputeDiscount calculates the discount amount for a validated promocode:
// floor(subtotal * percentage / 100), capped by the promocode's maximum
// discount when present, and never exceeding the subtotal. Rounding is
// always floor, so fractional currency units favour the merchant.
func ComputeDiscount(p *Promocode, subtotal decimal.Decimal) decimal.Decimal {
	discount := subtotal.Mul(p.DiscountPercentage).Div(hundred).Floor()
	if p.MaxDiscount != nil {
		discount = decimal.Min(discount, *p.MaxDiscount)
	}
	return decimal.Min(discount, subtotal)
}

// CashbackRates configures cashback accrual percentages. The reduced rate
// applies when the order already benefited from a promocode discount or a
// bonus debit, so promotions do not compound.
type CashbackRates struct {
	BasePercent    int64
	ReducedPercent int64
}

// Cashback returns the bonuses earned for an order total. Pure function of
// its inputs; the rate table comes from configuration.
func Cashback(total decimal.Decimal, bonusesUsed, discountApplied bool, rates CashbackRates) int64 {
	rate := rates.BasePercent
	if bonusesUsed || discountApplied {
		rate = rates.ReducedPercent
	}
	if rate <= 0 || total.Sign() <= 0 {
		return 0
	}
	return total.Mul(decimal.NewFromInt(rate)).Div(hundred).Floor().IntPart()
}
