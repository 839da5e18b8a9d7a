package promo

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func dp(v string) *decimal.Decimal {
	dec := decimal.RequireFromString(v)
	return &dec
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	active := func() *Promocode {
		return &Promocode{
			Code:               "WELCOME10",
			Type:               TypeTemporary,
			DiscountPercentage: d("10"),
			IsActive:           true,
		}
	}

	tests := []struct {
		name        string
		promo       *Promocode
		subtotal    decimal.Decimal
		usageExists bool
		wantErr     error
	}{
		{
			name:     "missing promocode",
			promo:    nil,
			subtotal: d("1000"),
			wantErr:  ErrNotFound,
		},
		{
			name: "inactive",
			promo: func() *Promocode {
				p := active()
				p.IsActive = false
				return p
			}(),
			subtotal: d("1000"),
			wantErr:  ErrInactive,
		},
		{
			name: "expired",
			promo: func() *Promocode {
				p := active()
				p.ExpiresAt = &past
				return p
			}(),
			subtotal: d("1000"),
			wantErr:  ErrExpired,
		},
		{
			name: "not yet expired",
			promo: func() *Promocode {
				p := active()
				p.ExpiresAt = &future
				return p
			}(),
			subtotal: d("1000"),
		},
		{
			name: "below minimum amount",
			promo: func() *Promocode {
				p := active()
				p.MinOrderAmount = d("500")
				return p
			}(),
			subtotal: d("499.99"),
			wantErr:  &MinAmountError{MinOrderAmount: d("500")},
		},
		{
			name:        "temporary already used",
			promo:       active(),
			subtotal:    d("1000"),
			usageExists: true,
			wantErr:     ErrAlreadyUsed,
		},
		{
			name: "single_use ignores usage flag",
			promo: func() *Promocode {
				p := active()
				p.Type = TypeSingleUse
				return p
			}(),
			subtotal:    d("1000"),
			usageExists: true,
		},
		{
			name: "inactive takes precedence over expiry",
			promo: func() *Promocode {
				p := active()
				p.IsActive = false
				p.ExpiresAt = &past
				return p
			}(),
			subtotal: d("1000"),
			wantErr:  ErrInactive,
		},
		{
			name:     "valid",
			promo:    active(),
			subtotal: d("1000"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.promo, tt.subtotal, now, tt.usageExists)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.EqualError(t, err, tt.wantErr.Error())
		})
	}
}

func TestComputeDiscount(t *testing.T) {
	tests := []struct {
		name     string
		promo    *Promocode
		subtotal decimal.Decimal
		want     decimal.Decimal
	}{
		{
			name:     "10% of 1000 capped at 80",
			promo:    &Promocode{DiscountPercentage: d("10"), MaxDiscount: dp("80")},
			subtotal: d("1000"),
			want:     d("80"),
		},
		{
			name:     "10% of 1000 uncapped",
			promo:    &Promocode{DiscountPercentage: d("10")},
			subtotal: d("1000"),
			want:     d("100"),
		},
		{
			name:     "fractional result floored",
			promo:    &Promocode{DiscountPercentage: d("15")},
			subtotal: d("333"),
			want:     d("49"), // 49.95 floors to 49
		},
		{
			name:     "cap above computed discount has no effect",
			promo:    &Promocode{DiscountPercentage: d("10"), MaxDiscount: dp("500")},
			subtotal: d("1000"),
			want:     d("100"),
		},
		{
			name:     "discount never exceeds subtotal",
			promo:    &Promocode{DiscountPercentage: d("100"), MaxDiscount: dp("5000")},
			subtotal: d("42"),
			want:     d("42"),
		},
		{
			name:     "zero subtotal",
			promo:    &Promocode{DiscountPercentage: d("50")},
			subtotal: decimal.Zero,
			want:     decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDiscount(tt.promo, tt.subtotal)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestCashback(t *testing.T) {
	rates := CashbackRates{BasePercent: 5, ReducedPercent: 1}

	tests := []struct {
		name            string
		total           decimal.Decimal
		bonusesUsed     bool
		discountApplied bool
		want            int64
	}{
		{name: "base rate", total: d("1000"), want: 50},
		{name: "reduced after bonus debit", total: d("1000"), bonusesUsed: true, want: 10},
		{name: "reduced after discount", total: d("1000"), discountApplied: true, want: 10},
		{name: "reduced when both applied", total: d("1000"), bonusesUsed: true, discountApplied: true, want: 10},
		{name: "floored", total: d("1219"), discountApplied: true, want: 12},
		{name: "zero total", total: decimal.Zero, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cashback(tt.total, tt.bonusesUsed, tt.discountApplied, rates)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCodeSet(t *testing.T) {
	set := NewCodeSet([]string{"WELCOME10", "SPRING26"})

	assert.True(t, set.MayContain("WELCOME10"))
	assert.True(t, set.MayContain("SPRING26"))
	assert.False(t, set.MayContain("DEFINITELY-NOT-A-CODE"))
}
