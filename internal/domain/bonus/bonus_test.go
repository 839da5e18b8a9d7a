package bonus

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMaxUsable(t *testing.T) {
	tests := []struct {
		name       string
		balance    int64
		subtotal   string
		capPercent int64
		want       int64
	}{
		{name: "balance below cap", balance: 100, subtotal: "1000", capPercent: 50, want: 100},
		{name: "cap below balance", balance: 900, subtotal: "1000", capPercent: 50, want: 500},
		{name: "cap floored", balance: 1000, subtotal: "333", capPercent: 50, want: 166},
		{name: "zero balance", balance: 0, subtotal: "1000", capPercent: 50, want: 0},
		{name: "zero subtotal", balance: 100, subtotal: "0", capPercent: 50, want: 0},
		{name: "full cap", balance: 2000, subtotal: "1000", capPercent: 100, want: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaxUsable(tt.balance, decimal.RequireFromString(tt.subtotal), tt.capPercent)
			assert.Equal(t, tt.want, got)
		})
	}
}
