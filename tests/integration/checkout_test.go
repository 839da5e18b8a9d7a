//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velstore/checkout/internal/domain/order"
	"github.com/velstore/checkout/internal/domain/promo"
	"github.com/velstore/checkout/internal/idempotency"
	"github.com/velstore/checkout/internal/postgres"
)

func uniqueCode(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano())
}

func TestConcurrentStockDecrement(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	productID := seedProduct(t, "Limited Grinder", "500", 1)
	buyerA, buyerB := seedUser(t, 0), seedUser(t, 0)

	buy := func(userID uuid.UUID) func() error {
		return func() error {
			_, err := svc.Create(ctx, userID, order.CreateRequest{
				Items:         []order.ItemRequest{{ProductID: productID, UnitPrice: decimal.NewFromInt(500), Quantity: 1}},
				PaymentMethod: "card",
			})
			return err
		}
	}
	errs := race(buy(buyerA), buy(buyerB))

	won, lost := 0, 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		var stockErr *order.InsufficientStockError
		require.ErrorAs(t, err, &stockErr, "loser must fail on stock, got %v", err)
		assert.Equal(t, 0, stockErr.Available)
		lost++
	}
	assert.Equal(t, 1, won, "exactly one order gets the last unit")
	assert.Equal(t, 1, lost)
	assert.Equal(t, 0, productStock(t, productID), "stock must never go negative")
}

func TestConcurrentSingleUseRedemption(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	productID := seedProduct(t, "Espresso Machine", "1000", 10)
	code := uniqueCode("ONESHOT")
	seedPromo(t, code, "single_use", "20")
	buyerA, buyerB := seedUser(t, 0), seedUser(t, 0)

	redeem := func(userID uuid.UUID) func() error {
		return func() error {
			_, err := svc.Create(ctx, userID, order.CreateRequest{
				Items:         []order.ItemRequest{{ProductID: productID, UnitPrice: decimal.NewFromInt(1000), Quantity: 1}},
				PromoCode:     code,
				PaymentMethod: "card",
			})
			return err
		}
	}
	errs := race(redeem(buyerA), redeem(buyerB))

	won, lost := 0, 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		// The winner deletes the code inside its transaction; the loser's
		// locked lookup then sees no row.
		require.ErrorIs(t, err, promo.ErrNotFound)
		lost++
	}
	assert.Equal(t, 1, won, "a single_use code must be redeemed exactly once")
	assert.Equal(t, 1, lost)
	assert.False(t, promoExists(t, code))
}

func TestConcurrentTemporaryRedemptionSameUser(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	productID := seedProduct(t, "Mug", "200", 10)
	code := uniqueCode("SPRING")
	seedPromo(t, code, "temporary", "10")
	buyer := seedUser(t, 0)

	redeem := func() error {
		_, err := svc.Create(ctx, buyer, order.CreateRequest{
			Items:         []order.ItemRequest{{ProductID: productID, UnitPrice: decimal.NewFromInt(200), Quantity: 1}},
			PromoCode:     code,
			PaymentMethod: "card",
		})
		return err
	}
	errs := race(redeem, redeem)

	won, lost := 0, 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, promo.ErrAlreadyUsed)
		lost++
	}
	assert.Equal(t, 1, won, "one use per user")
	assert.Equal(t, 1, lost)
	assert.True(t, promoExists(t, code), "temporary codes survive redemption")
}

func TestConcurrentBonusDebit(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	productID := seedProduct(t, "Keyboard", "500", 10)
	buyer := seedUser(t, 100)

	spend := func() error {
		_, err := svc.Create(ctx, buyer, order.CreateRequest{
			Items:         []order.ItemRequest{{ProductID: productID, UnitPrice: decimal.NewFromInt(500), Quantity: 1}},
			BonusesUsed:   100,
			PaymentMethod: "card",
		})
		return err
	}
	errs := race(spend, spend)

	won, lost := 0, 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		// The loser re-reads the balance under the row lock and finds it
		// already drained.
		var capErr *order.BonusLimitError
		require.ErrorAs(t, err, &capErr, "loser must fail on the bonus limit, got %v", err)
		assert.Equal(t, int64(0), capErr.MaxUsable)
		lost++
	}
	assert.Equal(t, 1, won, "the balance covers exactly one order")
	assert.Equal(t, 1, lost)
	assert.Equal(t, int64(0), bonusBalance(t, buyer), "balance must never go negative")
}

func TestConcurrentIdempotencyClaim(t *testing.T) {
	ctx := context.Background()
	store := postgres.NewIdempotencyStore(pool)
	userID := seedUser(t, 0)
	key := uniqueCode("idem-race-")
	expires := time.Now().Add(time.Hour)

	claim := func() error {
		return store.InsertPlaceholder(ctx, key, userID, expires)
	}
	errs := race(claim, claim)

	won, lost := 0, 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.True(t, errors.Is(err, idempotency.ErrDuplicateKey), "loser must observe the duplicate, got %v", err)
		lost++
	}
	assert.Equal(t, 1, won, "exactly one request claims a fresh key")
	assert.Equal(t, 1, lost)

	rec, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, userID, rec.UserID)
	assert.Nil(t, rec.Response, "the claim is a placeholder until completion")
}
