package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/velstore/checkout/internal/domain/order"
	"github.com/velstore/checkout/internal/domain/promo"
)

const (
	promoForUpdateByCodeSQL = `SELECT id, code, type, discount_percentage, max_discount,
			min_order_amount, expires_at, is_active
		FROM promocodes WHERE code = $1 FOR UPDATE`

	promoByIDSQL = `SELECT id, code, type, discount_percentage, max_discount,
			min_order_amount, expires_at, is_active
		FROM promocodes WHERE id = $1`

	promoUsageExistsSQL = `SELECT EXISTS (
		SELECT 1 FROM promocode_usage WHERE promocode_id = $1 AND user_id = $2)`

	deletePromoSQL = `DELETE FROM promocodes WHERE id = $1`

	insertPromoUsageSQL = `INSERT INTO promocode_usage (promocode_id, user_id, order_id)
		VALUES ($1, $2, $3)`

	productForUpdateSQL = `SELECT id, name, price, stock_quantity
		FROM products WHERE id = $1 FOR UPDATE`

	updateProductStockSQL = `UPDATE products SET stock_quantity = $2, updated_at = now()
		WHERE id = $1`

	bonusBalanceForUpdateSQL = `SELECT bonus_balance FROM users WHERE id = $1 FOR UPDATE`

	updateBonusBalanceSQL = `UPDATE users SET bonus_balance = $2, updated_at = now()
		WHERE id = $1`

	creditBonusesSQL = `UPDATE users SET bonus_balance = bonus_balance + $2, updated_at = now()
		WHERE id = $1`

	deleteCartItemsSQL = `DELETE FROM cart_items WHERE user_id = $1`
)

// txStore implements order.TxStore on a single pgx transaction. All FOR
// UPDATE locks it takes are held until the surrounding transaction ends.
type txStore struct {
	tx pgx.Tx
}

var _ order.TxStore = (*txStore)(nil)

// PromoForUpdateByCode locks and returns the promocode row for the given
// uppercase code. A missing code yields (nil, nil); validation turns that
// into the not-found domain error.
func (s *txStore) PromoForUpdateByCode(ctx context.Context, code string) (*promo.Promocode, error) {
	rows, err := s.tx.Query(ctx, promoForUpdateByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("locking promocode %q: %w", code, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPromocode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("locking promocode %q: %w", code, err)
	}
	return &p, nil
}

// PromoByID returns a promocode without locking, or (nil, nil) when the row
// no longer exists (consumed single_use codes).
func (s *txStore) PromoByID(ctx context.Context, id uuid.UUID) (*promo.Promocode, error) {
	rows, err := s.tx.Query(ctx, promoByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting promocode %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPromocode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting promocode %q: %w", id, err)
	}
	return &p, nil
}

func (s *txStore) PromoUsageExists(ctx context.Context, promoID, userID uuid.UUID) (bool, error) {
	var exists bool
	if err := s.tx.QueryRow(ctx, promoUsageExistsSQL, promoID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking promocode usage: %w", err)
	}
	return exists, nil
}

func (s *txStore) DeletePromo(ctx context.Context, id uuid.UUID) error {
	if _, err := s.tx.Exec(ctx, deletePromoSQL, id); err != nil {
		return fmt.Errorf("deleting promocode %q: %w", id, err)
	}
	return nil
}

func (s *txStore) InsertPromoUsage(ctx context.Context, promoID, userID, orderID uuid.UUID) error {
	if _, err := s.tx.Exec(ctx, insertPromoUsageSQL, promoID, userID, orderID); err != nil {
		return fmt.Errorf("inserting promocode usage: %w", err)
	}
	return nil
}

// ProductForUpdate locks and returns the product row, or (nil, nil) when the
// product does not exist.
func (s *txStore) ProductForUpdate(ctx context.Context, id uuid.UUID) (*order.ProductStock, error) {
	var p order.ProductStock
	err := s.tx.QueryRow(ctx, productForUpdateSQL, id).Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("locking product %q: %w", id, err)
	}
	return &p, nil
}

func (s *txStore) UpdateProductStock(ctx context.Context, id uuid.UUID, stock int) error {
	if _, err := s.tx.Exec(ctx, updateProductStockSQL, id, stock); err != nil {
		return fmt.Errorf("updating stock for product %q: %w", id, err)
	}
	return nil
}

func (s *txStore) BonusBalanceForUpdate(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	if err := s.tx.QueryRow(ctx, bonusBalanceForUpdateSQL, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("locking bonus balance for user %q: %w", userID, err)
	}
	return balance, nil
}

func (s *txStore) UpdateBonusBalance(ctx context.Context, userID uuid.UUID, balance int64) error {
	if _, err := s.tx.Exec(ctx, updateBonusBalanceSQL, userID, balance); err != nil {
		return fmt.Errorf("updating bonus balance for user %q: %w", userID, err)
	}
	return nil
}

func (s *txStore) CreditBonuses(ctx context.Context, userID uuid.UUID, amount int64) error {
	if _, err := s.tx.Exec(ctx, creditBonusesSQL, userID, amount); err != nil {
		return fmt.Errorf("crediting bonuses for user %q: %w", userID, err)
	}
	return nil
}

func (s *txStore) InsertOrder(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = s.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, o.UserID, itemsJSON, o.Subtotal, o.DiscountAmount,
		o.BonusesUsed, o.BonusesEarned, o.PromocodeID,
		o.Delivery.Service, o.Delivery.Type, o.Delivery.Address, o.Delivery.Cost,
		o.PaymentMethod, o.PaymentID, o.Status, o.PaymentStatus, o.Total,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.Number, err)
	}
	return nil
}

func (s *txStore) OrderForUpdate(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	rows, err := s.tx.Query(ctx, orderForUpdateSQL, id)
	if err != nil {
		return nil, fmt.Errorf("locking order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("locking order %q: %w", id, err)
	}
	return &o, nil
}

func (s *txStore) OrderForUpdateByPaymentID(ctx context.Context, paymentID string) (*order.Order, error) {
	rows, err := s.tx.Query(ctx, orderForUpdateByPaymentSQL, paymentID)
	if err != nil {
		return nil, fmt.Errorf("locking order by payment %q: %w", paymentID, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("locking order by payment %q: %w", paymentID, err)
	}
	return &o, nil
}

func (s *txStore) UpdateOrderStatus(ctx context.Context, o *order.Order) error {
	_, err := s.tx.Exec(ctx, updateOrderStatusSQL,
		o.ID, o.Status, o.PaymentStatus, o.PaidAt, o.ShippedAt,
		o.DeliveredAt, o.CompletedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating status for order %q: %w", o.ID, err)
	}
	return nil
}

func (s *txStore) DeleteCartItems(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.tx.Exec(ctx, deleteCartItemsSQL, userID); err != nil {
		return fmt.Errorf("clearing cart for user %q: %w", userID, err)
	}
	return nil
}

func scanPromocode(row pgx.CollectableRow) (promo.Promocode, error) {
	var p promo.Promocode
	err := row.Scan(
		&p.ID, &p.Code, &p.Type, &p.DiscountPercentage, &p.MaxDiscount,
		&p.MinOrderAmount, &p.ExpiresAt, &p.IsActive,
	)
	return p, err
}
