package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velstore/checkout/internal/domain/order"
)

const (
	orderColumns = `id, order_number, user_id, items, subtotal, discount_amount,
		bonuses_used, bonuses_earned, promocode_id,
		delivery_service, delivery_type, delivery_address, delivery_cost,
		payment_method, payment_id, status, payment_status, total,
		created_at, paid_at, shipped_at, delivered_at, completed_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (id, order_number, user_id, items, subtotal, discount_amount,
			bonuses_used, bonuses_earned, promocode_id,
			delivery_service, delivery_type, delivery_address, delivery_cost,
			payment_method, payment_id, status, payment_status, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	orderForUpdateSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	orderForUpdateByPaymentSQL = `SELECT ` + orderColumns + ` FROM orders WHERE payment_id = $1 FOR UPDATE`

	updateOrderStatusSQL = `UPDATE orders
		SET status = $2, payment_status = $3, paid_at = $4, shipped_at = $5,
			delivered_at = $6, completed_at = $7, updated_at = $8
		WHERE id = $1`
)

// OrderStore implements order.Store backed by PostgreSQL. Transactional
// operations run on a pgx.Tx via the txStore wrapper.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ order.Store = (*OrderStore)(nil)

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// WithinTx runs fn inside a database transaction. Correctness of the
// checkout path rests on the explicit SELECT ... FOR UPDATE locks taken by
// the txStore methods, which hold until commit or rollback.
func (s *OrderStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx order.TxStore) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

// GetOrder returns a single order by id, or order.ErrNotFound.
func (s *OrderStore) GetOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	rows, err := s.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ListOrders returns orders for a user, newest first. A nil userID returns
// every order (staff view).
func (s *OrderStore) ListOrders(ctx context.Context, userID *uuid.UUID) ([]order.Order, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if userID != nil {
		rows, err = s.pool.Query(ctx, listOrdersByUserSQL, *userID)
	} else {
		rows, err = s.pool.Query(ctx, listOrdersSQL)
	}
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &itemsJSON, &o.Subtotal, &o.DiscountAmount,
		&o.BonusesUsed, &o.BonusesEarned, &o.PromocodeID,
		&o.Delivery.Service, &o.Delivery.Type, &o.Delivery.Address, &o.Delivery.Cost,
		&o.PaymentMethod, &o.PaymentID, &o.Status, &o.PaymentStatus, &o.Total,
		&o.CreatedAt, &o.PaidAt, &o.ShippedAt, &o.DeliveredAt, &o.CompletedAt, &o.UpdatedAt,
	)
	if err != nil {
		return order.Order{}, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling order items: %w", err)
	}
	return o, nil
}
