package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velstore/checkout/internal/domain/promo"
)

const (
	findPromoByCodeSQL = `SELECT id, code, type, discount_percentage, max_discount,
			min_order_amount, expires_at, is_active
		FROM promocodes WHERE code = $1`

	listPromoCodesSQL = `SELECT code FROM promocodes WHERE is_active = TRUE`

	insertPromoSQL = `INSERT INTO promocodes (code, type, discount_percentage, max_discount,
			min_order_amount, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO NOTHING`

	usageExistsSQL = `SELECT EXISTS (
		SELECT 1 FROM promocode_usage WHERE promocode_id = $1 AND user_id = $2)`
)

// PromoRepository provides non-transactional promocode access for the
// pre-checkout validate endpoint and the ingest tool. Redemption itself
// always goes through the checkout transaction.
type PromoRepository struct {
	pool *pgxpool.Pool
}

// NewPromoRepository returns a PromoRepository that uses the given pool.
func NewPromoRepository(pool *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{pool: pool}
}

// FindByCode looks up a promocode by its uppercase code. A missing code
// yields (nil, nil).
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Promocode, error) {
	rows, err := r.pool.Query(ctx, findPromoByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promocode %q: %w", code, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPromocode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding promocode %q: %w", code, err)
	}
	return &p, nil
}

// UsageExists reports whether the user already redeemed the promocode.
func (r *PromoRepository) UsageExists(ctx context.Context, promoID, userID uuid.UUID) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, usageExistsSQL, promoID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking promocode usage: %w", err)
	}
	return exists, nil
}

// ListCodes returns the codes of all active promocodes, used to seed the
// validate endpoint's bloom filter at startup.
func (r *PromoRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listPromoCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promocode codes: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var code string
		err := row.Scan(&code)
		return code, err
	})
}

// InsertBatch inserts promocodes in one round trip, skipping codes that
// already exist. Returns the number of rows actually inserted.
func (r *PromoRepository) InsertBatch(ctx context.Context, promos []promo.Promocode) (int64, error) {
	batch := &pgx.Batch{}
	for _, p := range promos {
		batch.Queue(insertPromoSQL,
			p.Code, p.Type, p.DiscountPercentage, p.MaxDiscount,
			p.MinOrderAmount, p.ExpiresAt, p.IsActive,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range promos {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("inserting promocode batch: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}
