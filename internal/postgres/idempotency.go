package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velstore/checkout/internal/idempotency"
)

const (
	getIdempotencyKeySQL = `SELECT key, user_id, response, expires_at
		FROM idempotency_keys WHERE key = $1`

	insertIdempotencyKeySQL = `INSERT INTO idempotency_keys (key, user_id, response, expires_at)
		VALUES ($1, $2, NULL, $3)`

	completeIdempotencyKeySQL = `UPDATE idempotency_keys SET response = $2 WHERE key = $1`

	deleteIdempotencyKeySQL = `DELETE FROM idempotency_keys WHERE key = $1`

	deleteExpiredKeysSQL = `DELETE FROM idempotency_keys WHERE expires_at < $1`
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaches.
const uniqueViolation = "23505"

var _ idempotency.Store = (*IdempotencyStore)(nil)

// IdempotencyStore implements idempotency.Store backed by PostgreSQL.
// The primary key on idempotency_keys.key is the lock that serializes
// concurrent requests sharing a fresh key.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore returns an IdempotencyStore that uses the given pool.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Get returns the record for key, or (nil, nil) when absent.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	var rec idempotency.Record
	err := s.pool.QueryRow(ctx, getIdempotencyKeySQL, key).
		Scan(&rec.Key, &rec.UserID, &rec.Response, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting idempotency key: %w", err)
	}
	return &rec, nil
}

// InsertPlaceholder claims key for userID. Returns idempotency.ErrDuplicateKey
// when the key is already claimed.
func (s *IdempotencyStore) InsertPlaceholder(ctx context.Context, key string, userID uuid.UUID, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, insertIdempotencyKeySQL, key, userID, expiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return idempotency.ErrDuplicateKey
		}
		return fmt.Errorf("inserting idempotency key: %w", err)
	}
	return nil
}

// Complete stores the response body for a claimed key.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, response []byte) error {
	if _, err := s.pool.Exec(ctx, completeIdempotencyKeySQL, key, response); err != nil {
		return fmt.Errorf("completing idempotency key: %w", err)
	}
	return nil
}

// Delete removes a key, releasing it for reuse.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, deleteIdempotencyKeySQL, key); err != nil {
		return fmt.Errorf("deleting idempotency key: %w", err)
	}
	return nil
}

// DeleteExpired removes all keys past their expiry and returns the count.
func (s *IdempotencyStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, deleteExpiredKeysSQL, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
