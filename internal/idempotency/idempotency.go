// Package idempotency deduplicates side-effecting requests keyed by a
// client-supplied Idempotency-Key header, guaranteeing at-most-once
// execution of the wrapped handler under client retries.
package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/velstore/checkout/internal/auth"
)

const (
	headerName   = "Idempotency-Key"
	minKeyLength = 16
	maxKeyLength = 255
)

// ErrDuplicateKey is returned by Store.InsertPlaceholder when the key is
// already present. The middleware treats it as a replay in progress.
var ErrDuplicateKey = errors.New("idempotency key already exists")

// Record is a stored idempotency key. A nil Response marks a placeholder for
// a request still in flight.
type Record struct {
	Key       string
	UserID    uuid.UUID
	Response  []byte
	ExpiresAt time.Time
}

// Store persists idempotency records. InsertPlaceholder must enforce key
// uniqueness atomically (a unique constraint, not check-then-insert): the
// insert is what serializes two concurrent requests with the same fresh key.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	InsertPlaceholder(ctx context.Context, key string, userID uuid.UUID, expiresAt time.Time) error
	Complete(ctx context.Context, key string, response []byte) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Middleware returns an http middleware enforcing the idempotency contract
// for the wrapped handler:
//
//   - missing or malformed key: 400, the handler never runs;
//   - stored completed key: the original response replayed verbatim, no side
//     effects, 403 when the key belongs to another user;
//   - stored expired key: deleted and treated as fresh (keys are recyclable
//     after the TTL);
//   - fresh key: a placeholder row is inserted before the handler runs, so a
//     concurrent duplicate observes the key and backs off with 409.
//
// The response is persisted after a 2xx completion on a best-effort basis:
// a storage failure is logged and the user-visible response is unaffected.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			lg := zctx.From(ctx)

			key := r.Header.Get(headerName)
			if len(key) < minKeyLength || len(key) > maxKeyLength {
				writeJSONError(w, http.StatusBadRequest,
					"Idempotency-Key header is required (16-255 characters)")
				return
			}

			sess, ok := auth.FromContext(ctx)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if done := resolveExisting(ctx, w, store, key, sess.UserID); done {
				return
			}

			// Claim the key before any side effect. Losing the insert race
			// means an identical request is already executing.
			if err := store.InsertPlaceholder(ctx, key, sess.UserID, time.Now().Add(ttl)); err != nil {
				if errors.Is(err, ErrDuplicateKey) {
					if done := resolveExisting(ctx, w, store, key, sess.UserID); done {
						return
					}
					writeJSONError(w, http.StatusConflict,
						"a request with this Idempotency-Key is already in progress")
					return
				}
				lg.Error("Idempotency placeholder insert failed",
					zap.Error(err), zap.String("key", key))
				writeJSONError(w, http.StatusInternalServerError, "internal error")
				return
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				if err := store.Complete(ctx, key, rec.body.Bytes()); err != nil {
					// Dedup beyond this point is lost for the key, but the
					// client already has its success response.
					lg.Error("Failed to store idempotent response",
						zap.Error(err), zap.String("key", key))
				}
				return
			}

			// Release the key so the client can retry after a failure.
			if err := store.Delete(ctx, key); err != nil {
				lg.Error("Failed to release idempotency key",
					zap.Error(err), zap.String("key", key))
			}
		})
	}
}

// RunSweeper deletes expired idempotency keys every interval until ctx is
// done. Expired keys are already recycled lazily when a client reuses them;
// the sweep keeps the table from accumulating keys nobody ever retries.
func RunSweeper(ctx context.Context, store Store, interval time.Duration) {
	lg := zctx.From(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.DeleteExpired(ctx, now)
			if err != nil {
				lg.Error("Idempotency key sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				lg.Info("Swept expired idempotency keys", zap.Int64("deleted", n))
			}
		}
	}
}

// resolveExisting checks for a stored record and writes the replayed
// response (or an ownership error) when one settles the request. It reports
// whether the response has been written.
func resolveExisting(ctx context.Context, w http.ResponseWriter, store Store, key string, userID uuid.UUID) bool {
	lg := zctx.From(ctx)

	existing, err := store.Get(ctx, key)
	if err != nil {
		lg.Error("Idempotency lookup failed", zap.Error(err), zap.String("key", key))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return true
	}
	if existing == nil {
		return false
	}

	if time.Now().After(existing.ExpiresAt) {
		if err := store.Delete(ctx, key); err != nil {
			lg.Error("Failed to delete expired idempotency key",
				zap.Error(err), zap.String("key", key))
		}
		return false
	}

	// Keys are single-owner: only the user who first used a key may replay it.
	if existing.UserID != userID {
		writeJSONError(w, http.StatusForbidden,
			"Idempotency-Key belongs to another user")
		return true
	}

	if existing.Response == nil {
		// Placeholder: the original request is still executing.
		writeJSONError(w, http.StatusConflict,
			"a request with this Idempotency-Key is already in progress")
		return true
	}

	lg.Info("Replaying idempotent response", zap.String("key", key))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(existing.Response)
	return true
}

// responseRecorder tees the response body so a successful one can be stored
// for replay.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"message": msg})
}
