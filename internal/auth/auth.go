// Package auth provides the narrow session-resolution boundary the checkout
// core needs from the surrounding application: a bearer token is mapped to a
// user id and role set, nothing more.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Staff roles receive order fan-out events and may manage order statuses.
const (
	RoleAdmin      = "admin"
	RoleConsultant = "consultant"
)

// ErrSessionNotFound is returned when no session matches the token hash.
var ErrSessionNotFound = errors.New("session not found")

// Session is an authenticated caller.
type Session struct {
	UserID    uuid.UUID
	TokenHash string
	Roles     []string
}

// IsStaff reports whether the session carries a staff role.
func (s *Session) IsStaff() bool {
	return slices.Contains(s.Roles, RoleAdmin) || slices.Contains(s.Roles, RoleConsultant)
}

// HasRole reports whether the session carries the given role.
func (s *Session) HasRole(role string) bool {
	return slices.Contains(s.Roles, role)
}

// Repository provides session lookup by SHA-256 token hash.
type Repository interface {
	FindByTokenHash(ctx context.Context, hash string) (*Session, error)
}

type sessionKey struct{}

// FromContext extracts the authenticated session from the context.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok
}

// WithSession returns a context carrying the session. Exposed for tests.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// Middleware authenticates requests via a Bearer token: the token is hashed
// with SHA-256, looked up in the repository, and compared in constant time
// to avoid timing side-channels. Unauthenticated requests get 401.
func Middleware(sessions Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}

			hash := sha256.Sum256([]byte(token))
			hexHash := hex.EncodeToString(hash[:])

			sess, err := sessions.FindByTokenHash(r.Context(), hexHash)
			if err != nil {
				unauthorized(w)
				return
			}

			storedBytes, err := hex.DecodeString(sess.TokenHash)
			if err != nil {
				unauthorized(w)
				return
			}
			if subtle.ConstantTimeCompare(hash[:], storedBytes) != 1 {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// RequireStaff rejects non-staff sessions with 403. Must run after Middleware.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := FromContext(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		if !sess.IsStaff() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "staff role required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) || len(h) == len(prefix) {
		return "", false
	}
	return h[len(prefix):], true
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"message": "unauthorized"})
}
