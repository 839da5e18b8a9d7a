package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	sessions map[string]*Session
}

func (r *stubRepo) FindByTokenHash(_ context.Context, hash string) (*Session, error) {
	s, ok := r.sessions[hash]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func TestMiddleware(t *testing.T) {
	userID := uuid.New()
	const token = "valid-session-token"
	repo := &stubRepo{sessions: map[string]*Session{
		hashToken(token): {UserID: userID, TokenHash: hashToken(token), Roles: []string{RoleAdmin}},
	}}

	var captured *Session
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mw := Middleware(repo)(next)

	serve := func(authorization string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/orders", nil)
		if authorization != "" {
			r.Header.Set("Authorization", authorization)
		}
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, r)
		return rec
	}

	t.Run("valid bearer token", func(t *testing.T) {
		captured = nil
		rec := serve("Bearer " + token)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, captured)
		assert.Equal(t, userID, captured.UserID)
		assert.True(t, captured.IsStaff())
	})

	t.Run("missing header", func(t *testing.T) {
		captured = nil
		rec := serve("")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, captured)
	})

	t.Run("not a bearer scheme", func(t *testing.T) {
		rec := serve("Basic dXNlcjpwYXNz")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown token", func(t *testing.T) {
		rec := serve("Bearer some-other-token")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireStaff(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireStaff(next)

	serve := func(sess *Session) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPut, "/orders/1/status", nil)
		if sess != nil {
			r = r.WithContext(WithSession(r.Context(), sess))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec
	}

	t.Run("admin allowed", func(t *testing.T) {
		rec := serve(&Session{UserID: uuid.New(), Roles: []string{RoleAdmin}})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("consultant allowed", func(t *testing.T) {
		rec := serve(&Session{UserID: uuid.New(), Roles: []string{RoleConsultant}})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("customer denied", func(t *testing.T) {
		rec := serve(&Session{UserID: uuid.New()})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unauthenticated denied", func(t *testing.T) {
		rec := serve(nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
