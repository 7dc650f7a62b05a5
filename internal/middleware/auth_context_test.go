package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tnr-records/internal/platform/logger"
	"tnr-records/internal/ports/auth"

	"github.com/stretchr/testify/assert"
)

type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, token string) (auth.Claims, error) {
	if token == "good" {
		return auth.Claims{UserID: "staff-1", Email: "s@example.org"}, nil
	}
	return auth.Claims{}, errors.New("bad token")
}

func claimsOf(t *testing.T, h func(http.Handler) http.Handler, req *http.Request) (auth.Claims, bool) {
	t.Helper()
	var (
		got auth.Claims
		ok  bool
	)
	h(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = GetClaims(r.Context())
	})).ServeHTTP(httptest.NewRecorder(), req)
	return got, ok
}

func TestAuthContext_DevHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Debug-User-ID", "staff-a")
	req.Header.Set("X-Debug-User-Name", "Ana")

	c, ok := claimsOf(t, AuthContext(nil), req)
	assert.True(t, ok)
	assert.Equal(t, "staff-a", c.UserID)
	assert.Equal(t, "Ana", c.DisplayName())

	_, ok = claimsOf(t, AuthContext(nil), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
}

func TestAuthContext_Verifier(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	c, ok := claimsOf(t, AuthContext(stubVerifier{}), req)
	assert.True(t, ok)
	assert.Equal(t, "s@example.org", c.DisplayName())

	// con verifier los headers de debug se ignoran
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer bad")
	req.Header.Set("X-Debug-User-ID", "staff-a")
	_, ok = claimsOf(t, AuthContext(stubVerifier{}), req)
	assert.False(t, ok)
}

func TestEditorOr(t *testing.T) {
	rec := httptest.NewRecorder()
	_, ok := EditorOr(rec, httptest.NewRequest(http.MethodPost, "/", nil), "", "")
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	c, ok := EditorOr(rec, httptest.NewRequest(http.MethodPost, "/", nil), " staff-b ", "Beto")
	assert.True(t, ok)
	assert.Equal(t, "staff-b", c.UserID)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithClaims(req.Context(), auth.Claims{UserID: "staff-a"}))
	c, ok = EditorOr(httptest.NewRecorder(), req, "staff-b", "")
	assert.True(t, ok)
	assert.Equal(t, "staff-a", c.UserID)
}

func TestRecover_WritesJSON500(t *testing.T) {
	h := Recover(logger.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"internal_error"`)
}
