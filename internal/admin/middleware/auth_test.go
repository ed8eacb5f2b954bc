package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaygate/pkg/domain"
	"relaygate/pkg/requestcontext"
)

const testKey = "0123456789abcdef0123456789abcdef"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewValidatorRejectsShortKey(t *testing.T) {
	_, err := NewValidator("short")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	v, err := NewValidator(testKey)
	require.NoError(t, err)

	t.Run("issued token is valid", func(t *testing.T) {
		token, err := v.Issue("42", time.Minute)
		require.NoError(t, err)
		claims, err := v.Validate(token)
		require.NoError(t, err)
		assert.Equal(t, "42", claims.Subject)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := v.Issue("42", time.Minute)
		require.NoError(t, err)
		later := &Validator{key: v.key, now: func() time.Time { return time.Now().Add(time.Hour) }}
		_, err = later.Validate(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := NewValidator(strings.Repeat("z", 32))
		require.NoError(t, err)
		token, err := other.Issue("42", time.Minute)
		require.NoError(t, err)
		_, err = v.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other signing method", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}}).SignedString([]byte(testKey))
		require.NoError(t, err)
		_, err = v.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("token without expiry", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer: issuer,
		}}).SignedString([]byte(testKey))
		require.NoError(t, err)
		_, err = v.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestRequireAuth(t *testing.T) {
	v, err := NewValidator(testKey)
	require.NoError(t, err)

	var gotActor domain.UserID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActor = requestcontext.Actor(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireAuth(v, testLogger())(next)

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"error":"unauthorized"`)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token sets actor", func(t *testing.T) {
		token, err := v.Issue("900", time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, domain.UserID(900), gotActor)
	})
}

func TestRequestContext(t *testing.T) {
	var gotID string
	h := RequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = requestcontext.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", gotID)
	assert.Equal(t, "abc", rec.Header().Get(requestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, gotID)
	assert.NotEqual(t, "abc", gotID)
}
