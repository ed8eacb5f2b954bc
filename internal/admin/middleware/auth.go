// Package middleware holds the admin API's request plumbing: bearer token
// authentication and request-scoped ids and time.
package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"relaygate/pkg/domain"
	"relaygate/pkg/requestcontext"
)

const issuer = "relaygate"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
)

// Claims identify the operator calling the admin API. Subject is the
// operator's platform user id when the token was minted for a person.
type Claims struct {
	jwt.RegisteredClaims
}

// Validator checks HS256 tokens signed with the configured key.
type Validator struct {
	key []byte
	now func() time.Time
}

func NewValidator(signingKey string) (*Validator, error) {
	if len(signingKey) < 32 {
		return nil, fmt.Errorf("jwt signing key must be at least 32 bytes, got %d", len(signingKey))
	}
	return &Validator{key: []byte(signingKey), now: time.Now}, nil
}

// Issue mints a token for subject. Used by ops tooling and tests.
func (v *Validator) Issue(subject string, ttl time.Duration) (string, error) {
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(v.key)
}

func (v *Validator) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token. A numeric
// subject becomes the request's actor so audit events name the operator.
func RequireAuth(v *Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			var err error
			var claims *Claims
			if !ok || token == "" {
				err = ErrMissingToken
			} else {
				claims, err = v.Validate(token)
			}
			if err != nil {
				logger.WarnContext(ctx, "unauthorized admin request",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = fmt.Fprintf(w, `{"error":"unauthorized","error_description":%q}`, err.Error())
				return
			}

			if actor, perr := domain.ParseUserID(claims.Subject); perr == nil {
				ctx = requestcontext.WithActor(ctx, actor)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
