package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/example/course-platform/internal/platform/api"
)

type ctxKeyUserID struct{}

func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyUserID{}).(string)
	return v, ok
}

// WithUserID injects user_id into context. Useful for testing.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID{}, uid)
}

type Claims struct {
	jwt.RegisteredClaims
}

type JWTVerifier struct {
	Secret []byte
}

func (v JWTVerifier) Parse(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// RequestIDFunc extracts a correlation id for error envelopes. Optional.
type RequestIDFunc func(context.Context) string

// RequireUser middleware validates Bearer token and injects user_id into context.
func RequireUser(verifier JWTVerifier, requestID ...RequestIDFunc) func(next http.Handler) http.Handler {
	rid := func(context.Context) string { return "" }
	if len(requestID) > 0 && requestID[0] != nil {
		rid = requestID[0]
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				api.Unauthorized(w, api.CodeAuthMissing, "missing bearer token", rid(r.Context()))
				return
			}
			claims, err := verifier.Parse(token)
			if err != nil || strings.TrimSpace(claims.Subject) == "" {
				api.Unauthorized(w, api.CodeAuthMissing, "invalid token", rid(r.Context()))
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyUserID{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearer(header string) (string, bool) {
	authz := strings.TrimSpace(header)
	if authz == "" {
		return "", false
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}
