package auth

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Issuer signs HS256 access tokens. Only development tooling issues tokens;
// services verify them with JWTVerifier.
type Issuer struct {
	Secret []byte
	TTL    time.Duration
}

func (i Issuer) Issue(userID string, now time.Time) (string, time.Time, error) {
	if len(i.Secret) == 0 {
		return "", time.Time{}, errors.New("missing jwt secret")
	}
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, errors.New("user id is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := i.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	exp := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
