package jwt

import (
	"errors"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Claims represents the JWT payload issued by the delivery backend.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"` // "rider", "customer", "restaurant", ...
	gojwt.RegisteredClaims
}

var parser = gojwt.NewParser()

// Peek decodes a raw bearer token without verifying its signature.
// The client never holds the signing key; the backend stays the authority
// and Peek is only used to skip credentials that are obviously stale.
func Peek(raw string) (*Claims, error) {
	if raw == "" {
		return nil, errors.New("empty token")
	}
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Expired reports whether raw carries an exp claim that is before now.
// Tokens that are not JWTs, or carry no exp, are never considered expired.
func Expired(raw string, now time.Time) bool {
	claims, err := Peek(raw)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.Before(now)
}

// Sign creates an HS256 token for the given user. Used by local tooling and
// the fake backend; production tokens always come from the backend.
func Sign(secret []byte, userID, email, role string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is required")
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(secret)
}
