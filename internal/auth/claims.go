package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Token validation errors.
var (
	// ErrTokenInvalid is returned for malformed, mis-signed, expired or
	// incomplete tokens.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrIssuerMismatch is returned when the token's issuer does not
	// match the configured one.
	ErrIssuerMismatch = errors.New("auth: issuer mismatch")
)

// Claims are the JWT claims Custody Core expects on operator tokens.
// The subject identifies the actor recorded against ledger writes.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Actor returns the identity to record in movements and audit logs.
func (c *Claims) Actor() string {
	return c.Subject
}

// ParseToken validates a JWT access token, returning its claims. It
// checks the signature, expiry, issuer (when configured) and that a
// subject is present.
func ParseToken(tokenString, secret, issuer string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	if issuer != "" && claims.Issuer != issuer {
		return nil, fmt.Errorf("%w: got %q", ErrIssuerMismatch, claims.Issuer)
	}

	return claims, nil
}
