package credential

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or carries no usable claims.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims holds the subset of JWT claims the client reads from a credential.
// The backend puts the username in sub; some tokens also carry an explicit username claim.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// Name returns the username for the token: the explicit username claim if set, otherwise sub.
func (c *Claims) Name() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Subject
}

// DecodeClaims parses the token payload without verifying its signature.
// Credentials are opaque to the client; the server remains the only verifier.
func DecodeClaims(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExpiresAt returns the exp claim of token. ok is false when the token cannot be
// decoded or carries no expiry.
func ExpiresAt(token string) (exp time.Time, ok bool) {
	claims, err := DecodeClaims(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// IsExpired reports whether token is expired at now. Tokens that cannot be decoded
// or have no exp claim are treated as expired.
func IsExpired(token string, now time.Time) bool {
	exp, ok := ExpiresAt(token)
	if !ok {
		return true
	}
	return exp.Before(now)
}
