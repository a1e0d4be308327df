package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testSigningKey signs tokens minted by NewTestToken. The client never verifies
// signatures, so any HMAC key works. For unit tests only.
var testSigningKey = []byte("forum-client-test-key")

// NewTestToken returns an HS256 JWT with sub=username and the given expiry.
// For unit tests only. Callers must not use in production.
func NewTestToken(username string, expiresAt time.Time) string {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		panic(err)
	}
	return s
}
