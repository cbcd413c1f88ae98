package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BearerExpiry extracts the expiry claim from an upstream bearer token. The
// accounts service owns the signature, so the token is parsed unverified; the
// gateway only uses the claim to cap its own session lifetime. Returns false
// for opaque tokens or tokens without an exp claim.
func BearerExpiry(bearer string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(bearer, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
