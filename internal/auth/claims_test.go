package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestBearerExpiry(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7",
		"exp": exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("upstream-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, ok := BearerExpiry(signed)
	if !ok {
		t.Fatalf("expected expiry to be found")
	}
	if !got.Equal(exp) {
		t.Fatalf("expected %v, got %v", exp, got)
	}
}

func TestBearerExpiryOpaqueToken(t *testing.T) {
	if _, ok := BearerExpiry("not-a-jwt"); ok {
		t.Fatalf("expected no expiry for opaque token")
	}
}
