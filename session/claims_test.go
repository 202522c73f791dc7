package session_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hivedb-io/hivesync/session"
	"github.com/hivedb-io/hivesync/types"
)

func TestExtractClaims(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)

	token := signToken(t, jwt.MapClaims{
		"sub":      "7",
		"username": "worker",
		"email":    "worker@example.com",
		"is_admin": true,
		"exp":      jwt.NewNumericDate(expiry),
	})

	identity, expiresAt, err := session.ExtractClaims(token)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	if identity.Subject != "7" || identity.Username != "worker" || !identity.IsAdmin {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if !expiresAt.Equal(expiry) {
		t.Fatalf("expected expiry %v, got %v", expiry, expiresAt)
	}
}

func TestExtractClaimsFailures(t *testing.T) {
	cases := []struct {
		name  string
		token string
	}{
		{"garbage", "garbage"},
		{"two segments", "aGVhZGVy.cGF5bG9hZA"},
		{"no expiry", signToken(t, jwt.MapClaims{"sub": "7"})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := session.ExtractClaims(tc.token)
			if !types.IsError(err, types.ErrSession) {
				t.Fatalf("expected ErrSession, got %v", err)
			}
		})
	}
}
