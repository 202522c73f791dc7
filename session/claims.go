package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hivedb-io/hivesync/types"
)

// accessClaims mirrors the payload HiveDB puts into access tokens. The
// server signs with a key the client never sees, so tokens are decoded
// without signature verification; expiry alone decides local validity.
type accessClaims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// ExtractClaims decodes the token payload. A token that cannot be parsed,
// or that carries no expiry, is rejected: without an exp claim the client
// cannot tell a live credential from a dead one.
func ExtractClaims(accessToken string) (*types.Identity, time.Time, error) {
	parser := jwt.NewParser()

	token, _, err := parser.ParseUnverified(accessToken, &accessClaims{})
	if err != nil {
		return nil, time.Time{}, types.Errorf(types.ErrSession, "failed to decode access token: %v", err)
	}

	claims, ok := token.Claims.(*accessClaims)
	if !ok {
		return nil, time.Time{}, types.Errorf(types.ErrSession, "unexpected claims type")
	}

	if claims.ExpiresAt == nil {
		return nil, time.Time{}, types.Errorf(types.ErrSession, "access token has no expiry")
	}

	identity := &types.Identity{
		Subject:  claims.Subject,
		Username: claims.Username,
		Email:    claims.Email,
		IsAdmin:  claims.IsAdmin,
	}

	if identity.Username == "" {
		identity.Username = claims.Subject
	}

	return identity, claims.ExpiresAt.Time, nil
}
