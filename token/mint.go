package token

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Identity carries the claims minted into an access token.
type Identity struct {
	UserID   string
	Username string
	Role     string
	Groups   []string
}

// Mint creates an HS256-signed access token for the given identity. A ttl of
// zero or less produces a token without an exp claim (non-expiring).
// Used by the mock backend and by tests; the real backend mints its own.
func Mint(secret []byte, id Identity, ttl time.Duration) (string, error) {
	now := NowTimeFunc()

	claims := jwtlib.MapClaims{
		"sub":      id.UserID,
		"user_id":  id.UserID,
		"username": id.Username,
		"iat":      now.Unix(),
		"jti":      uuid.New().String(),
	}
	if id.Role != "" {
		claims["role"] = id.Role
	}
	if len(id.Groups) > 0 {
		claims["groups"] = id.Groups
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}

	signedToken, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "[Mint] failed to sign token")
	}
	return signedToken, nil
}
