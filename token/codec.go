package token

import (
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/openhms/hms-client/internal/utils"
	"github.com/pkg/errors"
)

// ErrMalformedToken indicates a stored or received token that cannot be
// decoded. Callers treat this as equivalent to "not authenticated".
var ErrMalformedToken = errors.New("malformed token")

// Claims holds the decoded payload of an access token. Decoding never
// verifies the signature - that is the server's job; the client only needs
// the identity fields and the expiry.
type Claims struct {
	UserID   string   // "user_id" claim, falling back to "sub"
	Username string   // "username" claim
	Role     string   // "role" claim, as issued (not yet canonicalized)
	Groups   []string // "groups" claim
	Exp      int64    // "exp" claim in Unix seconds; zero when absent
	All      map[string]any
}

// Decode parses the claims of a JWT without signature verification.
// Returns ErrMalformedToken (wrapped) for anything that does not parse as a
// three-part token.
func Decode(rawToken string) (*Claims, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, errors.Wrap(ErrMalformedToken, "[Decode] empty token")
	}

	unverifiedToken, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedToken, "[Decode] %s", err.Error())
	}

	mapClaims, ok := unverifiedToken.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.Wrap(ErrMalformedToken, "[Decode] error extracting claims")
	}

	claims := &Claims{All: map[string]any(mapClaims)}

	claims.UserID = stringClaim(mapClaims, "user_id")
	if claims.UserID == "" {
		claims.UserID = stringClaim(mapClaims, "sub")
	}
	claims.Username = stringClaim(mapClaims, "username")
	claims.Role = stringClaim(mapClaims, "role")

	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.Exp = int64(exp)
	}

	if claimGroups, ok := mapClaims["groups"].([]any); ok {
		claims.Groups = utils.ToStringSlice(claimGroups)
	}

	return claims, nil
}

// Expired reports whether the token has expired at the given instant.
// A token without an exp claim never expires, matching conventional JWT
// semantics. The boundary instant (now == exp) counts as expired.
func (c *Claims) Expired(now time.Time) bool {
	if c.Exp == 0 {
		return false
	}
	return c.Exp*1000 <= now.UnixMilli()
}

// ExpiresAt returns the expiry instant, or the zero time when the token
// carries no exp claim.
func (c *Claims) ExpiresAt() time.Time {
	if c.Exp == 0 {
		return time.Time{}
	}
	return time.Unix(c.Exp, 0)
}

// stringClaim reads a claim as a string, converting the JSON number form
// that some backends use for identifiers.
func stringClaim(claims jwtlib.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	}
	return ""
}
