package session

import (
	"strconv"
	"strings"

	"github.com/openhms/hms-client/token"
)

// Profile is the response shape of the current-user endpoint.
type Profile struct {
	ID        int64    `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Role      string   `json:"role,omitempty"`
	Groups    []string `json:"groups,omitempty"`
}

// User is the authenticated identity: the decoded access-token claims merged
// with the server-fetched profile. Profile fields take precedence. Role is
// canonicalized to upper case here, once, so every predicate exact-matches
// against the same canonical form.
type User struct {
	ID        string
	Username  string
	Email     string
	FirstName string
	LastName  string
	Role      string
	Groups    []string
	Claims    map[string]any // full decoded claim set, for consumers needing extra fields
}

func mergeUser(claims *token.Claims, profile *Profile) *User {
	user := &User{}

	if claims != nil {
		user.ID = claims.UserID
		user.Username = claims.Username
		user.Role = claims.Role
		user.Groups = claims.Groups
		user.Claims = claims.All
	}

	if profile != nil {
		if profile.ID != 0 {
			user.ID = strconv.FormatInt(profile.ID, 10)
		}
		if profile.Username != "" {
			user.Username = profile.Username
		}
		user.Email = profile.Email
		user.FirstName = profile.FirstName
		user.LastName = profile.LastName
		if profile.Role != "" {
			user.Role = profile.Role
		}
		if len(profile.Groups) > 0 {
			user.Groups = profile.Groups
		}
	}

	user.Role = strings.ToUpper(user.Role)
	return user
}
