package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the authorization level carried in an access token.
type Role string

const (
	// RoleUser may only read and write its own worklog.
	RoleUser Role = "user"
	// RoleAdmin may address any username and run administrative sync.
	RoleAdmin Role = "admin"
)

// ParseRole normalizes raw input; unknown values map to RoleUser.
func ParseRole(raw string) Role {
	if strings.EqualFold(strings.TrimSpace(raw), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleUser
}

// Identity is the authenticated principal attached to a request.
type Identity struct {
	Username string
	Role     Role
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Claims is the JWT payload of an access token.
type Claims struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// Identity extracts the principal from validated claims.
func (c Claims) Identity() Identity {
	return Identity{Username: c.Username, Role: ParseRole(string(c.Role))}
}
