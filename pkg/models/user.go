package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is an account that can authenticate against the API.
type User struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	Roles            []Role     `json:"roles"`
	IsActive         bool       `json:"isActive"`
	TenantID         *string    `json:"tenantId,omitempty"`
	RefreshTokenHash *string    `json:"-"`
	LastLoginAt      *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Role is an authorization role carried in access tokens.
type Role string

// Role constants.
const (
	RoleFarmer  Role = "FARMER"
	RoleManager Role = "MANAGER"
	RoleAdmin   Role = "ADMIN"
)

// ValidRoles contains all valid role values.
var ValidRoles = []Role{RoleFarmer, RoleManager, RoleAdmin}

// IsValidRole checks if the given role is valid.
func IsValidRole(role Role) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// HasRole reports whether the user holds role.
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RoleStrings converts roles to plain strings for storage and token claims.
func RoleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// ParseRoles converts plain strings to roles, upper-casing each one.
// Unknown values are kept so callers can reject them with IsValidRole.
func ParseRoles(values []string) []Role {
	out := make([]Role, 0, len(values))
	for _, v := range values {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v != "" {
			out = append(out, Role(v))
		}
	}
	return out
}

// NormalizeEmail lower-cases and trims an email address. Emails are unique
// after normalization.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserFilter selects users for admin listing. Nil fields do not filter.
type UserFilter struct {
	Role     *Role
	IsActive *bool
	TenantID *string
}
