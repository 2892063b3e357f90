// Package auth issues and verifies leafcare-engine tokens and gates HTTP
// routes by role.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"github.com/leafcare/leafcare-engine/pkg/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"

	principalKey contextKey = "principal"
)

// Principal is the authenticated caller as seen by stages that wrap the
// router. Those stages hold the request context from before authentication,
// so WithClaims fills a Principal they registered earlier.
type Principal struct {
	UserID string
	Email  string
	Roles  []string
}

// WithPrincipal returns ctx carrying an empty Principal that a later
// WithClaims on a derived context will fill in.
func WithPrincipal(ctx context.Context) (context.Context, *Principal) {
	p := &Principal{}
	return context.WithValue(ctx, principalKey, p), p
}

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

// Token types.
const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the payload of both token types. Refresh tokens only carry the
// registered claims and Type.
type Claims struct {
	jwt.RegisteredClaims
	Email    string    `json:"email,omitempty"`
	Roles    []string  `json:"roles,omitempty"`
	TenantID string    `json:"tenantId,omitempty"`
	Type     TokenType `json:"type"`
}

// RoleList returns the caller's roles as typed values.
func (c *Claims) RoleList() []models.Role {
	return models.ParseRoles(c.Roles)
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
// Returns empty string and false if token is not present.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}

// WithClaims returns a copy of ctx carrying claims and the raw token.
func WithClaims(ctx context.Context, claims *Claims, token string) context.Context {
	if p, ok := ctx.Value(principalKey).(*Principal); ok {
		p.UserID = claims.Subject
		p.Email = claims.Email
		p.Roles = claims.Roles
	}
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	return context.WithValue(ctx, TokenKey, token)
}
