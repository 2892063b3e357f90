package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/leafcare/leafcare-engine/pkg/models"
)

// AccessAuditor records denied access attempts.
type AccessAuditor interface {
	LogForbidden(ctx context.Context, userID, path string, required []models.Role)
}

// Middleware provides HTTP authentication and role gating.
// It is thin and delegates token validation to an Authenticator.
type Middleware struct {
	authenticator Authenticator
	auditor       AccessAuditor
	logger        *zap.Logger
}

// NewMiddleware creates a new auth middleware. auditor may be nil.
func NewMiddleware(authenticator Authenticator, auditor AccessAuditor, logger *zap.Logger) *Middleware {
	return &Middleware{
		authenticator: authenticator,
		auditor:       auditor,
		logger:        logger.Named("auth"),
	}
}

// RequireAuth validates the bearer token and stores claims in the request context.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authenticator.ValidateRequest(r)
		if err != nil {
			m.unauthorized(w, "Authentication required")
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims, token)))
	}
}

// OptionalAuth attaches claims when a valid bearer token is present and lets
// anonymous requests through. A malformed or expired token is still rejected.
func (m *Middleware) OptionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next(w, r)
			return
		}
		m.RequireAuth(next)(w, r)
	}
}

// RequireRoles authenticates the request, then admits it only when the caller
// holds at least one of roles. With no roles it behaves like RequireAuth.
func (m *Middleware) RequireRoles(roles ...models.Role) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
			claims, _ := GetClaims(r.Context())
			if err := Check(roles, claims.RoleList()); err != nil {
				m.logger.Warn("Role check failed",
					zap.String("user_id", claims.Subject),
					zap.Strings("roles", claims.Roles),
					zap.String("path", r.URL.Path))
				if m.auditor != nil {
					m.auditor.LogForbidden(r.Context(), claims.Subject, r.URL.Path, roles)
				}
				m.forbidden(w, "Insufficient permissions")
				return
			}
			next(w, r)
		})
	}
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, "unauthorized", message)
}

// forbidden returns a 403 response with JSON error body.
func (m *Middleware) forbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, "forbidden", message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   code,
		"message": message,
	})
}
