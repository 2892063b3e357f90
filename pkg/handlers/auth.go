package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/auth"
	"github.com/leafcare/leafcare-engine/pkg/models"
	"github.com/leafcare/leafcare-engine/pkg/services"
)

// RegisterRequest is the request body for POST /auth/register.
type RegisterRequest struct {
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles,omitempty"`
	TenantID *string  `json:"tenantId,omitempty"`
}

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the request body for POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthHandler handles registration, login and the token lifecycle.
type AuthHandler struct {
	authService services.AuthService
	logger      *zap.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService services.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// RegisterRoutes registers the auth handler's routes on the given mux.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	// Registration is public; an admin caller may assign roles.
	mux.HandleFunc("POST /auth/register", authMiddleware.OptionalAuth(h.Register))
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/refresh", h.Refresh)
	mux.HandleFunc("POST /auth/logout", authMiddleware.RequireAuth(h.Logout))
	mux.HandleFunc("GET /auth/profile", authMiddleware.RequireAuth(h.Profile))
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	var callerRoles []models.Role
	if claims, ok := auth.GetClaims(r.Context()); ok {
		callerRoles = claims.RoleList()
	}

	roles, err := parseRoleList(req.Roles)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	result, err := h.authService.Register(r.Context(), services.CreateUserInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Roles:    roles,
		TenantID: req.TenantID,
	}, callerRoles)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusCreated, result, "User registered", h.logger)
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeAppError(w, r, apperrors.Validation("invalid_request", "Email and password are required"), h.logger)
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, result, "Login successful", h.logger)
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}
	if req.RefreshToken == "" {
		writeAppError(w, r, apperrors.Validation("invalid_request", "Refresh token is required"), h.logger)
		return
	}

	tokens, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, tokens, "Token refreshed", h.logger)
}

// Logout handles POST /auth/logout
// Revokes the caller's refresh token. Issued access tokens stay valid until they expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserUUIDFromContext(r.Context())
	if err != nil {
		writeAppError(w, r, apperrors.ErrInvalidToken, h.logger)
		return
	}

	if err := h.authService.Logout(r.Context(), userID); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, nil, "Logged out", h.logger)
}

// Profile handles GET /auth/profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserUUIDFromContext(r.Context())
	if err != nil {
		writeAppError(w, r, apperrors.ErrInvalidToken, h.logger)
		return
	}

	user, err := h.authService.Profile(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, user, "", h.logger)
}

// parseRoleList validates role names from a request body.
func parseRoleList(names []string) ([]models.Role, error) {
	if names == nil {
		return nil, nil
	}
	roles := models.ParseRoles(names)
	for _, role := range roles {
		if !models.IsValidRole(role) {
			return nil, apperrors.Validation("invalid_role", "Role must be one of: FARMER, MANAGER, ADMIN")
		}
	}
	return roles, nil
}
