package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/auth"
	"github.com/leafcare/leafcare-engine/pkg/models"
	"github.com/leafcare/leafcare-engine/pkg/services"
)

// CreateUserRequest is the request body for POST /users.
type CreateUserRequest struct {
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles,omitempty"`
	TenantID *string  `json:"tenantId,omitempty"`
}

// UpdateUserRequest is the request body for PATCH /users/{id}.
// Absent fields are left unchanged; an empty tenantId clears it.
type UpdateUserRequest struct {
	Name     *string  `json:"name,omitempty"`
	Email    *string  `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	TenantID *string  `json:"tenantId,omitempty"`
}

// ChangePasswordRequest is the request body for PATCH /users/me/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// UsersHandler handles user administration HTTP requests.
type UsersHandler struct {
	userService services.UserService
	logger      *zap.Logger
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(userService services.UserService, logger *zap.Logger) *UsersHandler {
	return &UsersHandler{
		userService: userService,
		logger:      logger,
	}
}

// RegisterRoutes registers the users handler's routes on the given mux.
func (h *UsersHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	admin := authMiddleware.RequireRoles(models.RoleAdmin)

	mux.HandleFunc("POST /users", admin(h.Create))
	mux.HandleFunc("GET /users", admin(h.List))
	mux.HandleFunc("GET /users/{id}", admin(h.Get))
	mux.HandleFunc("PATCH /users/{id}", admin(h.Update))
	mux.HandleFunc("DELETE /users/{id}", admin(h.Deactivate))
	mux.HandleFunc("DELETE /users/{id}/permanent", admin(h.Delete))
	mux.HandleFunc("PATCH /users/{id}/activate", admin(h.Activate))
	mux.HandleFunc("PATCH /users/{id}/deactivate", admin(h.Deactivate))

	// Any authenticated caller may change their own password.
	mux.HandleFunc("PATCH /users/me/change-password", authMiddleware.RequireAuth(h.ChangePassword))
}

// Create handles POST /users
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}
	roles, err := parseRoleList(req.Roles)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	user, err := h.userService.CreateUser(r.Context(), services.CreateUserInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Roles:    roles,
		TenantID: req.TenantID,
	})
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusCreated, user, "User created", h.logger)
}

// List handles GET /users?role=&isActive=&tenantId=&limit=&skip=
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, skip, ok := ParsePaging(w, r, h.logger)
	if !ok {
		return
	}
	isActive, ok := parseOptionalBool(w, r, "isActive", h.logger)
	if !ok {
		return
	}

	filter := models.UserFilter{IsActive: isActive}
	q := r.URL.Query()
	if v := q.Get("role"); v != "" {
		parsed := models.ParseRoles([]string{v})
		if len(parsed) == 1 {
			filter.Role = &parsed[0]
		}
	}
	if v := q.Get("tenantId"); v != "" {
		filter.TenantID = &v
	}

	page, err := h.userService.List(r.Context(), filter, limit, skip)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, page, "", h.logger)
}

// Get handles GET /users/{id}
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}

	user, err := h.userService.GetByID(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, user, "", h.logger)
}

// Update handles PATCH /users/{id}
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}
	roles, err := parseRoleList(req.Roles)
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	user, err := h.userService.Update(r.Context(), id, services.UpdateUserInput{
		Name:     req.Name,
		Email:    req.Email,
		Roles:    roles,
		TenantID: req.TenantID,
	})
	if err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, user, "User updated", h.logger)
}

// Activate handles PATCH /users/{id}/activate
func (h *UsersHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.userService.Activate(r.Context(), id); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, nil, "User activated", h.logger)
}

// Deactivate handles DELETE /users/{id} and PATCH /users/{id}/deactivate.
// The account is kept but can no longer log in.
func (h *UsersHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.userService.Deactivate(r.Context(), id); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, nil, "User deactivated", h.logger)
}

// Delete handles DELETE /users/{id}/permanent
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseUserID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.userService.Delete(r.Context(), id); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword handles PATCH /users/me/change-password
func (h *UsersHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserUUIDFromContext(r.Context())
	if err != nil {
		writeAppError(w, r, apperrors.ErrInvalidToken, h.logger)
		return
	}

	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	if err := h.userService.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		writeAppError(w, r, err, h.logger)
		return
	}

	writeData(w, http.StatusOK, nil, "Password changed", h.logger)
}
