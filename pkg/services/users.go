package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/auth"
	"github.com/leafcare/leafcare-engine/pkg/models"
	"github.com/leafcare/leafcare-engine/pkg/repositories"
)

// Password length bounds. bcrypt only uses the first 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// CreateUserInput carries the fields for a new account.
type CreateUserInput struct {
	Name     string
	Email    string
	Password string
	Roles    []models.Role // defaults to FARMER when empty
	TenantID *string
}

// UpdateUserInput carries profile changes. Nil fields are left unchanged.
type UpdateUserInput struct {
	Name     *string
	Email    *string
	Roles    []models.Role
	TenantID *string
}

// UserService defines the interface for user administration.
type UserService interface {
	CreateUser(ctx context.Context, input CreateUserInput) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter, limit, skip int) (*models.Page[*models.User], error)
	Update(ctx context.Context, id uuid.UUID, input UpdateUserInput) (*models.User, error)
	Activate(ctx context.Context, id uuid.UUID) error
	// Deactivate is a soft delete: the account remains but cannot log in
	// and its refresh token is revoked.
	Deactivate(ctx context.Context, id uuid.UUID) error
	// Delete removes the account permanently.
	Delete(ctx context.Context, id uuid.UUID) error
	ChangePassword(ctx context.Context, id uuid.UUID, currentPassword, newPassword string) error
}

// userService implements UserService.
type userService struct {
	userRepo repositories.UserRepository
	hasher   *auth.PasswordHasher
	logger   *zap.Logger
}

// NewUserService creates a new user service with dependencies.
func NewUserService(userRepo repositories.UserRepository, hasher *auth.PasswordHasher, logger *zap.Logger) UserService {
	return &userService{
		userRepo: userRepo,
		hasher:   hasher,
		logger:   logger.Named("user-service"),
	}
}

// CreateUser validates input, hashes the password and stores the account.
func (s *userService) CreateUser(ctx context.Context, input CreateUserInput) (*models.User, error) {
	return createUser(ctx, s.userRepo, s.hasher, input)
}

func createUser(ctx context.Context, repo repositories.UserRepository, hasher *auth.PasswordHasher, input CreateUserInput) (*models.User, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.Validation("invalid_name", "Name is required")
	}
	email, err := validateEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	roles := input.Roles
	if len(roles) == 0 {
		roles = []models.Role{models.RoleFarmer}
	}
	if err := validateRoles(roles); err != nil {
		return nil, err
	}

	hash, err := hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Roles:        dedupeRoles(roles),
		IsActive:     true,
		TenantID:     input.TenantID,
	}
	if err := repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetByID returns a user or ErrUserNotFound.
func (s *userService) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// List returns one page of users.
func (s *userService) List(ctx context.Context, filter models.UserFilter, limit, skip int) (*models.Page[*models.User], error) {
	if filter.Role != nil && !models.IsValidRole(*filter.Role) {
		return nil, apperrors.Validation("invalid_role", fmt.Sprintf("Unknown role %q", *filter.Role))
	}
	limit = models.ClampLimit(limit)
	if skip < 0 {
		skip = 0
	}

	users, total, err := s.userRepo.List(ctx, filter, limit, skip)
	if err != nil {
		return nil, err
	}
	return &models.Page[*models.User]{
		Records:    users,
		Pagination: models.NewPagination(total, limit, skip),
	}, nil
}

// Update applies profile changes. Removing the last active admin's ADMIN
// role fails with ErrLastAdmin.
func (s *userService) Update(ctx context.Context, id uuid.UUID, input UpdateUserInput) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.Validation("invalid_name", "Name cannot be empty")
		}
		user.Name = name
	}
	if input.Email != nil {
		email, err := validateEmail(*input.Email)
		if err != nil {
			return nil, err
		}
		user.Email = email
	}
	if input.Roles != nil {
		if len(input.Roles) == 0 {
			return nil, apperrors.Validation("invalid_role", "At least one role is required")
		}
		if err := validateRoles(input.Roles); err != nil {
			return nil, err
		}
		user.Roles = dedupeRoles(input.Roles)
	}
	if input.TenantID != nil {
		user.TenantID = input.TenantID
		if *input.TenantID == "" {
			user.TenantID = nil
		}
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("User updated",
		zap.String("user_id", id.String()),
		zap.Strings("roles", models.RoleStrings(user.Roles)))
	return user, nil
}

// Activate re-enables a deactivated account.
func (s *userService) Activate(ctx context.Context, id uuid.UUID) error {
	return s.userRepo.SetActive(ctx, id, true)
}

// Deactivate disables an account.
func (s *userService) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := s.userRepo.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.logger.Info("User deactivated", zap.String("user_id", id.String()))
	return nil
}

// Delete removes an account permanently.
func (s *userService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.userRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("User deleted", zap.String("user_id", id.String()))
	return nil
}

// ChangePassword replaces the password after checking the current one.
func (s *userService) ChangePassword(ctx context.Context, id uuid.UUID, currentPassword, newPassword string) error {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(user.PasswordHash, currentPassword) {
		return apperrors.ErrWrongPassword
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.userRepo.UpdatePassword(ctx, id, hash)
}

func validateEmail(email string) (string, error) {
	email = models.NormalizeEmail(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperrors.Validation("invalid_email", "A valid email address is required")
	}
	return email, nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return apperrors.Validation("weak_password",
			fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > MaxPasswordLength {
		return apperrors.Validation("invalid_password",
			fmt.Sprintf("Password must be at most %d bytes", MaxPasswordLength))
	}
	return nil
}

func validateRoles(roles []models.Role) error {
	for _, r := range roles {
		if !models.IsValidRole(r) {
			return apperrors.Validation("invalid_role", fmt.Sprintf("Unknown role %q", r))
		}
	}
	return nil
}

func dedupeRoles(roles []models.Role) []models.Role {
	seen := make(map[models.Role]bool, len(roles))
	out := make([]models.Role, 0, len(roles))
	for _, r := range roles {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// Ensure userService implements UserService at compile time.
var _ UserService = (*userService)(nil)
