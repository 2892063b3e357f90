package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/auth"
	"github.com/leafcare/leafcare-engine/pkg/models"
	"github.com/leafcare/leafcare-engine/pkg/repositories"
)

func testHasher() *auth.PasswordHasher {
	return auth.NewPasswordHasher(bcrypt.MinCost)
}

func newTestUserService(repo *mockUserRepository) UserService {
	return NewUserService(repo, testHasher(), zap.NewNop())
}

func validUserInput() CreateUserInput {
	return CreateUserInput{
		Name:     "Amina Farmer",
		Email:    "Amina@Example.com",
		Password: "correct-horse",
	}
}

func TestUserService_CreateUser_DefaultsToFarmer(t *testing.T) {
	repo := newMockUserRepository()
	service := newTestUserService(repo)

	user, err := service.CreateUser(context.Background(), validUserInput())
	require.NoError(t, err)

	assert.Equal(t, []models.Role{models.RoleFarmer}, user.Roles)
	assert.Equal(t, "amina@example.com", user.Email)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "correct-horse", user.PasswordHash)
	assert.True(t, testHasher().Verify(user.PasswordHash, "correct-horse"))
}

func TestUserService_CreateUser_WithRoles(t *testing.T) {
	repo := newMockUserRepository()
	service := newTestUserService(repo)

	input := validUserInput()
	input.Roles = []models.Role{models.RoleManager, models.RoleManager, models.RoleAdmin}
	tenant := "coop-1"
	input.TenantID = &tenant

	user, err := service.CreateUser(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, []models.Role{models.RoleManager, models.RoleAdmin}, user.Roles)
	require.NotNil(t, user.TenantID)
	assert.Equal(t, "coop-1", *user.TenantID)
}

func TestUserService_CreateUser_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *CreateUserInput)
		code   string
	}{
		{"missing name", func(in *CreateUserInput) { in.Name = "  " }, "invalid_name"},
		{"bad email", func(in *CreateUserInput) { in.Email = "not-an-email" }, "invalid_email"},
		{"display name email", func(in *CreateUserInput) { in.Email = "Amina <a@b.co>" }, "invalid_email"},
		{"short password", func(in *CreateUserInput) { in.Password = "short" }, "weak_password"},
		{"unknown role", func(in *CreateUserInput) { in.Roles = []models.Role{"OWNER"} }, "invalid_role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockUserRepository()
			service := newTestUserService(repo)

			input := validUserInput()
			tt.mutate(&input)
			_, err := service.CreateUser(context.Background(), input)

			require.ErrorIs(t, err, apperrors.ErrValidation)
			code, _ := apperrors.Describe(err)
			assert.Equal(t, tt.code, code)
			assert.Empty(t, repo.users, "nothing is stored on validation failure")
		})
	}
}

func TestUserService_CreateUser_DuplicateEmail(t *testing.T) {
	repo := newMockUserRepository()
	service := newTestUserService(repo)

	first, err := service.CreateUser(context.Background(), validUserInput())
	require.NoError(t, err)

	input := validUserInput()
	input.Name = "Someone Else"
	input.Email = "amina@example.com"
	_, err = service.CreateUser(context.Background(), input)

	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, "Amina Farmer", repo.stored(first.ID).Name, "first user unaffected")
}

func TestUserService_List_ClampsPaging(t *testing.T) {
	repo := newMockUserRepository()
	service := newTestUserService(repo)

	page, err := service.List(context.Background(), models.UserFilter{}, 500, -3)
	require.NoError(t, err)

	assert.Equal(t, models.MaxPageLimit, repo.listLimit)
	assert.Equal(t, 0, repo.listSkip)
	assert.Equal(t, 1, page.Pagination.Page)
}

func TestUserService_List_InvalidRoleFilter(t *testing.T) {
	service := newTestUserService(newMockUserRepository())
	role := models.Role("OWNER")

	_, err := service.List(context.Background(), models.UserFilter{Role: &role}, 10, 0)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestUserService_Update(t *testing.T) {
	repo := newMockUserRepository()
	service := newTestUserService(repo)
	user, err := service.CreateUser(context.Background(), validUserInput())
	require.NoError(t, err)

	name := "Amina K."
	empty := ""
	updated, err := service.Update(context.Background(), user.ID, UpdateUserInput{
		Name:     &name,
		Roles:    []models.Role{models.RoleManager},
		TenantID: &empty,
	})
	require.NoError(t, err)

	assert.Equal(t, "Amina K.", updated.Name)
	assert.Equal(t, []models.Role{models.RoleManager}, updated.Roles)
	assert.Nil(t, updated.TenantID)
	assert.Equal(t, "amina@example.com", updated.Email, "email untouched")
}

func TestUserService_Update_RejectsEmptyRoles(t *testing.T) {
	repo := newMockUserRepository()
	service := newTestUserService(repo)
	user, err := service.CreateUser(context.Background(), validUserInput())
	require.NoError(t, err)

	_, err = service.Update(context.Background(), user.ID, UpdateUserInput{Roles: []models.Role{}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestUserService_Update_LastAdmin(t *testing.T) {
	repo := newMockUserRepository()
	repo.updateErr = apperrors.ErrLastAdmin
	service := newTestUserService(repo)
	input := validUserInput()
	input.Roles = []models.Role{models.RoleAdmin}
	user, err := service.CreateUser(context.Background(), input)
	require.NoError(t, err)

	_, err = service.Update(context.Background(), user.ID, UpdateUserInput{Roles: []models.Role{models.RoleFarmer}})
	assert.ErrorIs(t, err, apperrors.ErrLastAdmin)
}

func TestUserService_Update_NotFound(t *testing.T) {
	service := newTestUserService(newMockUserRepository())

	_, err := service.Update(context.Background(), uuid.New(), UpdateUserInput{})
	assert.ErrorIs(t, err, repositories.ErrUserNotFound)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUserService_DeactivateAndActivate(t *testing.T) {
	repo := newMockUserRepository()
	service := newTestUserService(repo)
	user, err := service.CreateUser(context.Background(), validUserInput())
	require.NoError(t, err)
	hash := "stored"
	repo.stored(user.ID).RefreshTokenHash = &hash

	require.NoError(t, service.Deactivate(context.Background(), user.ID))
	assert.False(t, repo.stored(user.ID).IsActive)
	assert.Nil(t, repo.stored(user.ID).RefreshTokenHash)

	require.NoError(t, service.Activate(context.Background(), user.ID))
	assert.True(t, repo.stored(user.ID).IsActive)
}

func TestUserService_Delete(t *testing.T) {
	repo := newMockUserRepository()
	service := newTestUserService(repo)
	user, err := service.CreateUser(context.Background(), validUserInput())
	require.NoError(t, err)

	require.NoError(t, service.Delete(context.Background(), user.ID))
	assert.Nil(t, repo.stored(user.ID))

	assert.ErrorIs(t, service.Delete(context.Background(), user.ID), apperrors.ErrNotFound)
}

func TestUserService_ChangePassword(t *testing.T) {
	repo := newMockUserRepository()
	service := newTestUserService(repo)
	user, err := service.CreateUser(context.Background(), validUserInput())
	require.NoError(t, err)

	err = service.ChangePassword(context.Background(), user.ID, "wrong-password", "new-password-1")
	assert.ErrorIs(t, err, apperrors.ErrWrongPassword)

	err = service.ChangePassword(context.Background(), user.ID, "correct-horse", "short")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, service.ChangePassword(context.Background(), user.ID, "correct-horse", "new-password-1"))
	assert.True(t, testHasher().Verify(repo.stored(user.ID).PasswordHash, "new-password-1"))
}
