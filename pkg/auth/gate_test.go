package auth

import (
	"errors"
	"testing"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/models"
)

func TestCheck(t *testing.T) {
	farmer := []models.Role{models.RoleFarmer}
	manager := []models.Role{models.RoleManager}
	admin := []models.Role{models.RoleAdmin}
	staff := []models.Role{models.RoleManager, models.RoleAdmin}

	tests := []struct {
		name     string
		required []models.Role
		caller   []models.Role
		allowed  bool
	}{
		{"empty required admits anyone", nil, farmer, true},
		{"empty required admits caller without roles", nil, nil, true},
		{"exact match", farmer, farmer, true},
		{"intersection", staff, manager, true},
		{"multi-role caller", admin, []models.Role{models.RoleFarmer, models.RoleAdmin}, true},
		{"no intersection", staff, farmer, false},
		{"caller without roles", admin, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.required, tt.caller)
			if tt.allowed && err != nil {
				t.Errorf("expected allowed, got %v", err)
			}
			if !tt.allowed {
				if err == nil {
					t.Fatal("expected forbidden")
				}
				if !errors.Is(err, apperrors.ErrForbidden) {
					t.Errorf("expected forbidden kind, got %v", err)
				}
			}
		})
	}
}
