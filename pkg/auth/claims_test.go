package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/leafcare/leafcare-engine/pkg/models"
)

func TestGetClaims_Present(t *testing.T) {
	claims := &Claims{Email: "a@example.com", Roles: []string{"FARMER"}}
	ctx := WithClaims(context.Background(), claims, "raw-token")

	got, ok := GetClaims(ctx)
	if !ok || got != claims {
		t.Fatal("expected claims from context")
	}
	token, ok := GetToken(ctx)
	if !ok || token != "raw-token" {
		t.Errorf("expected raw-token, got %q", token)
	}
}

func TestGetClaims_Missing(t *testing.T) {
	if _, ok := GetClaims(context.Background()); ok {
		t.Error("expected no claims in empty context")
	}
	if _, ok := GetToken(context.Background()); ok {
		t.Error("expected no token in empty context")
	}
}

func TestClaims_RoleList(t *testing.T) {
	claims := &Claims{Roles: []string{"farmer", "MANAGER"}}

	roles := claims.RoleList()
	if len(roles) != 2 || roles[0] != models.RoleFarmer || roles[1] != models.RoleManager {
		t.Errorf("unexpected roles %v", roles)
	}
}

func TestWithPrincipal_FilledByWithClaims(t *testing.T) {
	outer, principal := WithPrincipal(context.Background())
	inner := context.WithValue(outer, contextKey("other"), 1)

	WithClaims(inner, &Claims{Roles: []string{"ADMIN"}, RegisteredClaims: jwt.RegisteredClaims{Subject: "user-7"}}, "tok")

	if principal.UserID != "user-7" || len(principal.Roles) != 1 || principal.Roles[0] != "ADMIN" {
		t.Errorf("principal not filled: %+v", principal)
	}
	if _, ok := GetClaims(outer); ok {
		t.Error("outer context must not see claims")
	}
}
