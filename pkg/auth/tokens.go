package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/config"
	"github.com/leafcare/leafcare-engine/pkg/models"
)

// Token verification errors.
var (
	ErrTokenExpired = apperrors.New(apperrors.ErrUnauthorized, "token_expired", "Token has expired")
	ErrTokenInvalid = apperrors.ErrInvalidToken
)

// TokenIssuer signs and verifies HS256 tokens. Access and refresh tokens use
// different secrets so one can never be accepted as the other.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// NewTokenIssuer creates a TokenIssuer from auth configuration.
func NewTokenIssuer(cfg *config.AuthConfig) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		issuer:        cfg.Issuer,
		now:           time.Now,
	}
}

// AccessTTL is the lifetime of access tokens, reported to clients as expiresIn.
func (i *TokenIssuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// IssueAccessToken signs an access token for user.
func (i *TokenIssuer) IssueAccessToken(user *models.User) (string, error) {
	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
		Email: user.Email,
		Roles: models.RoleStrings(user.Roles),
		Type:  TokenTypeAccess,
	}
	if user.TenantID != nil {
		claims.TenantID = *user.TenantID
	}
	return i.sign(claims, i.accessSecret)
}

// IssueRefreshToken signs a refresh token for userID. Each token carries a
// random id so two tokens issued in the same second still differ.
func (i *TokenIssuer) IssueRefreshToken(userID uuid.UUID) (string, error) {
	now := i.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL)),
		},
		Type: TokenTypeRefresh,
	}
	return i.sign(claims, i.refreshSecret)
}

// VerifyAccessToken parses and validates an access token.
func (i *TokenIssuer) VerifyAccessToken(token string) (*Claims, error) {
	return i.verify(token, i.accessSecret, TokenTypeAccess)
}

// VerifyRefreshToken parses and validates a refresh token.
func (i *TokenIssuer) VerifyRefreshToken(token string) (*Claims, error) {
	return i.verify(token, i.refreshSecret, TokenTypeRefresh)
}

func (i *TokenIssuer) sign(claims *Claims, secret []byte) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (i *TokenIssuer) verify(token string, secret []byte, want TokenType) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if claims.Type != want || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// HashToken returns the hex SHA-256 of a token. Only this hash is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
