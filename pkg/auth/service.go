package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Request extraction errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
)

// Authenticator validates the credentials carried by an HTTP request.
type Authenticator interface {
	// ValidateRequest extracts a bearer access token from the Authorization
	// header and verifies it. Returns the claims and the raw token.
	ValidateRequest(r *http.Request) (*Claims, string, error)
}

// bearerAuthenticator implements Authenticator with a TokenIssuer.
type bearerAuthenticator struct {
	issuer *TokenIssuer
	logger *zap.Logger
}

// NewAuthenticator creates an Authenticator that verifies access tokens with issuer.
func NewAuthenticator(issuer *TokenIssuer, logger *zap.Logger) Authenticator {
	return &bearerAuthenticator{
		issuer: issuer,
		logger: logger,
	}
}

// ValidateRequest extracts and validates a JWT from the request.
func (a *bearerAuthenticator) ValidateRequest(r *http.Request) (*Claims, string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		a.logger.Debug("No JWT found in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, "", ErrMissingAuthorization
	}

	scheme, tokenString, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
		a.logger.Debug("Invalid Authorization header format",
			zap.String("path", r.URL.Path))
		return nil, "", ErrInvalidAuthFormat
	}

	claims, err := a.issuer.VerifyAccessToken(tokenString)
	if err != nil {
		a.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path))
		return nil, "", err
	}

	return claims, tokenString, nil
}

// Ensure bearerAuthenticator implements Authenticator at compile time.
var _ Authenticator = (*bearerAuthenticator)(nil)
