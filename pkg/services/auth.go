package services

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/auth"
	"github.com/leafcare/leafcare-engine/pkg/models"
	"github.com/leafcare/leafcare-engine/pkg/repositories"
)

// ErrAccountInactive rejects a correct password on a deactivated account. It
// is a different value from ErrInvalidCredentials but reads the same to
// clients so account state cannot be probed.
var ErrAccountInactive = apperrors.New(apperrors.ErrUnauthorized,
	apperrors.ErrInvalidCredentials.Code, apperrors.ErrInvalidCredentials.Message)

// SecurityEvents receives authentication failures for auditing.
type SecurityEvents interface {
	LogLoginFailure(ctx context.Context, email, reason string)
	LogRefreshRejected(ctx context.Context, subject, reason string)
}

// TokenPair is the credential set returned on login, registration and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"` // access token lifetime in seconds
}

// AuthResult is a user together with fresh tokens.
type AuthResult struct {
	User   *models.User `json:"user"`
	Tokens *TokenPair   `json:"tokens"`
}

// AuthService handles account registration and the token lifecycle.
type AuthService interface {
	// Register creates an account. Roles are only honored when callerRoles
	// include ADMIN; everyone else gets FARMER.
	Register(ctx context.Context, input CreateUserInput, callerRoles []models.Role) (*AuthResult, error)
	Login(ctx context.Context, email, password string) (*AuthResult, error)
	// Refresh exchanges a refresh token for a new pair. The presented token
	// must match the one stored for its subject and is rotated.
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	// Logout revokes the stored refresh token.
	Logout(ctx context.Context, userID uuid.UUID) error
	Profile(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

type authService struct {
	userRepo  repositories.UserRepository
	hasher    *auth.PasswordHasher
	tokens    *auth.TokenIssuer
	events    SecurityEvents
	dummyHash string
	now       func() time.Time
	logger    *zap.Logger
}

// NewAuthService creates an auth service. events may be nil.
func NewAuthService(
	userRepo repositories.UserRepository,
	hasher *auth.PasswordHasher,
	tokens *auth.TokenIssuer,
	events SecurityEvents,
	logger *zap.Logger,
) (AuthService, error) {
	// Unknown emails are checked against this hash so they cost as much as real ones.
	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = noopSecurityEvents{}
	}
	return &authService{
		userRepo:  userRepo,
		hasher:    hasher,
		tokens:    tokens,
		events:    events,
		dummyHash: dummy,
		now:       time.Now,
		logger:    logger.Named("auth-service"),
	}, nil
}

func (s *authService) Register(ctx context.Context, input CreateUserInput, callerRoles []models.Role) (*AuthResult, error) {
	if auth.Check([]models.Role{models.RoleAdmin}, callerRoles) != nil {
		input.Roles = []models.Role{models.RoleFarmer}
	}

	user, err := createUser(ctx, s.userRepo, s.hasher, input)
	if err != nil {
		return nil, err
	}

	tokens, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info("User registered",
		zap.String("user_id", user.ID.String()),
		zap.Strings("roles", models.RoleStrings(user.Roles)))
	return &AuthResult{User: user, Tokens: tokens}, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		s.hasher.Verify(s.dummyHash, password)
		s.events.LogLoginFailure(ctx, email, "unknown_email")
		return nil, apperrors.ErrInvalidCredentials
	}

	if !s.hasher.Verify(user.PasswordHash, password) {
		s.events.LogLoginFailure(ctx, email, "wrong_password")
		return nil, apperrors.ErrInvalidCredentials
	}

	if !user.IsActive {
		s.events.LogLoginFailure(ctx, email, "account_inactive")
		return nil, ErrAccountInactive
	}

	tokens, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.userRepo.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("Failed to record last login",
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	return &AuthResult{User: user, Tokens: tokens}, nil
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	reject := func(subject, reason string) (*TokenPair, error) {
		s.events.LogRefreshRejected(ctx, subject, reason)
		return nil, apperrors.ErrInvalidRefreshToken
	}

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return reject("", "invalid_token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return reject(claims.Subject, "invalid_subject")
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return reject(claims.Subject, "unknown_user")
		}
		return nil, err
	}
	if !user.IsActive {
		return reject(claims.Subject, "account_inactive")
	}
	if user.RefreshTokenHash == nil {
		return reject(claims.Subject, "revoked")
	}
	presented := auth.HashToken(refreshToken)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(*user.RefreshTokenHash)) != 1 {
		return reject(claims.Subject, "hash_mismatch")
	}

	return s.issue(ctx, user)
}

func (s *authService) Logout(ctx context.Context, userID uuid.UUID) error {
	if err := s.userRepo.SetRefreshTokenHash(ctx, userID, nil); err != nil {
		return err
	}
	s.logger.Info("User logged out", zap.String("user_id", userID.String()))
	return nil
}

func (s *authService) Profile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

// issue signs a new token pair and stores the refresh token hash, replacing
// any previous one.
func (s *authService) issue(ctx context.Context, user *models.User) (*TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}

	hash := auth.HashToken(refresh)
	if err := s.userRepo.SetRefreshTokenHash(ctx, user.ID, &hash); err != nil {
		return nil, err
	}
	user.RefreshTokenHash = &hash

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}, nil
}

type noopSecurityEvents struct{}

func (noopSecurityEvents) LogLoginFailure(context.Context, string, string)    {}
func (noopSecurityEvents) LogRefreshRejected(context.Context, string, string) {}

// Ensure authService implements AuthService at compile time.
var _ AuthService = (*authService)(nil)
