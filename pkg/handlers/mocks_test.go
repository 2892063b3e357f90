package handlers

import (
	"context"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leafcare/leafcare-engine/pkg/auth"
	"github.com/leafcare/leafcare-engine/pkg/models"
	"github.com/leafcare/leafcare-engine/pkg/services"
	"github.com/leafcare/leafcare-engine/pkg/upload"
)

// mockAuthenticator accepts any request that carries an Authorization header
// and returns the configured claims.
type mockAuthenticator struct {
	claims *auth.Claims
	token  string
	err    error
}

func (m *mockAuthenticator) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	if r.Header.Get("Authorization") == "" {
		return nil, "", auth.ErrMissingAuthorization
	}
	if m.err != nil {
		return nil, "", m.err
	}
	return m.claims, m.token, nil
}

var _ auth.Authenticator = (*mockAuthenticator)(nil)

// newTestClaims builds access claims for a caller with roles.
func newTestClaims(userID uuid.UUID, roles ...models.Role) *auth.Claims {
	claims := &auth.Claims{
		Email: "caller@example.com",
		Roles: models.RoleStrings(roles),
		Type:  auth.TokenTypeAccess,
	}
	claims.Subject = userID.String()
	return claims
}

// newTestAuthMiddleware authenticates every request with an Authorization
// header as a caller holding roles.
func newTestAuthMiddleware(userID uuid.UUID, roles ...models.Role) *auth.Middleware {
	return auth.NewMiddleware(&mockAuthenticator{
		claims: newTestClaims(userID, roles...),
		token:  "test-token",
	}, nil, zap.NewNop())
}

// mockAuthService records calls and returns canned results.
type mockAuthService struct {
	result      *services.AuthResult
	tokens      *services.TokenPair
	user        *models.User
	err         error
	callerRoles []models.Role
	input       services.CreateUserInput
	loggedOut   uuid.UUID
	refreshed   string
}

func (m *mockAuthService) Register(ctx context.Context, input services.CreateUserInput, callerRoles []models.Role) (*services.AuthResult, error) {
	m.input = input
	m.callerRoles = callerRoles
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*services.AuthResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockAuthService) Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error) {
	m.refreshed = refreshToken
	if m.err != nil {
		return nil, m.err
	}
	return m.tokens, nil
}

func (m *mockAuthService) Logout(ctx context.Context, userID uuid.UUID) error {
	m.loggedOut = userID
	return m.err
}

func (m *mockAuthService) Profile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.user, nil
}

var _ services.AuthService = (*mockAuthService)(nil)

// mockUserService records the last call's arguments.
type mockUserService struct {
	user   *models.User
	page   *models.Page[*models.User]
	err    error
	calls  []string
	id     uuid.UUID
	create services.CreateUserInput
	update services.UpdateUserInput
	filter models.UserFilter
	limit  int
	skip   int
}

func (m *mockUserService) CreateUser(ctx context.Context, input services.CreateUserInput) (*models.User, error) {
	m.calls = append(m.calls, "create")
	m.create = input
	if m.err != nil {
		return nil, m.err
	}
	return m.user, nil
}

func (m *mockUserService) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.calls = append(m.calls, "get")
	m.id = id
	if m.err != nil {
		return nil, m.err
	}
	return m.user, nil
}

func (m *mockUserService) List(ctx context.Context, filter models.UserFilter, limit, skip int) (*models.Page[*models.User], error) {
	m.calls = append(m.calls, "list")
	m.filter, m.limit, m.skip = filter, limit, skip
	if m.err != nil {
		return nil, m.err
	}
	return m.page, nil
}

func (m *mockUserService) Update(ctx context.Context, id uuid.UUID, input services.UpdateUserInput) (*models.User, error) {
	m.calls = append(m.calls, "update")
	m.id, m.update = id, input
	if m.err != nil {
		return nil, m.err
	}
	return m.user, nil
}

func (m *mockUserService) Activate(ctx context.Context, id uuid.UUID) error {
	m.calls = append(m.calls, "activate")
	m.id = id
	return m.err
}

func (m *mockUserService) Deactivate(ctx context.Context, id uuid.UUID) error {
	m.calls = append(m.calls, "deactivate")
	m.id = id
	return m.err
}

func (m *mockUserService) Delete(ctx context.Context, id uuid.UUID) error {
	m.calls = append(m.calls, "delete")
	m.id = id
	return m.err
}

func (m *mockUserService) ChangePassword(ctx context.Context, id uuid.UUID, currentPassword, newPassword string) error {
	m.calls = append(m.calls, "change-password")
	m.id = id
	return m.err
}

var _ services.UserService = (*mockUserService)(nil)

// mockClassificationService removes every file it receives, like the real one.
type mockClassificationService struct {
	uploads    Uploads
	prediction *models.PredictionResult
	batch      []services.BatchItemResult
	withRecs   *services.ClassifyWithRecommendationsResult
	health     services.ClassifierHealth
	stats      services.ClassificationStats
	formats    services.SupportedFormats
	err        error

	mu        sync.Mutex
	received  []*upload.File
	metadata  map[string]string
	sessionID string
	context   string
}

func (m *mockClassificationService) take(files ...*upload.File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, files...)
	for _, f := range files {
		m.uploads.Remove(f)
	}
}

func (m *mockClassificationService) Classify(ctx context.Context, file *upload.File, metadata map[string]string) (*models.PredictionResult, error) {
	m.take(file)
	m.metadata = metadata
	if m.err != nil {
		return nil, m.err
	}
	return m.prediction, nil
}

func (m *mockClassificationService) ClassifyBatch(ctx context.Context, files []*upload.File) ([]services.BatchItemResult, error) {
	m.take(files...)
	if m.err != nil {
		return nil, m.err
	}
	return m.batch, nil
}

func (m *mockClassificationService) ClassifyWithRecommendations(ctx context.Context, file *upload.File, sessionID, context string) (*services.ClassifyWithRecommendationsResult, error) {
	m.take(file)
	m.sessionID, m.context = sessionID, context
	if m.err != nil {
		return nil, m.err
	}
	return m.withRecs, nil
}

func (m *mockClassificationService) Health(ctx context.Context) services.ClassifierHealth {
	return m.health
}

func (m *mockClassificationService) Stats() services.ClassificationStats {
	return m.stats
}

func (m *mockClassificationService) SupportedFormats() services.SupportedFormats {
	return m.formats
}

var _ services.ClassificationService = (*mockClassificationService)(nil)

// recordingUploads wraps a TempStore and counts removals.
type recordingUploads struct {
	store   *upload.TempStore
	saveErr error

	mu      sync.Mutex
	saved   []*upload.File
	removed int
}

func (u *recordingUploads) Save(fh *multipart.FileHeader) (*upload.File, error) {
	if u.saveErr != nil && len(u.saved) > 0 {
		return nil, u.saveErr
	}
	f, err := u.store.Save(fh)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	u.saved = append(u.saved, f)
	u.mu.Unlock()
	return f, nil
}

func (u *recordingUploads) Remove(f *upload.File) {
	u.mu.Lock()
	u.removed++
	u.mu.Unlock()
	u.store.Remove(f)
}

// mockRecommendationService returns canned results.
type mockRecommendationService struct {
	result    *services.GenerateResult
	rec       *models.Recommendation
	page      *models.Page[*models.Recommendation]
	analytics *models.RecommendationAnalytics
	health    services.RecommendationHealth
	err       error

	input    services.GenerateInput
	filter   models.RecommendationFilter
	limit    int
	skip     int
	id       uuid.UUID
	feedback models.Feedback
}

func (m *mockRecommendationService) Generate(ctx context.Context, input services.GenerateInput) (*services.GenerateResult, error) {
	m.input = input
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockRecommendationService) List(ctx context.Context, filter models.RecommendationFilter, limit, skip int) (*models.Page[*models.Recommendation], error) {
	m.filter, m.limit, m.skip = filter, limit, skip
	if m.err != nil {
		return nil, m.err
	}
	return m.page, nil
}

func (m *mockRecommendationService) GetByID(ctx context.Context, id uuid.UUID) (*models.Recommendation, error) {
	m.id = id
	if m.err != nil {
		return nil, m.err
	}
	return m.rec, nil
}

func (m *mockRecommendationService) SubmitFeedback(ctx context.Context, id uuid.UUID, feedback models.Feedback) error {
	m.id, m.feedback = id, feedback
	return m.err
}

func (m *mockRecommendationService) Analytics(ctx context.Context) (*models.RecommendationAnalytics, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.analytics, nil
}

func (m *mockRecommendationService) Health(ctx context.Context) services.RecommendationHealth {
	return m.health
}

var _ services.RecommendationService = (*mockRecommendationService)(nil)
