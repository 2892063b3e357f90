package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/models"
	"github.com/leafcare/leafcare-engine/pkg/recommender"
	"github.com/leafcare/leafcare-engine/pkg/repositories"
	"github.com/leafcare/leafcare-engine/pkg/upload"
)

// mockUserRepository is an in-memory UserRepository.
type mockUserRepository struct {
	mu     sync.Mutex
	users  map[uuid.UUID]*models.User
	getErr error

	updateErr  error
	setActErr  error
	deleteErr  error
	listFilter models.UserFilter
	listLimit  int
	listSkip   int
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: make(map[uuid.UUID]*models.User)}
}

func (m *mockUserRepository) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Email = models.NormalizeEmail(user.Email)
	for _, u := range m.users {
		if u.Email == user.Email {
			return apperrors.ErrDuplicateEmail
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *mockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, u := range m.users {
		if u.Email == models.NormalizeEmail(email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repositories.ErrUserNotFound
}

func (m *mockUserRepository) List(ctx context.Context, filter models.UserFilter, limit, offset int) ([]*models.User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listFilter, m.listLimit, m.listSkip = filter, limit, offset
	out := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, int64(len(out)), nil
}

func (m *mockUserRepository) Update(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.users[user.ID]; !ok {
		return repositories.ErrUserNotFound
	}
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *mockUserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return m.mutate(id, func(u *models.User) { u.PasswordHash = passwordHash })
}

func (m *mockUserRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if m.setActErr != nil {
		return m.setActErr
	}
	return m.mutate(id, func(u *models.User) {
		u.IsActive = active
		if !active {
			u.RefreshTokenHash = nil
		}
	})
}

func (m *mockUserRepository) SetRefreshTokenHash(ctx context.Context, id uuid.UUID, hash *string) error {
	return m.mutate(id, func(u *models.User) { u.RefreshTokenHash = hash })
}

func (m *mockUserRepository) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return m.mutate(id, func(u *models.User) { u.LastLoginAt = &at })
}

func (m *mockUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.users[id]; !ok {
		return repositories.ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

func (m *mockUserRepository) mutate(id uuid.UUID, fn func(u *models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repositories.ErrUserNotFound
	}
	fn(u)
	return nil
}

func (m *mockUserRepository) stored(id uuid.UUID) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

// mockRecommendationRepository is an in-memory RecommendationRepository.
type mockRecommendationRepository struct {
	mu        sync.Mutex
	records   map[uuid.UUID]*models.Recommendation
	createErr error
	pingErr   error

	total    int64
	summary  []models.ClassificationStats
	avgs     map[repositories.NumericField]*float64
	groups   map[repositories.GroupField][]models.GroupCount
	aggErr   error
	listArgs struct {
		filter      models.RecommendationFilter
		limit, skip int
	}
}

func newMockRecommendationRepository() *mockRecommendationRepository {
	return &mockRecommendationRepository{records: make(map[uuid.UUID]*models.Recommendation)}
}

func (m *mockRecommendationRepository) Create(ctx context.Context, rec *models.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *mockRecommendationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, repositories.ErrRecommendationNotFound
	}
	return rec, nil
}

func (m *mockRecommendationRepository) List(ctx context.Context, filter models.RecommendationFilter, limit, skip int) ([]*models.Recommendation, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listArgs.filter, m.listArgs.limit, m.listArgs.skip = filter, limit, skip
	out := make([]*models.Recommendation, 0)
	for _, r := range m.records {
		out = append(out, r)
	}
	if skip >= len(out) {
		return []*models.Recommendation{}, m.total, nil
	}
	end := skip + limit
	if end > len(out) {
		end = len(out)
	}
	return out[skip:end], m.total, nil
}

func (m *mockRecommendationRepository) UpdateFeedback(ctx context.Context, id uuid.UUID, rating int, feedback *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return repositories.ErrRecommendationNotFound
	}
	rec.UserRating = &rating
	rec.UserFeedback = feedback
	return nil
}

func (m *mockRecommendationRepository) CountTotal(ctx context.Context) (int64, error) {
	return m.total, m.aggErr
}

func (m *mockRecommendationRepository) GroupCount(ctx context.Context, field repositories.GroupField) ([]models.GroupCount, error) {
	return m.groups[field], m.aggErr
}

func (m *mockRecommendationRepository) AverageWherePresent(ctx context.Context, field repositories.NumericField) (*float64, error) {
	return m.avgs[field], m.aggErr
}

func (m *mockRecommendationRepository) ClassificationSummary(ctx context.Context) ([]models.ClassificationStats, error) {
	return m.summary, m.aggErr
}

func (m *mockRecommendationRepository) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockRecommendationRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// mockClassifier records calls and answers from classifyFunc.
type mockClassifier struct {
	mu           sync.Mutex
	calls        int
	classifyFunc func(file *upload.File) (*models.PredictionResult, error)
	healthErr    error
	info         map[string]any
}

func (m *mockClassifier) Classify(ctx context.Context, file *upload.File, metadata map[string]string) (*models.PredictionResult, error) {
	m.mu.Lock()
	m.calls++
	fn := m.classifyFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(file)
	}
	return &models.PredictionResult{PredictedClass: models.ClassHealthy, Confidence: 0.9, ProcessingTimeMs: 40}, nil
}

func (m *mockClassifier) Health(ctx context.Context) error {
	return m.healthErr
}

func (m *mockClassifier) ModelInfo(ctx context.Context) (map[string]any, error) {
	return m.info, nil
}

func (m *mockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockFileRemover counts removals per file path.
type mockFileRemover struct {
	mu      sync.Mutex
	removed map[string]int
}

func newMockFileRemover() *mockFileRemover {
	return &mockFileRemover{removed: make(map[string]int)}
}

func (m *mockFileRemover) Remove(f *upload.File) {
	if f == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed[f.Path]++
}

func (m *mockFileRemover) count(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removed[path]
}

// mockGenerator is a configurable recommender.Generator.
type mockGenerator struct {
	content   *models.RecommendationContent
	err       error
	healthErr error
	calls     int
	lastReq   recommender.Request
}

func (m *mockGenerator) Generate(ctx context.Context, req recommender.Request) (*models.RecommendationContent, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	if m.content != nil {
		return m.content, nil
	}
	return &models.RecommendationContent{
		Disease:          "Angular Leaf Spot",
		Confidence:       req.Confidence,
		Severity:         models.SeverityForConfidence(req.Confidence),
		ImmediateActions: []string{"Remove infected leaves"},
	}, nil
}

func (m *mockGenerator) Health(ctx context.Context) error { return m.healthErr }
func (m *mockGenerator) Name() string                     { return "mock" }
func (m *mockGenerator) Version() string                  { return "mock-v1" }

// mockScreener rejects values listed in bad.
type mockScreener struct {
	bad   map[string]bool
	calls int
}

func (m *mockScreener) Screen(ctx context.Context, fields map[string]string) error {
	m.calls++
	for _, v := range fields {
		if m.bad[v] {
			return apperrors.ErrSuspiciousInput
		}
	}
	return nil
}

// mockSecurityEvents captures audit calls.
type mockSecurityEvents struct {
	mu              sync.Mutex
	loginFailures   []string
	refreshRejected []string
}

func (m *mockSecurityEvents) LogLoginFailure(ctx context.Context, email, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginFailures = append(m.loginFailures, reason)
}

func (m *mockSecurityEvents) LogRefreshRejected(ctx context.Context, subject, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshRejected = append(m.refreshRejected, reason)
}
