package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/logging"
	"github.com/leafcare/leafcare-engine/pkg/models"
	"github.com/leafcare/leafcare-engine/pkg/recommender"
	"github.com/leafcare/leafcare-engine/pkg/repositories"
)

// Free text limits.
const (
	maxContextLength  = 2000
	maxFeedbackLength = 2000
)

// healthProbeTimeout bounds each dependency probe in Health.
const healthProbeTimeout = 5 * time.Second

// TextScreener rejects free text that looks like an injection attempt.
type TextScreener interface {
	Screen(ctx context.Context, fields map[string]string) error
}

// GenerateInput is a request for new advice.
type GenerateInput struct {
	Classification string
	Confidence     float64
	SessionID      string
	Context        string
}

// GenerateResult reports a generation attempt. When Success is false nothing
// was stored and Message says why.
type GenerateResult struct {
	Success          bool                   `json:"success"`
	Message          string                 `json:"message,omitempty"`
	Recommendation   *models.Recommendation `json:"data,omitempty"`
	ProcessingTimeMs int64                  `json:"processingTimeMs"`
}

// RecommendationHealth reports the store and the active generator.
type RecommendationHealth struct {
	Healthy            bool   `json:"healthy"`
	StoreReachable     bool   `json:"storeReachable"`
	GeneratorReachable bool   `json:"generatorReachable"`
	Generator          string `json:"generator"`
}

// RecommendationService generates, stores and reports on recommendations.
type RecommendationService interface {
	// Generate runs the generator and stores its output. A generator failure
	// is a result with Success=false, not an error. Errors are reserved for
	// invalid input and storage failures.
	Generate(ctx context.Context, input GenerateInput) (*GenerateResult, error)
	List(ctx context.Context, filter models.RecommendationFilter, limit, skip int) (*models.Page[*models.Recommendation], error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recommendation, error)
	// SubmitFeedback overwrites any earlier rating. Concurrent submissions
	// for one record race and the last write wins.
	SubmitFeedback(ctx context.Context, id uuid.UUID, feedback models.Feedback) error
	Analytics(ctx context.Context) (*models.RecommendationAnalytics, error)
	Health(ctx context.Context) RecommendationHealth
}

type recommendationService struct {
	repo      repositories.RecommendationRepository
	generator recommender.Generator
	screener  TextScreener
	logger    *zap.Logger
}

// NewRecommendationService creates the service around the generator chosen
// at startup. screener may be nil.
func NewRecommendationService(
	repo repositories.RecommendationRepository,
	generator recommender.Generator,
	screener TextScreener,
	logger *zap.Logger,
) RecommendationService {
	return &recommendationService{
		repo:      repo,
		generator: generator,
		screener:  screener,
		logger:    logger.Named("recommendation-service"),
	}
}

func (s *recommendationService) Generate(ctx context.Context, input GenerateInput) (*GenerateResult, error) {
	input.Classification = strings.TrimSpace(input.Classification)
	input.SessionID = strings.TrimSpace(input.SessionID)
	input.Context = strings.TrimSpace(input.Context)

	switch {
	case input.Classification == "":
		return nil, apperrors.Validation("invalid_classification", "Classification is required")
	case input.Confidence < 0 || input.Confidence > 1:
		return nil, apperrors.Validation("invalid_confidence", "Confidence must be between 0 and 1")
	case input.SessionID == "":
		return nil, apperrors.Validation("invalid_session", "Session id is required")
	case len(input.Context) > maxContextLength:
		return nil, apperrors.Validation("invalid_context", "Context is too long")
	}
	if err := s.screen(ctx, map[string]string{"context": input.Context}); err != nil {
		return nil, err
	}

	start := time.Now()
	content, err := s.generator.Generate(ctx, recommender.Request{
		Classification: input.Classification,
		Confidence:     input.Confidence,
		Context:        input.Context,
	})
	if err != nil {
		_, msg := apperrors.Describe(err)
		s.logger.Warn("Recommendation generation failed",
			zap.String("session_id", input.SessionID),
			zap.String("generator", s.generator.Name()),
			zap.String("error", logging.SanitizeError(err)))
		return &GenerateResult{
			Success:          false,
			Message:          msg,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	rec := &models.Recommendation{
		SessionID:       input.SessionID,
		Classification:  input.Classification,
		Confidence:      input.Confidence,
		Content:         *content,
		Generator:       s.generator.Name(),
		TemplateVersion: s.generator.Version(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	elapsed := time.Since(start).Milliseconds()
	s.logger.Info("Recommendation generated",
		zap.String("recommendation_id", rec.ID.String()),
		zap.String("classification", rec.Classification),
		zap.String("severity", string(rec.Content.Severity)),
		zap.Int64("processing_time_ms", elapsed))

	return &GenerateResult{
		Success:          true,
		Message:          "Recommendation generated",
		Recommendation:   rec,
		ProcessingTimeMs: elapsed,
	}, nil
}

func (s *recommendationService) List(ctx context.Context, filter models.RecommendationFilter, limit, skip int) (*models.Page[*models.Recommendation], error) {
	limit = models.ClampLimit(limit)
	if skip < 0 {
		skip = 0
	}

	recs, total, err := s.repo.List(ctx, filter, limit, skip)
	if err != nil {
		return nil, err
	}
	return &models.Page[*models.Recommendation]{
		Records:    recs,
		Pagination: models.NewPagination(total, limit, skip),
	}, nil
}

func (s *recommendationService) GetByID(ctx context.Context, id uuid.UUID) (*models.Recommendation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *recommendationService) SubmitFeedback(ctx context.Context, id uuid.UUID, feedback models.Feedback) error {
	if feedback.Rating < 1 || feedback.Rating > 5 {
		return apperrors.Validation("invalid_rating", "Rating must be between 1 and 5")
	}
	if feedback.Feedback != nil {
		text := strings.TrimSpace(*feedback.Feedback)
		if len(text) > maxFeedbackLength {
			return apperrors.Validation("invalid_feedback", "Feedback is too long")
		}
		if err := s.screen(ctx, map[string]string{"feedback": text}); err != nil {
			return err
		}
		feedback.Feedback = &text
	}

	return s.repo.UpdateFeedback(ctx, id, feedback.Rating, feedback.Feedback)
}

// Analytics runs the named aggregations concurrently.
func (s *recommendationService) Analytics(ctx context.Context) (*models.RecommendationAnalytics, error) {
	var (
		total      int64
		summary    []models.ClassificationStats
		avgRating  *float64
		avgConf    *float64
		severity   []models.GroupCount
		generators []models.GroupCount
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		total, err = s.repo.CountTotal(gctx)
		return err
	})
	g.Go(func() (err error) {
		summary, err = s.repo.ClassificationSummary(gctx)
		return err
	})
	g.Go(func() (err error) {
		avgRating, err = s.repo.AverageWherePresent(gctx, repositories.FieldUserRating)
		return err
	})
	g.Go(func() (err error) {
		avgConf, err = s.repo.AverageWherePresent(gctx, repositories.FieldConfidence)
		return err
	})
	g.Go(func() (err error) {
		severity, err = s.repo.GroupCount(gctx, repositories.GroupBySeverity)
		return err
	})
	g.Go(func() (err error) {
		generators, err = s.repo.GroupCount(gctx, repositories.GroupByGenerator)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dist := make([]models.SeverityCount, 0, len(severity))
	for _, gc := range severity {
		dist = append(dist, models.SeverityCount{Severity: models.Severity(gc.Value), Count: gc.Count})
	}

	return &models.RecommendationAnalytics{
		TotalCount:            total,
		PerClassification:     summary,
		OverallAvgRating:      avgRating,
		OverallAvgConfidence:  avgConf,
		SeverityDistribution:  dist,
		GeneratorDistribution: generators,
	}, nil
}

func (s *recommendationService) Health(ctx context.Context) RecommendationHealth {
	health := RecommendationHealth{Generator: s.generator.Name()}

	storeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	if err := s.repo.Ping(storeCtx); err != nil {
		s.logger.Warn("Recommendation store unreachable", zap.String("error", logging.SanitizeError(err)))
	} else {
		health.StoreReachable = true
	}

	genCtx, cancelGen := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancelGen()
	if err := s.generator.Health(genCtx); err != nil {
		s.logger.Warn("Recommendation generator unreachable", zap.String("error", logging.SanitizeError(err)))
	} else {
		health.GeneratorReachable = true
	}

	health.Healthy = health.StoreReachable && health.GeneratorReachable
	return health
}

func (s *recommendationService) screen(ctx context.Context, fields map[string]string) error {
	if s.screener == nil {
		return nil
	}
	return s.screener.Screen(ctx, fields)
}

// Ensure recommendationService implements RecommendationService at compile time.
var _ RecommendationService = (*recommendationService)(nil)
