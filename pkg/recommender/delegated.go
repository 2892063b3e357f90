package recommender

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leafcare/leafcare-engine/pkg/jsonutil"
	"github.com/leafcare/leafcare-engine/pkg/llm"
	"github.com/leafcare/leafcare-engine/pkg/logging"
	"github.com/leafcare/leafcare-engine/pkg/models"
	"github.com/leafcare/leafcare-engine/pkg/prompts"
)

// PromptVersion identifies the prompt revision stamped on delegated records.
const PromptVersion = "prompt-v3"

// maxContextLength bounds grower-supplied context embedded in the prompt.
const maxContextLength = 1000

// DelegatedConfig tunes outbound calls.
type DelegatedConfig struct {
	// RequestsPerSecond paces calls to the provider. Zero disables pacing.
	RequestsPerSecond float64
	CircuitBreaker    llm.CircuitBreakerConfig
}

// DelegatedGenerator asks a language model for recommendation content.
// Calls are never retried.
type DelegatedGenerator struct {
	client  llm.LLMClient
	limiter *rate.Limiter
	breaker *llm.CircuitBreaker
	logger  *zap.Logger
}

// NewDelegatedGenerator creates a generator backed by client.
func NewDelegatedGenerator(client llm.LLMClient, cfg DelegatedConfig, logger *zap.Logger) *DelegatedGenerator {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := int(math.Ceil(cfg.RequestsPerSecond))
	if burst < 1 {
		burst = 1
	}

	return &DelegatedGenerator{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		breaker: llm.NewCircuitBreaker(client.GetProvider(), cfg.CircuitBreaker),
		logger:  logger.Named("delegated-generator"),
	}
}

// rawContent mirrors RecommendationContent with pointers so absent required
// fields can be told apart from zero values.
type rawContent struct {
	Disease               *string                    `json:"disease"`
	Confidence            *float64                   `json:"confidence"`
	Severity              *string                    `json:"severity"`
	ImmediateActions      []string                   `json:"immediateActions"`
	TreatmentSteps        []models.TreatmentStep     `json:"treatmentSteps"`
	PreventionMeasures    []models.PreventionMeasure `json:"preventionMeasures"`
	AdditionalNotes       jsonutil.FlexibleString    `json:"additionalNotes"`
	SourceReliability     *float64                   `json:"sourceReliability"`
	EstimatedRecoveryTime jsonutil.FlexibleString    `json:"estimatedRecoveryTime"`
}

// Generate calls the model once and validates its answer.
func (g *DelegatedGenerator) Generate(ctx context.Context, req Request) (*models.RecommendationContent, error) {
	start := time.Now()
	content, err := g.generate(ctx, req)

	outcome := "success"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	generateRequestsTotal.WithLabelValues(g.Name(), outcome).Inc()
	generateDuration.WithLabelValues(g.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		g.logger.Warn("Recommendation generation failed",
			zap.String("classification", req.Classification),
			zap.String("outcome", outcome),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}
	return content, nil
}

func (g *DelegatedGenerator) generate(ctx context.Context, req Request) (*models.RecommendationContent, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneratorRateLimited, err)
	}

	if err := g.breaker.Allow(); err != nil {
		return nil, mapLLMError(err)
	}

	result, err := g.client.GenerateJSON(ctx, prompts.RecommendationSystemPrompt, buildPrompt(req))
	g.breaker.Record(err)
	if err != nil {
		return nil, mapLLMError(err)
	}

	return parseContent(result.Content, req.Confidence)
}

func buildPrompt(req Request) string {
	return prompts.BuildRecommendationPrompt(prompts.RecommendationContext{
		Classification: req.Classification,
		Confidence:     models.Clamp01(req.Confidence),
		Healthy:        models.IsHealthyLabel(req.Classification),
		GrowerContext:  logging.TruncateString(strings.TrimSpace(req.Context), maxContextLength),
	})
}

// parseContent validates a model answer. disease, severity and
// immediateActions are required; confidence never exceeds the classifier's.
func parseContent(response string, classificationConfidence float64) (*models.RecommendationContent, error) {
	raw, err := llm.ParseJSONResponse[rawContent](response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var missing []string
	if raw.Disease == nil || strings.TrimSpace(*raw.Disease) == "" {
		missing = append(missing, "disease")
	}
	if raw.Severity == nil {
		missing = append(missing, "severity")
	}
	if raw.ImmediateActions == nil {
		missing = append(missing, "immediateActions")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedResponse, strings.Join(missing, ", "))
	}

	ceiling := models.Clamp01(classificationConfidence)
	confidence := ceiling
	if raw.Confidence != nil {
		confidence = math.Min(models.Clamp01(*raw.Confidence), ceiling)
	}

	reliability := 0.0
	if raw.SourceReliability != nil {
		reliability = *raw.SourceReliability
	}

	content := &models.RecommendationContent{
		Disease:               strings.TrimSpace(*raw.Disease),
		Confidence:            confidence,
		Severity:              models.Severity(*raw.Severity),
		ImmediateActions:      raw.ImmediateActions,
		TreatmentSteps:        raw.TreatmentSteps,
		PreventionMeasures:    raw.PreventionMeasures,
		AdditionalNotes:       raw.AdditionalNotes.String(),
		SourceReliability:     reliability,
		EstimatedRecoveryTime: raw.EstimatedRecoveryTime.String(),
	}
	models.NormalizeContent(content, ceiling)
	return content, nil
}

// mapLLMError converts provider failures into the three generator failure
// kinds. Malformed provider answers stay malformed.
func mapLLMError(err error) error {
	switch llm.GetErrorType(err) {
	case llm.ErrorTypeRateLimit:
		return fmt.Errorf("%w: %v", ErrGeneratorRateLimited, err)
	case llm.ErrorTypeAuth:
		return fmt.Errorf("%w: %v", ErrGeneratorUnauthenticated, err)
	case llm.ErrorTypeMalformed:
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	default:
		return fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrGeneratorRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrGeneratorUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	default:
		return "unavailable"
	}
}

// Health makes a minimal live call to the provider.
func (g *DelegatedGenerator) Health(ctx context.Context) error {
	if err := g.breaker.Allow(); err != nil {
		return mapLLMError(err)
	}
	_, err := g.client.GenerateJSON(ctx, "Reply with a JSON object.", `Return {"status":"ok"}.`)
	g.breaker.Record(err)
	if err != nil {
		return mapLLMError(err)
	}
	return nil
}

// Name returns provider:model.
func (g *DelegatedGenerator) Name() string {
	return g.client.GetProvider() + ":" + g.client.GetModel()
}

// Version returns the prompt revision.
func (g *DelegatedGenerator) Version() string {
	return PromptVersion
}

var _ Generator = (*DelegatedGenerator)(nil)
