// Package recommender produces treatment and prevention advice for a leaf
// classification. Two generators share one contract: a deterministic
// template generator and a generator delegating to a hosted language model.
package recommender

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/leafcare/leafcare-engine/pkg/apperrors"
	"github.com/leafcare/leafcare-engine/pkg/config"
	"github.com/leafcare/leafcare-engine/pkg/llm"
	"github.com/leafcare/leafcare-engine/pkg/models"
)

// Generation failures. All of them are reported to callers as a failed
// result, never persisted.
var (
	ErrMalformedResponse        = apperrors.New(apperrors.ErrUpstreamFailed, "generator_malformed_response", "Recommendation service returned an unusable response")
	ErrGeneratorRateLimited     = apperrors.New(apperrors.ErrUpstreamUnavailable, "generator_rate_limited", "Recommendation service is rate limited, try again later")
	ErrGeneratorUnauthenticated = apperrors.New(apperrors.ErrUpstreamUnavailable, "generator_unauthenticated", "Recommendation service rejected its credentials")
	ErrGeneratorUnavailable     = apperrors.New(apperrors.ErrUpstreamUnavailable, "generator_unavailable", "Recommendation service is unavailable")
)

// Request is the input to a generator.
type Request struct {
	Classification string
	Confidence     float64
	// Context is optional free text from the grower.
	Context string
}

// Generator produces recommendation content for a classification.
type Generator interface {
	Generate(ctx context.Context, req Request) (*models.RecommendationContent, error)
	// Health reports whether the generator can currently produce content.
	Health(ctx context.Context) error
	// Name identifies the generator on stored records.
	Name() string
	// Version identifies the template set or prompt revision.
	Version() string
}

// New selects the generator once for the life of the process. Templates are
// used when mock mode is on or no API key is configured.
func New(cfg *config.GeneratorConfig, logger *zap.Logger) (Generator, error) {
	if cfg.UseTemplates() {
		logger.Info("Using template recommendation generator", zap.Bool("mock", cfg.Mock))
		return NewTemplateGenerator(cfg.TemplateLatency, logger)
	}

	client, err := llm.NewClient(&llm.Config{
		Provider:    cfg.Provider,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	logger.Info("Using delegated recommendation generator",
		zap.String("provider", client.GetProvider()),
		zap.String("model", client.GetModel()))

	return NewDelegatedGenerator(client, DelegatedConfig{
		RequestsPerSecond: cfg.RequestsPerSecond,
		CircuitBreaker:    llm.DefaultCircuitBreakerConfig(),
	}, logger), nil
}
