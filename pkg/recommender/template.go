package recommender

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/leafcare/leafcare-engine/pkg/models"
)

//go:embed templates.yaml
var templatesYAML []byte

// TemplateGeneratorName is stamped on records produced from templates.
const TemplateGeneratorName = "template"

type contentTemplate struct {
	DisplayName        string                     `yaml:"displayName"`
	ImmediateActions   []string                   `yaml:"immediateActions"`
	TreatmentSteps     []models.TreatmentStep     `yaml:"treatmentSteps"`
	PreventionMeasures []models.PreventionMeasure `yaml:"preventionMeasures"`
	AdditionalNotes    string                     `yaml:"additionalNotes"`
	SourceReliability  float64                    `yaml:"sourceReliability"`
	RecoveryTime       map[models.Severity]string `yaml:"recoveryTime"`
}

type templateSet struct {
	Version  string                     `yaml:"version"`
	Healthy  contentTemplate            `yaml:"healthy"`
	Diseases map[string]contentTemplate `yaml:"diseases"`
	Fallback contentTemplate            `yaml:"fallback"`
}

func parseTemplates(data []byte) (*templateSet, error) {
	var set templateSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse recommendation templates: %w", err)
	}
	if set.Version == "" {
		return nil, fmt.Errorf("recommendation templates have no version")
	}
	if len(set.Healthy.ImmediateActions) == 0 || len(set.Fallback.ImmediateActions) == 0 {
		return nil, fmt.Errorf("recommendation templates missing healthy or fallback content")
	}
	return &set, nil
}

// TemplateGenerator returns canned content. It never fails.
type TemplateGenerator struct {
	templates *templateSet
	latency   time.Duration
	logger    *zap.Logger
}

// NewTemplateGenerator loads the embedded templates. latency is added to
// every call to mimic a remote generator.
func NewTemplateGenerator(latency time.Duration, logger *zap.Logger) (*TemplateGenerator, error) {
	set, err := parseTemplates(templatesYAML)
	if err != nil {
		return nil, err
	}
	return &TemplateGenerator{
		templates: set,
		latency:   latency,
		logger:    logger.Named("template-generator"),
	}, nil
}

// Generate builds content for req. Unhealthy classifications get a severity
// derived from confidence; healthy ones are always mild.
func (g *TemplateGenerator) Generate(ctx context.Context, req Request) (*models.RecommendationContent, error) {
	start := time.Now()
	defer func() {
		generateRequestsTotal.WithLabelValues(TemplateGeneratorName, "success").Inc()
		generateDuration.WithLabelValues(TemplateGeneratorName).Observe(time.Since(start).Seconds())
	}()

	if g.latency > 0 {
		timer := time.NewTimer(g.latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			// Still answer; templates have no failure mode.
			timer.Stop()
		}
	}

	confidence := models.Clamp01(req.Confidence)

	var tmpl contentTemplate
	var severity models.Severity
	if models.IsHealthyLabel(req.Classification) {
		tmpl = g.templates.Healthy
		severity = models.SeverityMild
	} else {
		tmpl = g.templateFor(req.Classification)
		severity = models.SeverityForConfidence(confidence)
	}

	disease := tmpl.DisplayName
	if disease == "" {
		disease = displayName(req.Classification)
	}

	fill := strings.NewReplacer(
		"{disease}", disease,
		"{confidence}", fmt.Sprintf("%.0f%%", confidence*100),
	)

	content := &models.RecommendationContent{
		Disease:               disease,
		Confidence:            confidence,
		Severity:              severity,
		ImmediateActions:      append([]string(nil), tmpl.ImmediateActions...),
		TreatmentSteps:        append([]models.TreatmentStep(nil), tmpl.TreatmentSteps...),
		PreventionMeasures:    append([]models.PreventionMeasure(nil), tmpl.PreventionMeasures...),
		AdditionalNotes:       fill.Replace(tmpl.AdditionalNotes),
		SourceReliability:     tmpl.SourceReliability,
		EstimatedRecoveryTime: tmpl.RecoveryTime[severity],
	}
	models.NormalizeContent(content, confidence)

	g.logger.Debug("Generated recommendation from template",
		zap.String("classification", req.Classification),
		zap.String("severity", string(content.Severity)))

	return content, nil
}

func (g *TemplateGenerator) templateFor(classification string) contentTemplate {
	key := strings.ToLower(strings.TrimSpace(classification))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if tmpl, ok := g.templates.Diseases[key]; ok {
		return tmpl
	}
	return g.templates.Fallback
}

// displayName turns a label like "angular_leaf_spot" into "Angular Leaf Spot".
func displayName(label string) string {
	words := strings.FieldsFunc(label, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, w := range words {
		first, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(first)) + strings.ToLower(w[size:])
	}
	if len(words) == 0 {
		return "Unknown"
	}
	return strings.Join(words, " ")
}

// Health always succeeds.
func (g *TemplateGenerator) Health(ctx context.Context) error {
	return nil
}

// Name implements Generator.
func (g *TemplateGenerator) Name() string {
	return TemplateGeneratorName
}

// Version returns the template set version.
func (g *TemplateGenerator) Version() string {
	return g.templates.Version
}

var _ Generator = (*TemplateGenerator)(nil)
