package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity of a diagnosed disease.
type Severity string

// Severity constants.
const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Priority of a prevention measure.
type Priority string

// Priority constants.
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// IsValid reports whether s is one of the enumerated severities.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityMild, SeverityModerate, SeveritySevere:
		return true
	default:
		return false
	}
}

// IsValid reports whether p is one of the enumerated priorities.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// SeverityForConfidence derives severity from classifier confidence for an
// unhealthy leaf: above 0.8 is moderate, above 0.6 is mild, anything else severe.
func SeverityForConfidence(confidence float64) Severity {
	switch {
	case confidence > 0.8:
		return SeverityModerate
	case confidence > 0.6:
		return SeverityMild
	default:
		return SeveritySevere
	}
}

// TreatmentStep is one ordered step of a treatment plan.
type TreatmentStep struct {
	Step        int      `json:"step" yaml:"step"`
	Action      string   `json:"action" yaml:"action"`
	Description string   `json:"description" yaml:"description"`
	Materials   []string `json:"materials,omitempty" yaml:"materials,omitempty"`
	Duration    string   `json:"duration,omitempty" yaml:"duration,omitempty"`
	Precautions []string `json:"precautions,omitempty" yaml:"precautions,omitempty"`
}

// PreventionMeasure is a recurring practice that reduces reinfection risk.
type PreventionMeasure struct {
	Category    string   `json:"category" yaml:"category"`
	Measure     string   `json:"measure" yaml:"measure"`
	Description string   `json:"description" yaml:"description"`
	Frequency   string   `json:"frequency" yaml:"frequency"`
	Priority    Priority `json:"priority" yaml:"priority"`
}

// RecommendationContent is the generated advice document.
type RecommendationContent struct {
	Disease               string              `json:"disease" yaml:"disease"`
	Confidence            float64             `json:"confidence" yaml:"confidence"`
	Severity              Severity            `json:"severity" yaml:"severity"`
	ImmediateActions      []string            `json:"immediateActions" yaml:"immediateActions"`
	TreatmentSteps        []TreatmentStep     `json:"treatmentSteps" yaml:"treatmentSteps"`
	PreventionMeasures    []PreventionMeasure `json:"preventionMeasures" yaml:"preventionMeasures"`
	AdditionalNotes       string              `json:"additionalNotes" yaml:"additionalNotes"`
	SourceReliability     float64             `json:"sourceReliability" yaml:"sourceReliability"`
	EstimatedRecoveryTime string              `json:"estimatedRecoveryTime" yaml:"estimatedRecoveryTime"`
}

// Recommendation is the durable record of generated advice.
type Recommendation struct {
	ID              uuid.UUID             `json:"id"`
	SessionID       string                `json:"sessionId"`
	Classification  string                `json:"classification"`
	Confidence      float64               `json:"confidence"`
	Content         RecommendationContent `json:"recommendations"`
	Generator       string                `json:"generator"`
	TemplateVersion string                `json:"templateVersion"`
	UserRating      *int                  `json:"userRating,omitempty"`
	UserFeedback    *string               `json:"userFeedback,omitempty"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

// NormalizeContent enforces the content invariants in place: confidence and
// source reliability are clamped to [0,1], invalid severity is derived from
// classificationConfidence, invalid priority becomes medium, nil slices become
// empty and unnumbered treatment steps are numbered in order.
func NormalizeContent(c *RecommendationContent, classificationConfidence float64) {
	c.Confidence = Clamp01(c.Confidence)
	c.SourceReliability = Clamp01(c.SourceReliability)

	c.Severity = Severity(strings.ToLower(strings.TrimSpace(string(c.Severity))))
	if !c.Severity.IsValid() {
		c.Severity = SeverityForConfidence(classificationConfidence)
	}

	if c.ImmediateActions == nil {
		c.ImmediateActions = []string{}
	}
	if c.TreatmentSteps == nil {
		c.TreatmentSteps = []TreatmentStep{}
	}
	if c.PreventionMeasures == nil {
		c.PreventionMeasures = []PreventionMeasure{}
	}

	for i := range c.TreatmentSteps {
		if c.TreatmentSteps[i].Step <= 0 {
			c.TreatmentSteps[i].Step = i + 1
		}
	}
	for i := range c.PreventionMeasures {
		p := Priority(strings.ToLower(strings.TrimSpace(string(c.PreventionMeasures[i].Priority))))
		if !p.IsValid() {
			p = PriorityMedium
		}
		c.PreventionMeasures[i].Priority = p
	}
}

// RecommendationFilter selects recommendations for listing. Empty fields do not filter.
type RecommendationFilter struct {
	SessionID      string
	Classification string
}

// Feedback is a user rating of a recommendation.
type Feedback struct {
	Rating   int     `json:"rating"`
	Feedback *string `json:"feedback,omitempty"`
}

// ClassificationStats aggregates recommendations sharing a classification.
// AvgRating is nil when no record in the group has been rated.
type ClassificationStats struct {
	Classification string   `json:"classification"`
	Count          int64    `json:"count"`
	AvgConfidence  float64  `json:"avgConfidence"`
	AvgRating      *float64 `json:"avgRating"`
}

// GroupCount is the number of records sharing one value of a field.
type GroupCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// SeverityCount is one bucket of the severity distribution.
type SeverityCount struct {
	Severity Severity `json:"severity"`
	Count    int64    `json:"count"`
}

// RecommendationAnalytics summarizes every stored recommendation.
type RecommendationAnalytics struct {
	TotalCount            int64                 `json:"totalCount"`
	PerClassification     []ClassificationStats `json:"perClassification"`
	OverallAvgRating      *float64              `json:"overallAvgRating"`
	OverallAvgConfidence  *float64              `json:"overallAvgConfidence"`
	SeverityDistribution  []SeverityCount       `json:"severityDistribution"`
	GeneratorDistribution []GroupCount          `json:"generatorDistribution"`
}

func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(label)
}
