package models

import (
	"math"
	"time"
)

// Class labels produced by the leaf classifier.
const (
	ClassHealthy         = "healthy"
	ClassAngularLeafSpot = "angular_leaf_spot"
)

// PredictionResult is the normalized output of one classification call.
// It is transient and only persisted by value inside a Recommendation.
type PredictionResult struct {
	PredictedClass   string             `json:"predicted_class"`
	Confidence       float64            `json:"confidence"`
	Probabilities    map[string]float64 `json:"probabilities"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
	ModelVersion     string             `json:"model_version"`
	Timestamp        time.Time          `json:"timestamp"`
}

// IsHealthyLabel reports whether a classification label denotes a healthy leaf.
func IsHealthyLabel(label string) bool {
	switch normalizeLabel(label) {
	case "healthy", "healthy_leaf", "no_disease":
		return true
	default:
		return false
	}
}

// Clamp01 limits v to the closed interval [0, 1]. NaN becomes 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
