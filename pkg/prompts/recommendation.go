// Package prompts builds the language model prompts used for recommendation
// generation.
package prompts

import (
	"fmt"
	"strings"
)

// RecommendationSystemPrompt fixes the role and the JSON answer shape.
const RecommendationSystemPrompt = `You are an agronomist advising smallholder bean farmers.
Given a leaf disease classification, produce a practical treatment and prevention plan.

Respond with a JSON object with exactly these fields:
{
  "disease": string,
  "confidence": number between 0 and 1,
  "severity": "mild" | "moderate" | "severe",
  "immediateActions": [string],
  "treatmentSteps": [{"step": number, "action": string, "description": string, "materials": [string], "duration": string, "precautions": [string]}],
  "preventionMeasures": [{"category": string, "measure": string, "description": string, "frequency": string, "priority": "high" | "medium" | "low"}],
  "additionalNotes": string,
  "sourceReliability": number between 0 and 1,
  "estimatedRecoveryTime": string
}

Prefer locally available, low-cost materials. Do not include any text outside the JSON object.`

// RecommendationContext is what the model is told about one leaf.
type RecommendationContext struct {
	Classification string
	Confidence     float64 // already clamped to [0,1]
	Healthy        bool
	GrowerContext  string // already trimmed and bounded
}

// BuildRecommendationPrompt renders the user prompt for one classification.
func BuildRecommendationPrompt(rc RecommendationContext) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("Classification: %s\n", rc.Classification))
	prompt.WriteString(fmt.Sprintf("Classifier confidence: %.2f\n", rc.Confidence))

	if rc.Healthy {
		prompt.WriteString("The leaf appears healthy. Focus on maintenance and prevention.\n")
	} else if rc.Confidence < 0.6 {
		prompt.WriteString("The classification is uncertain. Recommend confirming the diagnosis before costly treatment.\n")
	}

	if rc.GrowerContext != "" {
		prompt.WriteString(fmt.Sprintf("Grower context: %s\n", rc.GrowerContext))
	}

	return prompt.String()
}
