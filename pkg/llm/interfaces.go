// Package llm talks to hosted language-model providers that can answer with
// a single JSON object.
package llm

import (
	"context"
)

// GenerateResponseResult is a completed generation with token usage.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMClient generates JSON-object responses. Use this interface for
// dependency injection to enable mocking in tests.
type LLMClient interface {
	// GenerateJSON asks the model for a single JSON object answering prompt
	// under systemMessage. Failures are returned as *Error.
	GenerateJSON(ctx context.Context, systemMessage, prompt string) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetProvider returns the provider name.
	GetProvider() string
}

// Ensure both providers implement LLMClient at compile time.
var (
	_ LLMClient = (*OpenAIClient)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
)
