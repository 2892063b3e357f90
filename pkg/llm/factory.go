package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds configuration for creating an LLM client.
type Config struct {
	Provider    string  // openai or anthropic
	BaseURL     string  // Optional override of the provider endpoint
	Model       string  // Model name, e.g., "gpt-4o-mini"
	APIKey      string  // Provider API key
	MaxTokens   int     // Completion token cap
	Temperature float64 // Sampling temperature
}

// NewClient creates the client for cfg.Provider.
func NewClient(cfg *Config, logger *zap.Logger) (LLMClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAIClient(cfg, logger)
	case ProviderAnthropic:
		return NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
