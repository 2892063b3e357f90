package llm

import (
	"context"
	"sync"
)

// MockLLMClient is a configurable mock for testing LLM functionality.
// Set the function fields to control behavior in tests.
type MockLLMClient struct {
	// GenerateJSONFunc is called when GenerateJSON is invoked.
	// If nil, returns an empty JSON object.
	GenerateJSONFunc func(ctx context.Context, systemMessage, prompt string) (*GenerateResponseResult, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	mu sync.Mutex

	// Call tracking for verification
	GenerateJSONCalls int
	LastPrompt        string
	LastSystemMessage string
}

// NewMockLLMClient creates a new mock with sensible defaults.
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{
		Model: "mock-model",
	}
}

// GenerateJSON implements LLMClient.
func (m *MockLLMClient) GenerateJSON(ctx context.Context, systemMessage, prompt string) (*GenerateResponseResult, error) {
	m.mu.Lock()
	m.GenerateJSONCalls++
	m.LastPrompt = prompt
	m.LastSystemMessage = systemMessage
	fn := m.GenerateJSONFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, systemMessage, prompt)
	}
	return &GenerateResponseResult{Content: "{}"}, nil
}

// GetModel implements LLMClient.
func (m *MockLLMClient) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// GetProvider implements LLMClient.
func (m *MockLLMClient) GetProvider() string {
	return "mock"
}

// Calls returns how many times GenerateJSON ran.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GenerateJSONCalls
}

// Reset clears call tracking counters.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateJSONCalls = 0
	m.LastPrompt = ""
	m.LastSystemMessage = ""
}

// Ensure MockLLMClient implements LLMClient at compile time.
var _ LLMClient = (*MockLLMClient)(nil)
