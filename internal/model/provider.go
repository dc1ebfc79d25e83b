package model

import "time"

// ProviderFamily selects the wire protocol a ProviderConfig speaks.
type ProviderFamily string

const (
	FamilyLocalHost      ProviderFamily = "local_host"
	FamilyOpenAICompat   ProviderFamily = "openai_compat"
	FamilyAnthropic      ProviderFamily = "anthropic"
	FamilyGoogle         ProviderFamily = "google"
)

// ProviderConfig describes one configured AI provider endpoint.
type ProviderConfig struct {
	Name       string
	Family     ProviderFamily
	BaseURL    string
	APIKey     string
	Priority   int // lower wins ties during heuristic resolution
	Enabled    bool
	DisabledAt *time.Time
	DisabledReason string
}

// ModelConfig describes pricing and capability metadata for a specific
// provider/model pair.
type ModelConfig struct {
	Provider           string
	Model              string
	PricePerMillionIn  float64
	PricePerMillionOut float64
	SupportsStreaming  bool

	// Usage counters, updated on every priced generation call.
	// Supplemented from the original Python implementation's
	// AIModelConfig.usage_count / total_input_tokens / total_output_tokens.
	UsageCount       int64
	TotalInputTokens int64
	TotalOutputTokens int64
}

// GenerateRequest is a provider-agnostic chat/completion request.
type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// GenerateResult is a provider-agnostic chat/completion response.
type GenerateResult struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// StreamChunk is one increment of a streamed generation.
type StreamChunk struct {
	TextDelta string
	Done      bool
}
