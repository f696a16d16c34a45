// Package llm provides text generation clients for hypothetical document
// generation.
package llm

import "context"

// Params are the sampling parameters for a generation call. They bound
// output size and latency, so callers pass them explicitly rather than
// relying on server-side model defaults.
type Params struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	TopK        int
}

// DefaultParams returns the generation parameters used for code synthesis.
// Low temperature keeps output close to plausible code; the token cap bounds
// stage latency.
func DefaultParams() Params {
	return Params{
		Temperature: 0.3,
		MaxTokens:   500,
		TopP:        0.8,
		TopK:        40,
	}
}

// Provider generates text completions. Implementations must honor the
// context deadline and surface expiry as a GenerationTimeout error so
// callers can degrade instead of failing.
type Provider interface {
	// Generate produces a completion for prompt under params.
	Generate(ctx context.Context, prompt string, params Params) (string, error)

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the provider is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}
