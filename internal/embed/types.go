// Package embed generates vector embeddings for code and queries.
//
// Embedding is asymmetric: a text embedded as a search query lands in a
// different region of the vector space than the same text embedded as a
// document. The Intent type selects the underlying task.
package embed

import (
	"context"
	"math"
	"time"
)

// Intent selects the embedding task for a text.
type Intent string

const (
	// IntentQuery embeds text as a retrieval query.
	IntentQuery Intent = "query"
	// IntentDocument embeds text as an indexed document.
	IntentDocument Intent = "document"
)

// Common embedding constants.
const (
	// DefaultBatchSize is the default batch size for provider requests.
	DefaultBatchSize = 32

	// MaxBatchSize caps provider batches to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 60 * time.Second
)

// Provider produces embeddings from an external model.
// Providers do not retry and do not cache; both belong to callers.
type Provider interface {
	// EmbedBatch generates embeddings for multiple texts under one intent.
	// The result preserves input order.
	EmbedBatch(ctx context.Context, texts []string, intent Intent) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the provider is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
