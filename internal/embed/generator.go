package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codescout/codescout/internal/cache"
	scouterr "github.com/codescout/codescout/internal/errors"
)

// Generator produces embeddings through a provider, consulting the shared
// embedding cache first. The generator performs no retries of its own;
// retry policy belongs to the orchestrators.
type Generator struct {
	provider Provider
	cache    *cache.Store
}

// NewGenerator creates a generator over the given provider and cache.
// The cache is injected rather than ambient so its lifecycle (open at
// startup, close at shutdown) stays with the caller.
func NewGenerator(provider Provider, store *cache.Store) (*Generator, error) {
	if provider == nil {
		return nil, fmt.Errorf("embed: provider is required")
	}
	if store == nil {
		return nil, fmt.Errorf("embed: cache is required")
	}
	return &Generator{provider: provider, cache: store}, nil
}

// Embed returns the embedding for text under intent. On a cache hit the
// provider is not invoked.
func (g *Generator) Embed(ctx context.Context, text string, intent Intent) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text}, intent)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in input order. Cache hits are served locally;
// the combined miss set goes to the provider in a single call (the provider
// partitions internally if it exceeds its batch limit). Every new vector is
// written back to the cache keyed by content hash.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string, intent Intent) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	model := g.provider.ModelName()
	results := make([][]float32, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))
	missKeys := make([]string, 0, len(texts))

	for i, text := range texts {
		key := cache.Key(text, string(intent), model)
		if vec, ok := g.cache.Get(key); ok {
			results[i] = vec
			continue
		}
		missIndices = append(missIndices, i)
		missTexts = append(missTexts, text)
		missKeys = append(missKeys, key)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	vectors, err := g.provider.EmbedBatch(ctx, missTexts, intent)
	if err != nil {
		return nil, scouterr.EmbeddingError("embedding provider call failed", err).
			WithDetail("model", model).
			WithDetail("intent", string(intent))
	}
	if len(vectors) != len(missTexts) {
		return nil, scouterr.EmbeddingError(
			fmt.Sprintf("provider returned %d vectors for %d texts", len(vectors), len(missTexts)), nil)
	}

	meta := map[string]string{"model": model, "intent": string(intent)}
	for j, idx := range missIndices {
		results[idx] = vectors[j]
		if err := g.cache.Put(missKeys[j], missTexts[j], vectors[j], meta); err != nil {
			// A cache write failure degrades future calls, not this one.
			slog.Warn("embedding cache write failed",
				slog.String("model", model),
				slog.String("error", err.Error()))
		}
	}

	return results, nil
}

// Dimensions returns the embedding dimension (passthrough to provider).
func (g *Generator) Dimensions() int {
	return g.provider.Dimensions()
}

// ModelName returns the model identifier (passthrough to provider).
func (g *Generator) ModelName() string {
	return g.provider.ModelName()
}

// Available checks if the provider is ready (passthrough).
func (g *Generator) Available(ctx context.Context) bool {
	return g.provider.Available(ctx)
}

// Close releases the provider. The cache is owned by the caller and is not
// closed here.
func (g *Generator) Close() error {
	return g.provider.Close()
}
