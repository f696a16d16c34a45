package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	scouterr "github.com/codescout/codescout/internal/errors"
)

// Task prefixes for asymmetric embedding. Models in the nomic family are
// trained with these instruction prefixes; queries and documents prefixed
// differently land in matching regions of the vector space.
const (
	queryPrefix    = "search_query: "
	documentPrefix = "search_document: "
)

// OllamaConfig configures the Ollama embedding provider.
type OllamaConfig struct {
	Host      string
	Model     string
	BatchSize int
	Timeout   time.Duration

	// Dimensions, when zero, is auto-detected from the first embedding.
	Dimensions int

	// SkipHealthCheck skips the startup probe (used in tests).
	SkipHealthCheck bool
}

// OllamaProvider generates embeddings through Ollama's /api/embed endpoint.
type OllamaProvider struct {
	client *http.Client
	config OllamaConfig

	mu     sync.RWMutex
	closed bool
	dims   int
}

var _ Provider = (*OllamaProvider)(nil)

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllamaProvider creates an Ollama embedding provider. Unless the health
// check is skipped, it probes the host and detects the embedding dimension.
func NewOllamaProvider(ctx context.Context, cfg OllamaConfig) (*OllamaProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	p := &OllamaProvider{
		// Per-request deadlines come from contexts; a static client timeout
		// would override them.
		client: &http.Client{},
		config: cfg,
		dims:   cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if !p.Available(probeCtx) {
			return nil, scouterr.EmbeddingError(
				fmt.Sprintf("ollama not reachable or model %q not available at %s", cfg.Model, cfg.Host), nil)
		}
		if p.dims == 0 {
			dims, err := p.detectDimensions(probeCtx)
			if err != nil {
				return nil, scouterr.EmbeddingError("detect embedding dimensions", err)
			}
			p.dims = dims
		}
	}

	return p, nil
}

// EmbedBatch embeds texts under intent, preserving input order. Large inputs
// are split into provider-sized sub-batches.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string, intent Intent) ([][]float32, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("provider is closed")
	}
	p.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	prefix := documentPrefix
	if intent == IntentQuery {
		prefix = queryPrefix
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+p.config.BatchSize, len(texts))
		batch := make([]string, end-start)
		for i, text := range texts[start:end] {
			if strings.TrimSpace(text) == "" {
				// Ollama rejects empty input; a sentinel keeps positions aligned.
				text = "empty"
			}
			batch[i] = prefix + text
		}

		vecs, err := p.doEmbed(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(vecs), len(batch))
		}
		results = append(results, vecs...)
	}

	return results, nil
}

func (p *OllamaProvider) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.config.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embed status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		vecs[i] = normalizeVector(vec)
	}
	return vecs, nil
}

func (p *OllamaProvider) detectDimensions(ctx context.Context) (int, error) {
	vecs, err := p.doEmbed(ctx, []string{documentPrefix + "dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(vecs[0]), nil
}

// Dimensions returns the embedding dimension.
func (p *OllamaProvider) Dimensions() int {
	return p.dims
}

// ModelName returns the model identifier.
func (p *OllamaProvider) ModelName() string {
	return p.config.Model
}

// Available checks that Ollama is reachable and the model is present.
func (p *OllamaProvider) Available(ctx context.Context) bool {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return false
	}
	p.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}

	want := strings.ToLower(p.config.Model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			return true
		}
	}
	return false
}

// Close releases resources.
func (p *OllamaProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.client.CloseIdleConnections()
	return nil
}
