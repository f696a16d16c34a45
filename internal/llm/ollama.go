package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	scouterr "github.com/codescout/codescout/internal/errors"
)

// OllamaClient calls the Ollama /api/generate endpoint.
type OllamaClient struct {
	host  string
	model string

	// Deadlines come from per-call contexts, not a static client timeout.
	client *http.Client

	mu     sync.Mutex
	closed bool
}

var _ Provider = (*OllamaClient)(nil)

// NewOllamaClient creates a generation client for the given Ollama instance
// and model.
func NewOllamaClient(host, model string) *OllamaClient {
	if host == "" {
		host = "http://localhost:11434"
	}
	return &OllamaClient{
		host:   host,
		model:  model,
		client: &http.Client{},
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate produces a completion. A context deadline that expires mid-call
// is reported as a GenerationTimeout; every other failure is a
// GenerationError.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", scouterr.GenerationError("client is closed", nil)
	}
	c.mu.Unlock()

	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: params.Temperature,
			NumPredict:  params.MaxTokens,
			TopP:        params.TopP,
			TopK:        params.TopK,
		},
	})
	if err != nil {
		return "", scouterr.GenerationError("marshal generate request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", scouterr.GenerationError("create generate request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", scouterr.GenerationTimeout("generation deadline exceeded", err).
				WithDetail("model", c.model)
		}
		return "", scouterr.GenerationError("ollama generate request", err).
			WithDetail("model", c.model)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", scouterr.GenerationError(
			fmt.Sprintf("ollama generate status %d: %s", resp.StatusCode, string(respBody)), nil).
			WithDetail("model", c.model)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", scouterr.GenerationTimeout("generation deadline exceeded while reading response", err)
		}
		return "", scouterr.GenerationError("decode generate response", err)
	}

	return result.Response, nil
}

// ModelName returns the model identifier.
func (c *OllamaClient) ModelName() string {
	return c.model
}

// Available checks that Ollama is reachable and the model is present.
func (c *OllamaClient) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}

	want := strings.ToLower(c.model)
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
func (c *OllamaClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.client.CloseIdleConnections()
	return nil
}
