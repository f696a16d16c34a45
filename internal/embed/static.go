package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticDimensions is the vector size of the hash-based embedder.
const StaticDimensions = 256

// StaticProvider generates deterministic hash-based embeddings with no
// network or model dependency. Semantic quality is reduced; token overlap
// between query and code still produces useful cosine similarity, which is
// enough for offline use and for tests.
type StaticProvider struct {
	mu     sync.RWMutex
	closed bool
}

var _ Provider = (*StaticProvider)(nil)

// codeStopWords are language keywords that carry no retrieval signal.
var codeStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

const (
	staticTokenWeight = 0.7
	staticNgramWeight = 0.3
	staticNgramSize   = 3
)

var identRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticProvider creates a static embedding provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

// EmbedBatch embeds texts. The intent is ignored: hash vectors are symmetric,
// so query and document embeddings of the same text coincide.
func (p *StaticProvider) EmbedBatch(ctx context.Context, texts []string, _ Intent) ([][]float32, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("provider is closed")
	}
	p.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			results[i] = make([]float32, StaticDimensions)
			continue
		}
		results[i] = normalizeVector(hashVector(trimmed))
	}
	return results, nil
}

// hashVector builds the raw vector from code-aware tokens and character
// trigrams.
func hashVector(text string) []float32 {
	vector := make([]float32, StaticDimensions)

	for _, token := range tokenizeCode(text) {
		if codeStopWords[token] {
			continue
		}
		vector[hashToIndex(token)] += staticTokenWeight
	}

	normalized := stripNonAlnum(text)
	for i := 0; i+staticNgramSize <= len(normalized); i++ {
		vector[hashToIndex(normalized[i:i+staticNgramSize])] += staticNgramWeight
	}

	return vector
}

// tokenizeCode splits text into lowercase tokens, breaking camelCase and
// snake_case identifiers into their parts.
func tokenizeCode(text string) []string {
	var tokens []string
	for _, word := range identRegex.FindAllString(text, -1) {
		for _, part := range strings.Split(word, "_") {
			for _, sub := range splitCamelCase(part) {
				tokens = append(tokens, strings.ToLower(sub))
			}
		}
	}
	return tokens
}

func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// Splitting on either side keeps acronyms intact (HTTPServer).
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func stripNonAlnum(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func hashToIndex(s string) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(StaticDimensions))
}

// Dimensions returns the embedding dimension.
func (p *StaticProvider) Dimensions() int {
	return StaticDimensions
}

// ModelName returns the model identifier.
func (p *StaticProvider) ModelName() string {
	return "static"
}

// Available reports readiness (always true unless closed).
func (p *StaticProvider) Available(_ context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// Close releases resources.
func (p *StaticProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
