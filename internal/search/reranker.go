package search

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/codescout/codescout/internal/chunk"
	scouterr "github.com/codescout/codescout/internal/errors"
	"github.com/codescout/codescout/internal/store"
)

// WeightSumEpsilon is the tolerance for the weight sum check.
const WeightSumEpsilon = 1e-6

// Weights are the rerank signal weights. Each signal scores in [0,1]; the
// combined score is the weighted sum. Weights must sum to 1.0.
type Weights struct {
	Vector    float64
	NameMatch float64
	Docstring float64
	ChunkKind float64
	FilePath  float64
}

// DefaultWeights returns the standard signal weights.
func DefaultWeights() Weights {
	return Weights{
		Vector:    0.40,
		NameMatch: 0.25,
		Docstring: 0.15,
		ChunkKind: 0.10,
		FilePath:  0.10,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Vector + w.NameMatch + w.Docstring + w.ChunkKind + w.FilePath
}

// Validate checks the sum-to-1.0 invariant.
func (w Weights) Validate() error {
	if math.Abs(w.Sum()-1.0) > WeightSumEpsilon {
		return scouterr.InvalidWeights(
			fmt.Sprintf("rerank weights must sum to 1.0, got %.4f", w.Sum()))
	}
	return nil
}

// Reranker rescores a result set with multiple signals, then applies
// confidence and diversity filters.
//
// The confidence threshold is applied to the raw weighted sum without
// renormalization. Combined scores are not probabilities; observed scores
// compress into roughly 0.35 to 0.53 and the threshold is calibrated
// against that range.
type Reranker struct {
	weights    Weights
	minScore   float64
	maxPerFile int
}

// NewReranker creates a reranker. Weights are validated eagerly so a bad
// configuration fails at construction, not per query.
func NewReranker(weights Weights, minScore float64, maxPerFile int) (*Reranker, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if minScore <= 0 {
		minScore = 0.3
	}
	if maxPerFile <= 0 {
		maxPerFile = 2
	}
	return &Reranker{weights: weights, minScore: minScore, maxPerFile: maxPerFile}, nil
}

// rankedChunk carries a result through scoring with its pre-rerank position
// for tie-breaking.
type rankedChunk struct {
	chunk      store.CodeChunk
	similarity float64
	score      float64
	preRank    int
}

// Rerank rescores results and applies the filters. Input order is the
// vector-similarity order; output is descending by combined score with ties
// broken by pre-rerank rank.
func (r *Reranker) Rerank(query string, results []store.ScoredChunk) []Result {
	if len(results) == 0 {
		return nil
	}

	keywords := extractKeywords(query)

	ranked := make([]rankedChunk, len(results))
	for i, res := range results {
		ranked[i] = rankedChunk{
			chunk:      res.Chunk,
			similarity: res.Similarity,
			score:      r.combinedScore(query, keywords, res),
			preRank:    i,
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].preRank < ranked[j].preRank
	})

	// Confidence, then diversity: the per-file cap keeps the highest-scored
	// survivors because the slice is already sorted.
	fileCounts := make(map[string]int)
	out := make([]Result, 0, len(ranked))
	for _, rc := range ranked {
		if rc.score < r.minScore {
			continue
		}
		if fileCounts[rc.chunk.FilePath] >= r.maxPerFile {
			continue
		}
		fileCounts[rc.chunk.FilePath]++
		out = append(out, Result{Chunk: rc.chunk, Score: rc.score, Similarity: rc.similarity})
	}
	return out
}

func (r *Reranker) combinedScore(query string, keywords []string, res store.ScoredChunk) float64 {
	return r.weights.Vector*clamp01(res.Similarity) +
		r.weights.NameMatch*nameMatchScore(res.Chunk.Name, keywords) +
		r.weights.Docstring*docstringScore(res.Chunk.Docstring, keywords) +
		r.weights.ChunkKind*kindScore(res.Chunk.Kind, query) +
		r.weights.FilePath*filePathScore(res.Chunk.FilePath, keywords)
}

// queryStopWords are filler terms that carry no retrieval signal.
var queryStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "as": true, "is": true, "was": true,
	"are": true, "were": true, "been": true, "be": true, "have": true,
	"has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "must": true, "can": true, "that": true, "this": true,
	"these": true, "those": true, "i": true, "you": true, "he": true,
	"she": true, "it": true, "we": true, "they": true,
	"find": true, "show": true, "get": true, "search": true, "look": true,
	"where": true, "what": true, "how": true,
}

var wordRegex = regexp.MustCompile(`\w+`)

// extractKeywords lowercases the query and drops stop words and short words.
func extractKeywords(query string) []string {
	var keywords []string
	for _, w := range wordRegex.FindAllString(strings.ToLower(query), -1) {
		if len(w) > 2 && !queryStopWords[w] {
			keywords = append(keywords, w)
		}
	}
	return keywords
}

// nameMatchScore rewards token overlap between query keywords and the
// symbol name. Exact name match scores highest, then part match, then
// substring, then fuzzy character overlap.
func nameMatchScore(name string, keywords []string) float64 {
	if name == "" || len(keywords) == 0 {
		return 0
	}

	nameLower := strings.ToLower(name)
	parts := make(map[string]bool)
	for _, p := range splitNameParts(name) {
		parts[strings.ToLower(p)] = true
	}

	var score float64
	for _, kw := range keywords {
		switch {
		case kw == nameLower:
			score += 1.0
		case parts[kw]:
			score += 0.8
		case strings.Contains(nameLower, kw):
			score += 0.5
		case fuzzyMatch(kw, nameLower):
			score += 0.3
		}
	}

	return clamp01(score / float64(len(keywords)))
}

// fuzzyMatch reports whether two strings share at least 80% of their
// combined character set. Catches near-miss keywords (typos, stemming
// variants) that the exact tiers reject.
func fuzzyMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}

	const threshold = 0.8
	seen := make(map[rune]uint8)
	for _, r := range a {
		seen[r] |= 1
	}
	for _, r := range b {
		seen[r] |= 2
	}

	var intersection int
	for _, mask := range seen {
		if mask == 3 {
			intersection++
		}
	}
	return float64(intersection)/float64(len(seen)) >= threshold
}

var camelRegex = regexp.MustCompile(`[A-Z]?[a-z]+|[A-Z]+(?:[A-Z][a-z])?`)

func splitNameParts(name string) []string {
	var parts []string
	for _, seg := range strings.Split(name, "_") {
		parts = append(parts, camelRegex.FindAllString(seg, -1)...)
	}
	return parts
}

// docstringScore rewards keyword occurrences in the docstring, with a
// per-keyword cap so frequent words cannot dominate.
func docstringScore(docstring string, keywords []string) float64 {
	if docstring == "" || len(keywords) == 0 {
		return 0
	}

	docLower := strings.ToLower(docstring)
	var score float64
	for _, kw := range keywords {
		if count := strings.Count(docLower, kw); count > 0 {
			score += math.Min(0.3*(1+0.5*float64(count)), 0.5)
		}
	}
	return clamp01(score / float64(len(keywords)))
}

// kindHints lists the query phrasings that imply a chunk kind. The hint
// lists overlap ("method" hints both functions and methods), so the slice
// order is load-bearing: the first hinted kind in the query decides.
var kindHints = []struct {
	kind  chunk.Kind
	hints []string
}{
	{chunk.KindFunction, []string{"function", "method", "def", "func"}},
	{chunk.KindClass, []string{"class", "object", "type"}},
	{chunk.KindMethod, []string{"method", "member function"}},
}

// kindScore prefers the chunk kind the query asks for, and otherwise the
// default ordering function > class > method > text.
func kindScore(kind chunk.Kind, query string) float64 {
	queryLower := strings.ToLower(query)

	for _, hinted := range kindHints {
		for _, hint := range hinted.hints {
			if !strings.Contains(queryLower, hint) {
				continue
			}
			if kind == hinted.kind {
				return 1.0
			}
			// Functions and methods are near-interchangeable.
			if (kind == chunk.KindFunction || kind == chunk.KindMethod) &&
				(hinted.kind == chunk.KindFunction || hinted.kind == chunk.KindMethod) {
				return 0.7
			}
			break
		}
	}

	if s, ok := kindRank[kind]; ok {
		return s
	}
	return 0.5
}

// filePathScore rewards query keywords appearing in the file path.
func filePathScore(filePath string, keywords []string) float64 {
	if filePath == "" || len(keywords) == 0 {
		return 0
	}

	pathLower := strings.ToLower(filePath)
	var score float64
	for _, kw := range keywords {
		if strings.Contains(pathLower, kw) {
			score += 0.5
		}
	}
	return clamp01(score / float64(len(keywords)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
