// Package search composes embedding, HyDE expansion, vector retrieval, and
// reranking into the end-to-end query flow.
package search

import (
	"context"

	"github.com/codescout/codescout/internal/chunk"
	"github.com/codescout/codescout/internal/embed"
	"github.com/codescout/codescout/internal/store"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	// ModeSemantic ranks by vector similarity only.
	ModeSemantic Mode = "semantic"
	// ModeKeyword ranks by BM25 keyword match only.
	ModeKeyword Mode = "keyword"
	// ModeHybrid blends semantic and keyword rankings.
	ModeHybrid Mode = "hybrid"
)

// Request is one search call.
type Request struct {
	Query    string
	Codebase string
	TopK     int

	// Mode defaults to semantic.
	Mode Mode

	// UseHyDE enables two-stage hypothetical document expansion. Only the
	// semantic retrieval leg uses it.
	UseHyDE bool

	// UseReranking enables the multi-signal reranker.
	UseReranking bool

	Filters store.Filters

	// Weights overrides the configured rerank weights when non-nil.
	// Must sum to 1.0.
	Weights *Weights
}

// Result is one ranked search hit.
type Result struct {
	Chunk store.CodeChunk

	// Score is the final ranking score: cosine similarity for semantic
	// mode, the blended or reranked score otherwise.
	Score float64

	// Similarity is the raw cosine similarity from the vector search,
	// preserved when reranking or blending replaces Score.
	Similarity float64
}

// Metadata records which path a search took, for observability of the
// degradation rules.
type Metadata struct {
	Mode Mode

	// HyDEUsed is true when a hypothetical document embedding drove the
	// final search.
	HyDEUsed bool

	// HyDEDegraded is true when HyDE was requested but a stage failed and
	// the search fell back (stage 1 failure falls back to the raw query;
	// stage 2 failure falls back to the stage-1 document).
	HyDEDegraded bool

	// Stage1Length and Stage2Length are the generated text lengths in
	// characters; zero when the stage did not run or failed.
	Stage1Length int
	Stage2Length int

	Reranked bool
}

// Response is the outcome of one search.
type Response struct {
	Results  []Result
	Metadata Metadata
}

// Embedder is the embedding dependency of the orchestrator.
type Embedder interface {
	Embed(ctx context.Context, text string, intent embed.Intent) ([]float32, error)
}

// Hypothesizer is the HyDE dependency of the orchestrator.
type Hypothesizer interface {
	Stage1(ctx context.Context, query string) (string, error)
	Stage2(ctx context.Context, query, v1, searchContext string) (string, error)
}

// kindRank orders chunk kinds for the default kind preference signal:
// function > class > method > text.
var kindRank = map[chunk.Kind]float64{
	chunk.KindFunction: 0.8,
	chunk.KindClass:    0.7,
	chunk.KindMethod:   0.6,
	chunk.KindText:     0.3,
}
