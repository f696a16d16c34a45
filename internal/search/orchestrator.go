package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/codescout/codescout/internal/embed"
	scouterr "github.com/codescout/codescout/internal/errors"
	"github.com/codescout/codescout/internal/store"
)

// Config tunes the orchestrator.
type Config struct {
	// DefaultTopK applies when a request leaves TopK unset.
	DefaultTopK int

	// InitialTopK is the result count for the grounding search between
	// HyDE stages.
	InitialTopK int

	Budgets ContextBudgets

	RerankWeights    Weights
	RerankMinScore   float64
	RerankMaxPerFile int
}

// DefaultConfig returns standard orchestrator settings.
func DefaultConfig() Config {
	return Config{
		DefaultTopK:      5,
		InitialTopK:      3,
		Budgets:          DefaultContextBudgets(),
		RerankWeights:    DefaultWeights(),
		RerankMinScore:   0.3,
		RerankMaxPerFile: 2,
	}
}

// Orchestrator runs the end-to-end query flow. It is safe for concurrent
// use; each Search call is an independent unit of work over the shared
// store and cache.
type Orchestrator struct {
	store    *store.Store
	keyword  *store.KeywordIndex
	embedder Embedder
	hyde     Hypothesizer
	cfg      Config
}

// NewOrchestrator wires a search orchestrator. keyword and hyde may be nil;
// requests needing them then degrade (keyword and hybrid modes error,
// use_hyde falls back to the plain query path).
func NewOrchestrator(st *store.Store, keyword *store.KeywordIndex, embedder Embedder, hyde Hypothesizer, cfg Config) *Orchestrator {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if cfg.InitialTopK <= 0 {
		cfg.InitialTopK = 3
	}
	if cfg.Budgets == (ContextBudgets{}) {
		cfg.Budgets = DefaultContextBudgets()
	}
	return &Orchestrator{store: st, keyword: keyword, embedder: embedder, hyde: hyde, cfg: cfg}
}

// Search executes one query. Apart from caller errors (empty query, unknown
// codebase, invalid weights) and total store unavailability, it returns a
// result list rather than an error; HyDE and generation failures degrade
// the path and are reported through the metadata.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, scouterr.New(scouterr.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	if req.TopK <= 0 {
		req.TopK = o.cfg.DefaultTopK
	}
	if req.Mode == "" {
		req.Mode = ModeSemantic
	}

	weights := o.cfg.RerankWeights
	if req.Weights != nil {
		if err := req.Weights.Validate(); err != nil {
			return nil, err
		}
		weights = *req.Weights
	}

	codebase, err := o.store.GetCodebase(ctx, req.Codebase)
	if err != nil {
		return nil, err
	}

	// Reranking filters aggressively, so fetch double and truncate after.
	fetchK := req.TopK
	if req.UseReranking {
		fetchK = req.TopK * 2
	}

	meta := Metadata{Mode: req.Mode}
	var results []Result

	switch req.Mode {
	case ModeSemantic:
		scored, err := o.semanticSearch(ctx, codebase, req, fetchK, &meta)
		if err != nil {
			return nil, err
		}
		results = toResults(scored)

	case ModeKeyword:
		results, err = o.keywordSearch(ctx, codebase, req.Query, fetchK)
		if err != nil {
			return nil, err
		}

	case ModeHybrid:
		results, err = o.hybridSearch(ctx, codebase, req, fetchK, &meta)
		if err != nil {
			return nil, err
		}

	default:
		return nil, scouterr.Newf(scouterr.ErrCodeInvalidFilter, "unknown search mode %q", req.Mode)
	}

	if req.UseReranking {
		reranker, err := NewReranker(weights, o.cfg.RerankMinScore, o.cfg.RerankMaxPerFile)
		if err != nil {
			return nil, err
		}
		results = reranker.Rerank(req.Query, toScored(results))
		meta.Reranked = true
	}

	if len(results) > req.TopK {
		results = results[:req.TopK]
	}
	return &Response{Results: results, Metadata: meta}, nil
}

// semanticSearch resolves the query vector, running the two-stage HyDE
// protocol when requested, and queries the vector store.
func (o *Orchestrator) semanticSearch(ctx context.Context, codebase *store.Codebase, req Request, fetchK int, meta *Metadata) ([]store.ScoredChunk, error) {
	vec, err := o.resolveQueryVector(ctx, codebase, req, meta)
	if err != nil {
		return nil, err
	}
	return o.store.Search(ctx, codebase, vec, req.Filters, fetchK)
}

// resolveQueryVector is the HyDE state machine. Stage failures degrade:
// stage 1 falls back to embedding the raw query, stage 2 to the stage-1
// document. HyDE is a quality enhancement, never an availability dependency.
func (o *Orchestrator) resolveQueryVector(ctx context.Context, codebase *store.Codebase, req Request, meta *Metadata) ([]float32, error) {
	if !req.UseHyDE || o.hyde == nil {
		return o.embedder.Embed(ctx, req.Query, embed.IntentQuery)
	}

	v1, err := o.hyde.Stage1(ctx, req.Query)
	if err != nil || strings.TrimSpace(v1) == "" {
		if err != nil {
			slog.Warn("hyde stage 1 failed, degrading to plain query",
				slog.String("query", req.Query),
				slog.String("error", err.Error()))
		}
		meta.HyDEDegraded = true
		return o.embedder.Embed(ctx, req.Query, embed.IntentQuery)
	}
	// Hypothetical code is code-shaped, so it embeds with document intent.
	// If that embed fails the hypothetical is unusable; fall back to the
	// plain query rather than failing the search.
	v1Vec, err := o.embedder.Embed(ctx, v1, embed.IntentDocument)
	if err != nil {
		slog.Warn("hypothetical embed failed, degrading to plain query",
			slog.String("query", req.Query),
			slog.String("error", err.Error()))
		meta.HyDEDegraded = true
		return o.embedder.Embed(ctx, req.Query, embed.IntentQuery)
	}
	meta.Stage1Length = len(v1)

	initial, err := o.store.Search(ctx, codebase, v1Vec, req.Filters, o.cfg.InitialTopK)
	if err != nil {
		return nil, err
	}
	grounding := BuildContext(initial, o.cfg.Budgets)

	finalText := v1
	v2, err := o.hyde.Stage2(ctx, req.Query, v1, grounding)
	if err != nil || strings.TrimSpace(v2) == "" {
		if err != nil {
			slog.Warn("hyde stage 2 failed, using stage 1 document",
				slog.String("query", req.Query),
				slog.String("error", err.Error()))
		}
		meta.HyDEDegraded = true
	} else {
		finalText = v2
		meta.Stage2Length = len(v2)
	}

	meta.HyDEUsed = true
	if finalText == v1 {
		return v1Vec, nil
	}

	v2Vec, err := o.embedder.Embed(ctx, finalText, embed.IntentDocument)
	if err != nil {
		slog.Warn("refined embed failed, using stage 1 vector",
			slog.String("query", req.Query),
			slog.String("error", err.Error()))
		meta.HyDEDegraded = true
		meta.Stage2Length = 0
		return v1Vec, nil
	}
	return v2Vec, nil
}

// keywordSearch runs the BM25 leg and joins hits back to stored chunks.
func (o *Orchestrator) keywordSearch(ctx context.Context, codebase *store.Codebase, query string, fetchK int) ([]Result, error) {
	if o.keyword == nil {
		return nil, scouterr.New(scouterr.ErrCodeInternal, "keyword index not configured", nil)
	}

	hits, err := o.keyword.Search(ctx, codebase.Name, query, fetchK)
	if err != nil {
		return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(hits))
	scoreByID := make(map[int64]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.RowID
		scoreByID[h.RowID] = h.Score
	}

	chunks, err := o.store.ChunksByRowID(ctx, codebase.ID, ids)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, Result{Chunk: c, Score: scoreByID[c.RowID]})
	}
	return results, nil
}

// Hybrid blend weights: semantic carries most of the signal, keyword
// rescues exact-identifier queries that embeddings miss.
const (
	hybridSemanticWeight = 0.7
	hybridKeywordWeight  = 0.3
)

// hybridSearch blends the semantic and keyword legs. Each leg's scores get
// a position-based decay before blending so rank matters more than the
// legs' incomparable raw scales.
func (o *Orchestrator) hybridSearch(ctx context.Context, codebase *store.Codebase, req Request, fetchK int, meta *Metadata) ([]Result, error) {
	semantic, err := o.semanticSearch(ctx, codebase, req, fetchK*2, meta)
	if err != nil {
		return nil, err
	}
	keyword, err := o.keywordSearch(ctx, codebase, req.Query, fetchK*2)
	if err != nil {
		return nil, err
	}

	type blended struct {
		chunk      store.CodeChunk
		similarity float64
		semantic   float64
		keyword    float64
	}
	combined := make(map[int64]*blended)

	for i, r := range semantic {
		decay := 1.0 - float64(i)/float64(len(semantic))
		combined[r.Chunk.RowID] = &blended{
			chunk:      r.Chunk,
			similarity: r.Similarity,
			semantic:   r.Similarity * decay,
		}
	}
	for i, r := range keyword {
		decay := 1.0 - float64(i)/float64(len(keyword))
		if b, ok := combined[r.Chunk.RowID]; ok {
			b.keyword = r.Score * decay
		} else {
			combined[r.Chunk.RowID] = &blended{chunk: r.Chunk, keyword: r.Score * decay}
		}
	}

	results := make([]Result, 0, len(combined))
	for _, b := range combined {
		results = append(results, Result{
			Chunk:      b.chunk,
			Score:      hybridSemanticWeight*b.semantic + hybridKeywordWeight*b.keyword,
			Similarity: b.similarity,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.RowID < results[j].Chunk.RowID
	})

	if len(results) > fetchK {
		results = results[:fetchK]
	}
	return results, nil
}

func toResults(scored []store.ScoredChunk) []Result {
	out := make([]Result, len(scored))
	for i, s := range scored {
		out[i] = Result{Chunk: s.Chunk, Score: s.Similarity, Similarity: s.Similarity}
	}
	return out
}

func toScored(results []Result) []store.ScoredChunk {
	out := make([]store.ScoredChunk, len(results))
	for i, r := range results {
		sim := r.Similarity
		if sim == 0 {
			sim = r.Score
		}
		out[i] = store.ScoredChunk{Chunk: r.Chunk, Similarity: sim}
	}
	return out
}
