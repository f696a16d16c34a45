// Package index composes chunking, embedding, and storage into the
// ingestion flow.
package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/codescout/codescout/internal/cache"
	"github.com/codescout/codescout/internal/chunk"
	"github.com/codescout/codescout/internal/embed"
	scouterr "github.com/codescout/codescout/internal/errors"
	"github.com/codescout/codescout/internal/store"
)

// Embedder is the embedding dependency of the runner.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, intent embed.Intent) ([][]float32, error)
	ModelName() string
}

// Report summarizes one indexing run.
type Report struct {
	RunID string

	FilesProcessed int
	FilesFailed    int
	ChunksIndexed  int
	ChunksFailed   int

	Outcome  string
	Duration time.Duration
}

// Runner drives the ingestion pipeline: chunk files, embed in batches,
// insert in store-sized batches, then maintain the codebase index.
type Runner struct {
	store    *store.Store
	keyword  *store.KeywordIndex
	embedder Embedder
	chunker  chunk.Chunker

	insertBatchSize int
	embedBatchSize  int

	// Retry is the backoff applied to embedding calls. Retry policy lives
	// here rather than in the generator, which never retries on its own.
	Retry scouterr.RetryConfig
}

// NewRunner wires an indexing runner. keyword may be nil to skip keyword
// indexing.
func NewRunner(st *store.Store, keyword *store.KeywordIndex, embedder Embedder, chunker chunk.Chunker, insertBatchSize, embedBatchSize int) *Runner {
	if insertBatchSize <= 0 {
		insertBatchSize = store.DefaultInsertBatchSize
	}
	if embedBatchSize <= 0 {
		embedBatchSize = embed.DefaultBatchSize
	}
	return &Runner{
		store:           st,
		keyword:         keyword,
		embedder:        embedder,
		chunker:         chunker,
		insertBatchSize: insertBatchSize,
		embedBatchSize:  embedBatchSize,
		Retry:           scouterr.DefaultRetryConfig(),
	}
}

// IndexFiles ingests files into the named codebase. Per-file parse failures
// are logged and skipped; the run continues and the history row records the
// failure count. Chunk-level insert failures surface in the report without
// rolling back chunks that succeeded.
func (r *Runner) IndexFiles(ctx context.Context, codebaseName, source string, files []chunk.FileInput) (*Report, error) {
	started := time.Now().UTC()
	report := &Report{RunID: uuid.NewString()}
	logger := slog.With(slog.String("run_id", report.RunID), slog.String("codebase", codebaseName))

	codebase, err := r.store.EnsureCodebase(ctx, codebaseName, source)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	chunksCh := make(chan []*chunk.Chunk)

	// Producer: parse files into chunks. The tree-sitter parser is not
	// safe for concurrent use, so chunking stays on one goroutine.
	g.Go(func() error {
		defer close(chunksCh)
		for _, file := range files {
			chunks, err := r.chunker.Parse(gctx, &file)
			if err != nil {
				report.FilesFailed++
				perr := scouterr.Wrap(scouterr.ErrCodeParseFailure, err)
				logger.Warn("file parse failed, skipping",
					slog.String("file", file.Path),
					slog.String("error", perr.Error()))
				continue
			}
			report.FilesProcessed++
			if len(chunks) == 0 {
				continue
			}
			select {
			case chunksCh <- chunks:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	// Consumer: embed and insert in store-sized batches.
	g.Go(func() error {
		pending := make([]store.CodeChunk, 0, r.insertBatchSize)
		flush := func() error {
			if len(pending) == 0 {
				return nil
			}
			if err := r.insertBatch(gctx, codebase, pending, report, logger); err != nil {
				return err
			}
			pending = pending[:0]
			return nil
		}

		for chunks := range chunksCh {
			embedded, err := r.embedChunks(gctx, codebase, chunks)
			if err != nil {
				return err
			}
			for _, c := range embedded {
				pending = append(pending, c)
				if len(pending) == r.insertBatchSize {
					if err := flush(); err != nil {
						return err
					}
				}
			}
		}
		return flush()
	})

	runErr := g.Wait()

	report.Duration = time.Since(started)
	report.Outcome = outcome(report, runErr)

	history := store.IndexingHistory{
		CodebaseName: codebaseName,
		StartedAt:    started,
		FinishedAt:   time.Now().UTC(),
		Outcome:      report.Outcome,
		ChunksAdded:  report.ChunksIndexed,
		ChunksFailed: report.ChunksFailed,
	}
	if err := r.store.RecordRun(ctx, history); err != nil {
		logger.Warn("failed to record indexing history", slog.String("error", err.Error()))
	}

	if runErr != nil {
		return report, runErr
	}

	if err := r.store.MaintainIndex(ctx, codebase); err != nil {
		logger.Warn("index maintenance failed", slog.String("error", err.Error()))
	}

	logger.Info("indexing run finished",
		slog.String("outcome", report.Outcome),
		slog.Int("chunks_indexed", report.ChunksIndexed),
		slog.Int("chunks_failed", report.ChunksFailed),
		slog.Int("files_failed", report.FilesFailed),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// embedChunks embeds one file's chunks with document intent and maps them
// to store rows.
func (r *Runner) embedChunks(ctx context.Context, codebase *store.Codebase, chunks []*chunk.Chunk) ([]store.CodeChunk, error) {
	model := r.embedder.ModelName()
	out := make([]store.CodeChunk, 0, len(chunks))

	for start := 0; start < len(chunks); start += r.embedBatchSize {
		end := min(start+r.embedBatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		// Embedding providers fail transiently (model load, connection
		// reset); retry before giving up on the batch.
		vectors, err := scouterr.RetryWithResult(ctx, r.Retry, func() ([][]float32, error) {
			return r.embedder.EmbedBatch(ctx, texts, embed.IntentDocument)
		})
		if err != nil {
			return nil, err
		}

		for i, c := range batch {
			out = append(out, store.CodeChunk{
				CodebaseID:  codebase.ID,
				ChunkID:     c.ID,
				Kind:        c.Kind,
				Language:    c.Language,
				Name:        c.Name,
				ParentName:  c.ParentName,
				FilePath:    c.FilePath,
				Content:     c.Content,
				Docstring:   c.Docstring,
				ContentHash: cache.Key(c.Content, string(embed.IntentDocument), model),
				StartLine:   c.StartLine,
				EndLine:     c.EndLine,
				Vector:      vectors[i],
			})
		}
	}
	return out, nil
}

func (r *Runner) insertBatch(ctx context.Context, codebase *store.Codebase, batch []store.CodeChunk, report *Report, logger *slog.Logger) error {
	ir, err := r.store.InsertBatch(ctx, codebase, batch)
	if err != nil && scouterr.GetCode(err) != scouterr.ErrCodeInsertPartial {
		return err
	}
	report.ChunksIndexed += ir.Inserted
	report.ChunksFailed += ir.Failed
	if ir.Failed > 0 {
		logger.Warn("partial insert",
			slog.Int("inserted", ir.Inserted),
			slog.Int("failed", ir.Failed))
	}

	if r.keyword != nil && ir.Inserted > 0 {
		inserted, err := succeededChunks(ctx, r.store, codebase, batch, ir)
		if err != nil {
			return err
		}
		if err := r.keyword.Index(codebase.Name, inserted); err != nil {
			logger.Warn("keyword indexing failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// succeededChunks reloads the just-inserted rows so keyword documents carry
// store rowids.
func succeededChunks(ctx context.Context, st *store.Store, codebase *store.Codebase, batch []store.CodeChunk, ir *store.InsertReport) ([]store.CodeChunk, error) {
	okIDs := make(map[string]bool, len(ir.Results))
	for _, res := range ir.Results {
		if res.Err == nil {
			okIDs[res.ChunkID] = true
		}
	}

	// Newest rows sit at the tail of the codebase's rowid range; fetching
	// by chunk_id would be ambiguous across re-index runs, so scan back.
	all, err := st.RecentChunks(ctx, codebase.ID, len(batch))
	if err != nil {
		return nil, err
	}

	out := make([]store.CodeChunk, 0, len(all))
	for _, c := range all {
		if okIDs[c.ChunkID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func outcome(report *Report, runErr error) string {
	switch {
	case runErr != nil:
		return store.OutcomeFailed
	case report.ChunksFailed > 0 || report.FilesFailed > 0:
		return store.OutcomePartial
	default:
		return store.OutcomeCompleted
	}
}
