package index

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescout/codescout/internal/chunk"
	"github.com/codescout/codescout/internal/embed"
	scouterr "github.com/codescout/codescout/internal/errors"
	"github.com/codescout/codescout/internal/store"
)

// staticBatchEmbedder satisfies the runner's Embedder with hash vectors.
type staticBatchEmbedder struct {
	provider *embed.StaticProvider
}

func (e *staticBatchEmbedder) EmbedBatch(ctx context.Context, texts []string, intent embed.Intent) ([][]float32, error) {
	return e.provider.EmbedBatch(ctx, texts, intent)
}

func (e *staticBatchEmbedder) ModelName() string { return e.provider.ModelName() }

// flakyChunker fails for selected paths and delegates the rest.
type flakyChunker struct {
	inner    chunk.Chunker
	failPath string
}

func (f *flakyChunker) Parse(ctx context.Context, file *chunk.FileInput) ([]*chunk.Chunk, error) {
	if file.Path == f.failPath {
		return nil, fmt.Errorf("unreadable source")
	}
	return f.inner.Parse(ctx, file)
}

func (f *flakyChunker) SupportedExtensions() []string { return f.inner.SupportedExtensions() }
func (f *flakyChunker) Close()                        { f.inner.Close() }

func newTestRunner(t *testing.T, chunker chunk.Chunker) (*Runner, *store.Store, *store.KeywordIndex) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "codescout.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	keyword, err := store.OpenKeywordIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = keyword.Close() })

	provider := embed.NewStaticProvider()
	t.Cleanup(func() { _ = provider.Close() })

	r := NewRunner(st, keyword, &staticBatchEmbedder{provider: provider}, chunker, 0, 0)
	return r, st, keyword
}

func goFile(path string, symbols int) chunk.FileInput {
	src := "package demo\n\n"
	for i := 0; i < symbols; i++ {
		src += fmt.Sprintf("func Handler%d() {\n}\n\n", i)
	}
	return chunk.FileInput{Path: path, Language: "go", Content: []byte(src)}
}

func TestIndexFiles_CompletedRun(t *testing.T) {
	chunker := chunk.NewTreeSitterChunker()
	r, st, keyword := newTestRunner(t, chunker)
	ctx := context.Background()

	files := []chunk.FileInput{
		goFile("pkg/a.go", 2),
		goFile("pkg/b.go", 3),
	}
	report, err := r.IndexFiles(ctx, "demo", "/src/demo", files)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.FilesProcessed)
	assert.Zero(t, report.FilesFailed)
	assert.Equal(t, 5, report.ChunksIndexed)
	assert.Zero(t, report.ChunksFailed)
	assert.Equal(t, store.OutcomeCompleted, report.Outcome)

	cb, err := st.GetCodebase(ctx, "demo")
	require.NoError(t, err)
	n, err := st.CountChunks(ctx, cb.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// Keyword documents landed too.
	hits, err := keyword.Search(ctx, "demo", "Handler0", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)

	// The run is on the record.
	runs, err := st.History(ctx, "demo", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.OutcomeCompleted, runs[0].Outcome)
	assert.Equal(t, 5, runs[0].ChunksAdded)
}

func TestIndexFiles_ParseFailureSkipsFileAndContinues(t *testing.T) {
	chunker := &flakyChunker{inner: chunk.NewTreeSitterChunker(), failPath: "pkg/broken.go"}
	r, st, _ := newTestRunner(t, chunker)
	ctx := context.Background()

	files := []chunk.FileInput{
		goFile("pkg/good.go", 2),
		{Path: "pkg/broken.go", Language: "go", Content: []byte("irrelevant")},
		goFile("pkg/also_good.go", 1),
	}
	report, err := r.IndexFiles(ctx, "demo", "", files)
	require.NoError(t, err, "a bad file degrades the run, it does not abort it")

	assert.Equal(t, 2, report.FilesProcessed)
	assert.Equal(t, 1, report.FilesFailed)
	assert.Equal(t, 3, report.ChunksIndexed)
	assert.Equal(t, store.OutcomePartial, report.Outcome)

	cb, err := st.GetCodebase(ctx, "demo")
	require.NoError(t, err)
	n, err := st.CountChunks(ctx, cb.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "chunks from good files are all stored")

	runs, err := st.History(ctx, "demo", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.OutcomePartial, runs[0].Outcome)
}

func TestIndexFiles_EmptyFileSet(t *testing.T) {
	chunker := chunk.NewTreeSitterChunker()
	r, st, _ := newTestRunner(t, chunker)
	ctx := context.Background()

	report, err := r.IndexFiles(ctx, "demo", "", nil)
	require.NoError(t, err)
	assert.Zero(t, report.ChunksIndexed)
	assert.Equal(t, store.OutcomeCompleted, report.Outcome)

	// The codebase exists even with nothing indexed.
	_, err = st.GetCodebase(ctx, "demo")
	assert.NoError(t, err)
}

// transientEmbedder fails its first calls with a retryable error, then
// delegates.
type transientEmbedder struct {
	inner    *staticBatchEmbedder
	failures int
	calls    int
}

func (e *transientEmbedder) EmbedBatch(ctx context.Context, texts []string, intent embed.Intent) ([][]float32, error) {
	e.calls++
	if e.calls <= e.failures {
		return nil, scouterr.EmbeddingError("model warming up", nil)
	}
	return e.inner.EmbedBatch(ctx, texts, intent)
}

func (e *transientEmbedder) ModelName() string { return e.inner.ModelName() }

func TestIndexFiles_RetriesTransientEmbedFailures(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "codescout.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	provider := embed.NewStaticProvider()
	t.Cleanup(func() { _ = provider.Close() })
	flaky := &transientEmbedder{inner: &staticBatchEmbedder{provider: provider}, failures: 2}

	chunker := chunk.NewTreeSitterChunker()
	r := NewRunner(st, nil, flaky, chunker, 0, 0)
	r.Retry = scouterr.RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
	}

	report, err := r.IndexFiles(context.Background(), "demo", "", []chunk.FileInput{goFile("pkg/a.go", 2)})
	require.NoError(t, err, "transient embed failures are absorbed by the retry")

	assert.Equal(t, store.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 2, report.ChunksIndexed)
	assert.Equal(t, 3, flaky.calls, "two failures, one success")
}

func TestIndexFiles_ReportedChunksAreSearchable(t *testing.T) {
	chunker := chunk.NewTreeSitterChunker()
	r, st, _ := newTestRunner(t, chunker)
	ctx := context.Background()

	src := `package auth

// VerifyPassword compares a password against the stored hash.
func VerifyPassword(hash, password string) bool {
	return subtle.ConstantTimeCompare([]byte(hash), []byte(password)) == 1
}
`
	_, err := r.IndexFiles(ctx, "demo", "", []chunk.FileInput{
		{Path: "auth/password.go", Language: "go", Content: []byte(src)},
	})
	require.NoError(t, err)

	cb, err := st.GetCodebase(ctx, "demo")
	require.NoError(t, err)

	provider := embed.NewStaticProvider()
	defer func() { _ = provider.Close() }()
	vecs, err := provider.EmbedBatch(ctx, []string{"verify password hash"}, embed.IntentQuery)
	require.NoError(t, err)

	results, err := st.Search(ctx, cb, vecs[0], store.Filters{}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "VerifyPassword", results[0].Chunk.Name)
	assert.Contains(t, results[0].Chunk.Docstring, "compares a password")
	assert.Positive(t, results[0].Chunk.StartLine)
}
