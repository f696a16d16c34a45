package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescout/codescout/internal/chunk"
)

func newMemKeywordIndex(t *testing.T) *KeywordIndex {
	t.Helper()
	k, err := OpenKeywordIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func keywordChunk(rowID int64, name, content string) CodeChunk {
	return CodeChunk{
		RowID:    rowID,
		Kind:     chunk.KindFunction,
		Name:     name,
		FilePath: "pkg/file.go",
		Content:  content,
	}
}

func TestKeywordIndex_SearchFindsMatchingChunk(t *testing.T) {
	k := newMemKeywordIndex(t)
	ctx := context.Background()

	require.NoError(t, k.Index("proj", []CodeChunk{
		keywordChunk(1, "VerifyPassword", "compares the stored password hash against the supplied secret"),
		keywordChunk(2, "RenderTemplate", "writes the html template to the response"),
	}))

	hits, err := k.Search(ctx, "proj", "password", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].RowID)
	assert.Greater(t, hits[0].Score, 0.0)
}

func TestKeywordIndex_ScopedToCodebase(t *testing.T) {
	k := newMemKeywordIndex(t)
	ctx := context.Background()

	require.NoError(t, k.Index("alpha", []CodeChunk{
		keywordChunk(1, "Connect", "opens the database connection pool"),
	}))
	require.NoError(t, k.Index("beta", []CodeChunk{
		keywordChunk(2, "Connect", "opens the database connection pool"),
	}))

	hits, err := k.Search(ctx, "alpha", "database connection", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].RowID)
}

func TestKeywordIndex_EmptyQueryReturnsNothing(t *testing.T) {
	k := newMemKeywordIndex(t)

	require.NoError(t, k.Index("proj", []CodeChunk{
		keywordChunk(1, "Anything", "some indexed content"),
	}))

	hits, err := k.Search(context.Background(), "proj", "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestKeywordIndex_DeleteCodebase(t *testing.T) {
	k := newMemKeywordIndex(t)
	ctx := context.Background()

	require.NoError(t, k.Index("gone", []CodeChunk{
		keywordChunk(1, "Handler", "serves the http request"),
	}))
	require.NoError(t, k.Index("kept", []CodeChunk{
		keywordChunk(2, "Handler", "serves the http request"),
	}))

	require.NoError(t, k.DeleteCodebase(ctx, "gone"))

	hits, err := k.Search(ctx, "gone", "http request", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = k.Search(ctx, "kept", "http request", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestKeywordIndex_ClosedIndexErrors(t *testing.T) {
	k, err := OpenKeywordIndex("")
	require.NoError(t, err)
	require.NoError(t, k.Close())

	assert.Error(t, k.Index("proj", []CodeChunk{keywordChunk(1, "X", "y")}))
	_, err = k.Search(context.Background(), "proj", "y", 1)
	assert.Error(t, err)
}
