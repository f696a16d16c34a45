package search

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codescout/codescout/internal/chunk"
	scouterr "github.com/codescout/codescout/internal/errors"
	"github.com/codescout/codescout/internal/store"
)

func TestWeights_ValidateSumToOne(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())

	bad := Weights{Vector: 0.5, NameMatch: 0.2, Docstring: 0.1, ChunkKind: 0.05, FilePath: 0.05}
	err := bad.Validate()
	require.Error(t, err)
	assert.Equal(t, scouterr.ErrCodeInvalidWeights, scouterr.GetCode(err))
}

func TestWeights_ValidateToleratesFloatNoise(t *testing.T) {
	w := Weights{Vector: 0.1, NameMatch: 0.2, Docstring: 0.3, ChunkKind: 0.2, FilePath: 0.2}
	assert.NoError(t, w.Validate())
}

func TestNewReranker_RejectsInvalidWeights(t *testing.T) {
	_, err := NewReranker(Weights{Vector: 1.5}, 0.3, 2)
	require.Error(t, err)
	assert.Equal(t, scouterr.ErrCodeInvalidWeights, scouterr.GetCode(err))
}

func TestExtractKeywords_DropsStopWordsAndShortWords(t *testing.T) {
	assert.Equal(t, []string{"authentication", "middleware"},
		extractKeywords("find the authentication middleware"))
	assert.Equal(t, []string{"user"}, extractKeywords("a to of user is"))
	assert.Empty(t, extractKeywords("the a an"))
}

func TestExtractKeywords_DropsModalVerbsAndPronouns(t *testing.T) {
	assert.Equal(t, []string{"password", "hashed"},
		extractKeywords("where should the password have been hashed"))
	assert.Equal(t, []string{"validate", "tokens"},
		extractKeywords("they must validate tokens"))
}

func TestNameMatchScore(t *testing.T) {
	tests := []struct {
		name     string
		symbol   string
		keywords []string
		want     float64
	}{
		{"exact match", "authenticate", []string{"authenticate"}, 1.0},
		{"part match camelCase", "authenticateUser", []string{"authenticate"}, 0.8},
		{"part match snake_case", "authenticate_user", []string{"user"}, 0.8},
		{"substring match", "preauthenticated", []string{"authenticate"}, 0.5},
		{"fuzzy match on typo", "authenticate", []string{"authentciate"}, 0.3},
		{"no match", "renderTemplate", []string{"authenticate"}, 0.0},
		{"empty name", "", []string{"authenticate"}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, nameMatchScore(tt.symbol, tt.keywords), 1e-9)
		})
	}
}

func TestNameMatchScore_NormalizedByKeywordCount(t *testing.T) {
	// One exact hit out of two keywords.
	got := nameMatchScore("authenticate", []string{"authenticate", "missing"})
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestDocstringScore_PerKeywordCap(t *testing.T) {
	// A single occurrence scores 0.3*1.5=0.45; many occurrences cap at 0.5.
	one := docstringScore("checks the password", []string{"password"})
	assert.InDelta(t, 0.45, one, 1e-9)

	many := docstringScore("password password password password", []string{"password"})
	assert.InDelta(t, 0.5, many, 1e-9)

	assert.Zero(t, docstringScore("", []string{"password"}))
}

func TestKindScore_QueryHintsWin(t *testing.T) {
	assert.InDelta(t, 1.0, kindScore(chunk.KindFunction, "the login function"), 1e-9)
	assert.InDelta(t, 1.0, kindScore(chunk.KindClass, "the user class"), 1e-9)

	// A method satisfies a function-shaped query reasonably well.
	assert.InDelta(t, 0.7, kindScore(chunk.KindMethod, "the login function"), 1e-9)
}

func TestKindScore_StableWhenHintListsOverlap(t *testing.T) {
	// "method" hints both functions and methods; the function list comes
	// first, so a method chunk gets the interchange score every time.
	query := "find the method that parses files"
	for i := 0; i < 50; i++ {
		assert.InDelta(t, 0.7, kindScore(chunk.KindMethod, query), 1e-9)
		assert.InDelta(t, 1.0, kindScore(chunk.KindFunction, query), 1e-9)
	}
}

func TestFuzzyMatch(t *testing.T) {
	assert.True(t, fuzzyMatch("parse", "spare"), "same character set")
	assert.False(t, fuzzyMatch("authenticate", "rendertemplate"))
	assert.False(t, fuzzyMatch("", "anything"))
}

func TestKindScore_DefaultOrdering(t *testing.T) {
	query := "user login handling"
	assert.Greater(t, kindScore(chunk.KindFunction, query), kindScore(chunk.KindClass, query))
	assert.Greater(t, kindScore(chunk.KindClass, query), kindScore(chunk.KindMethod, query))
	assert.Greater(t, kindScore(chunk.KindMethod, query), kindScore(chunk.KindText, query))
}

func TestFilePathScore(t *testing.T) {
	assert.InDelta(t, 0.5, filePathScore("internal/auth/login.go", []string{"auth"}), 1e-9)
	assert.InDelta(t, 0.5, filePathScore("internal/auth/login.go", []string{"auth", "missing"}), 1e-9)
	assert.Zero(t, filePathScore("internal/render/html.go", []string{"auth"}))
}

func highScoringChunk(file string, preName string) store.ScoredChunk {
	return store.ScoredChunk{
		Chunk: store.CodeChunk{
			Name:     "authenticate",
			Kind:     chunk.KindFunction,
			FilePath: file,
			Content:  "func authenticate() {}",
			ChunkID:  preName,
		},
		Similarity: 1.0,
	}
}

func TestRerank_DiversityCapsResultsPerFile(t *testing.T) {
	r, err := NewReranker(DefaultWeights(), 0.3, 2)
	require.NoError(t, err)

	var results []store.ScoredChunk
	for i := 0; i < 5; i++ {
		results = append(results, highScoringChunk("auth/auth.go", fmt.Sprintf("c%d", i)))
	}
	results = append(results, highScoringChunk("other/file.go", "c5"))

	out := r.Rerank("authenticate", results)

	perFile := make(map[string]int)
	for _, res := range out {
		perFile[res.Chunk.FilePath]++
	}
	assert.Equal(t, 2, perFile["auth/auth.go"], "at most two results per file")
	assert.Equal(t, 1, perFile["other/file.go"])
}

func TestRerank_DiversityKeepsHighestScored(t *testing.T) {
	r, err := NewReranker(DefaultWeights(), 0.3, 2)
	require.NoError(t, err)

	strong := highScoringChunk("auth/auth.go", "strong")
	weaker := highScoringChunk("auth/auth.go", "weaker")
	weaker.Similarity = 0.8
	weakest := highScoringChunk("auth/auth.go", "weakest")
	weakest.Similarity = 0.6

	out := r.Rerank("authenticate", []store.ScoredChunk{weakest, strong, weaker})
	require.Len(t, out, 2)
	assert.Equal(t, "strong", out[0].Chunk.ChunkID)
	assert.Equal(t, "weaker", out[1].Chunk.ChunkID)
}

func TestRerank_ConfidenceFilterDropsLowScores(t *testing.T) {
	r, err := NewReranker(DefaultWeights(), 0.3, 2)
	require.NoError(t, err)

	// No signal matches anything: score is well under the threshold.
	noise := store.ScoredChunk{
		Chunk:      store.CodeChunk{Kind: chunk.KindText, FilePath: "notes.txt", Content: "misc"},
		Similarity: 0.05,
	}

	out := r.Rerank("authenticate user password", []store.ScoredChunk{noise})
	assert.Empty(t, out)
}

func TestRerank_TieBreaksByPreRerankRank(t *testing.T) {
	r, err := NewReranker(DefaultWeights(), 0.1, 5)
	require.NoError(t, err)

	// Identical signals in different files: scores tie exactly.
	first := highScoringChunk("a/a.go", "first")
	second := highScoringChunk("b/b.go", "second")

	out := r.Rerank("authenticate", []store.ScoredChunk{first, second})
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Chunk.ChunkID, "pre-rerank order wins ties")
	assert.Equal(t, "second", out[1].Chunk.ChunkID)
}

func TestRerank_PreservesSimilarityAlongsideScore(t *testing.T) {
	r, err := NewReranker(DefaultWeights(), 0.1, 5)
	require.NoError(t, err)

	in := highScoringChunk("a/a.go", "c")
	in.Similarity = 0.9

	out := r.Rerank("authenticate", []store.ScoredChunk{in})
	require.Len(t, out, 1)
	assert.InDelta(t, 0.9, out[0].Similarity, 1e-9)
	assert.NotEqual(t, out[0].Score, out[0].Similarity, "combined score replaces raw similarity")
}

func TestRerank_EmptyInput(t *testing.T) {
	r, err := NewReranker(DefaultWeights(), 0.3, 2)
	require.NoError(t, err)
	assert.Empty(t, r.Rerank("query", nil))
}
