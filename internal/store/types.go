// Package store persists code chunks with embeddings and serves similarity
// queries over them.
//
// Storage is a single SQLite database. Vectors live in chunk rows as packed
// float32 blobs; similarity is computed in process. Codebases above an
// indexing threshold get an IVFFlat-style partition index that narrows the
// candidate set before exact scoring.
package store

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/codescout/codescout/internal/chunk"
)

// Codebase identifies one indexed project.
type Codebase struct {
	ID     int64
	Name   string
	Source string

	// Dimensions is fixed by the first inserted chunk and immutable after.
	Dimensions int

	CreatedAt time.Time
}

// CodeChunk is a stored chunk with its embedding.
type CodeChunk struct {
	// RowID is the insertion-order key assigned by the store.
	RowID int64

	CodebaseID int64
	ChunkID    string
	Kind       chunk.Kind
	Language   string
	Name       string
	ParentName string
	FilePath   string
	Content    string
	Docstring  string

	// ContentHash is the canonical embedding cache key for the content.
	ContentHash string

	StartLine int
	EndLine   int

	Vector []float32
}

// ScoredChunk is a search result with its cosine similarity to the query.
type ScoredChunk struct {
	Chunk      CodeChunk
	Similarity float64
}

// Filters restrict a search. Zero-valued fields do not filter.
type Filters struct {
	Kind       chunk.Kind
	Language   string
	ParentName string
}

// InsertReport records the outcome of one insert_batch call. Results is
// ordered like the input.
type InsertReport struct {
	Inserted int
	Failed   int

	// BulkPathUsed is false when the bulk transaction failed and the store
	// fell back to per-chunk inserts.
	BulkPathUsed bool

	Results []InsertResult
}

// InsertResult is the per-chunk outcome within a report.
type InsertResult struct {
	ChunkID string
	Err     error
}

// IndexingHistory is the append-only record of one indexing run.
type IndexingHistory struct {
	ID           int64
	CodebaseName string
	StartedAt    time.Time
	FinishedAt   time.Time
	Outcome      string
	ChunksAdded  int
	ChunksFailed int
}

// Run outcomes recorded in IndexingHistory.
const (
	OutcomeCompleted = "completed"
	OutcomePartial   = "partial"
	OutcomeFailed    = "failed"
)

// encodeVector packs a float32 vector into a little-endian blob.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, val := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(val))
	}
	return buf
}

// decodeVector unpacks a blob written by encodeVector.
func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// cosineSimilarity computes cosine similarity between two vectors of equal
// length. Zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
