// Package chunk splits source files into semantic units for indexing.
//
// Supported languages are parsed with tree-sitter and chunked along symbol
// boundaries (functions, methods, classes). Unsupported or unparseable files
// fall back to fixed-size line windows.
package chunk

import (
	"context"
	"time"
)

// Kind classifies a chunk by the syntactic unit it was cut from.
type Kind string

const (
	KindFunction Kind = "function"
	KindMethod   Kind = "method"
	KindClass    Kind = "class"
	KindText     Kind = "text"
)

// Chunk is one indexable unit of source code.
type Chunk struct {
	// ID is content-addressed: stable across line shifts, changed on edit.
	ID string

	FilePath string
	Language string
	Kind     Kind

	// Name is the symbol name; empty for text chunks.
	Name string

	// ParentName is the enclosing class or receiver type, when any.
	ParentName string

	// Content is the chunk source text.
	Content string

	// Docstring is the documentation attached to the symbol, when any.
	Docstring string

	StartLine int
	EndLine   int

	CreatedAt time.Time
}

// FileInput is one source file to chunk.
type FileInput struct {
	Path     string
	Language string
	Content  []byte
}

// Chunker splits a file into chunks.
type Chunker interface {
	// Parse splits the file. A syntactically broken file falls back to
	// line windows rather than erroring.
	Parse(ctx context.Context, file *FileInput) ([]*Chunk, error)

	// SupportedExtensions lists extensions handled with AST chunking.
	SupportedExtensions() []string

	// Close releases parser resources.
	Close()
}

// fallbackWindowLines is the window size for line-based fallback chunking.
const fallbackWindowLines = 50
