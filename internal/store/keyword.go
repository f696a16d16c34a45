package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
)

// KeywordIndex provides BM25 keyword search over chunks, backing the keyword
// and hybrid search modes. It is a sidecar to the SQLite store; documents
// are keyed by chunk rowid so hits join back to stored chunks.
type KeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

// keywordDoc is the indexed document shape. Name is duplicated into the
// content stream so symbol names dominate plain-text matches.
type keywordDoc struct {
	Codebase string `json:"codebase"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	FilePath string `json:"file_path"`
}

// KeywordHit is one keyword search result.
type KeywordHit struct {
	RowID int64
	Score float64
}

// OpenKeywordIndex opens (creating if necessary) the keyword index at path.
// An empty path creates an in-memory index.
func OpenKeywordIndex(path string) (*KeywordIndex, error) {
	mapping := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	codebaseField := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("codebase", codebaseField)
	mapping.DefaultMapping = docMapping

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create keyword index directory: %w", err)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	return &KeywordIndex{index: idx}, nil
}

// Index adds stored chunks to the keyword index in one batch.
func (k *KeywordIndex) Index(codebaseName string, chunks []CodeChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := k.index.NewBatch()
	for _, c := range chunks {
		doc := keywordDoc{
			Codebase: codebaseName,
			Name:     c.Name,
			Content:  c.Name + " " + c.Docstring + " " + c.Content,
			FilePath: c.FilePath,
		}
		if err := batch.Index(strconv.FormatInt(c.RowID, 10), doc); err != nil {
			return fmt.Errorf("index chunk %d: %w", c.RowID, err)
		}
	}
	if err := k.index.Batch(batch); err != nil {
		return fmt.Errorf("keyword index batch: %w", err)
	}
	return nil
}

// Search returns chunks of codebaseName matching query, best first.
func (k *KeywordIndex) Search(ctx context.Context, codebaseName, query string, limit int) ([]KeywordHit, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	match := bleve.NewMatchQuery(query)
	scope := bleve.NewTermQuery(codebaseName)
	scope.SetField("codebase")
	conj := bleve.NewConjunctionQuery(scope, match)

	req := bleve.NewSearchRequest(conj)
	req.Size = limit

	result, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	hits := make([]KeywordHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, KeywordHit{RowID: id, Score: hit.Score})
	}
	return hits, nil
}

// DeleteCodebase removes all documents of one codebase.
func (k *KeywordIndex) DeleteCodebase(ctx context.Context, codebaseName string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return fmt.Errorf("keyword index is closed")
	}

	scope := bleve.NewTermQuery(codebaseName)
	scope.SetField("codebase")
	req := bleve.NewSearchRequest(scope)
	docCount, _ := k.index.DocCount()
	req.Size = int(docCount)

	result, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("keyword delete scan: %w", err)
	}

	batch := k.index.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	if err := k.index.Batch(batch); err != nil {
		return fmt.Errorf("keyword delete batch: %w", err)
	}
	return nil
}

// Close closes the index.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.index.Close()
}
