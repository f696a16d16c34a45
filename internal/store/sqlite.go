package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/codescout/codescout/internal/chunk"
	scouterr "github.com/codescout/codescout/internal/errors"
)

// DefaultInsertBatchSize is the maximum chunks per bulk insert.
const DefaultInsertBatchSize = 1000

// Options configures the store.
type Options struct {
	// InsertBatchSize caps the bulk insert path (default 1000).
	InsertBatchSize int

	// IndexThreshold is the chunk count at which a codebase gets an
	// approximate index (default 1000).
	IndexThreshold int

	// Probes is the number of partitions scanned per indexed query
	// (default 8).
	Probes int
}

// Store is the SQLite-backed chunk store.
type Store struct {
	db   *sql.DB
	path string
	opts Options

	ivf *ivfManager

	// bulkHook, when set, is invoked inside the bulk insert transaction.
	// An error fails the bulk path and exercises the per-chunk fallback.
	// Test seam only.
	bulkHook func() error
}

// Open opens (creating if necessary) the store at path. Index snapshots are
// kept next to the database file.
func Open(path string, opts Options) (*Store, error) {
	if opts.InsertBatchSize <= 0 {
		opts.InsertBatchSize = DefaultInsertBatchSize
	}
	if opts.IndexThreshold <= 0 {
		opts.IndexThreshold = 1000
	}
	if opts.Probes <= 0 {
		opts.Probes = 8
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}

	// Single writer prevents lock contention under the pure Go driver.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// DSN params may be ignored by modernc.org/sqlite; set pragmas explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
		}
	}

	s := &Store{
		db:   db,
		path: path,
		opts: opts,
		ivf:  newIVFManager(filepath.Join(filepath.Dir(path), "index"), opts.Probes),
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS codebases (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL UNIQUE,
		source     TEXT NOT NULL DEFAULT '',
		dimensions INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		rowid        INTEGER PRIMARY KEY AUTOINCREMENT,
		codebase_id  INTEGER NOT NULL REFERENCES codebases(id),
		chunk_id     TEXT NOT NULL,
		kind         TEXT NOT NULL,
		language     TEXT NOT NULL DEFAULT '',
		name         TEXT NOT NULL DEFAULT '',
		parent_name  TEXT NOT NULL DEFAULT '',
		file_path    TEXT NOT NULL DEFAULT '',
		content      TEXT NOT NULL,
		docstring    TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		start_line   INTEGER NOT NULL DEFAULT 0,
		end_line     INTEGER NOT NULL DEFAULT 0,
		vector       BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_codebase ON chunks(codebase_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_kind     ON chunks(codebase_id, kind);
	CREATE INDEX IF NOT EXISTS idx_chunks_language ON chunks(codebase_id, language);
	CREATE INDEX IF NOT EXISTS idx_chunks_name     ON chunks(codebase_id, name);
	CREATE INDEX IF NOT EXISTS idx_chunks_parent   ON chunks(codebase_id, parent_name);
	CREATE INDEX IF NOT EXISTS idx_chunks_file     ON chunks(codebase_id, file_path);

	CREATE TABLE IF NOT EXISTS indexing_history (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		codebase_name TEXT NOT NULL,
		started_at    TIMESTAMP NOT NULL,
		finished_at   TIMESTAMP NOT NULL,
		outcome       TEXT NOT NULL,
		chunks_added  INTEGER NOT NULL,
		chunks_failed INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	return nil
}

// EnsureCodebase returns the codebase named name, creating it if absent.
func (s *Store) EnsureCodebase(ctx context.Context, name, source string) (*Codebase, error) {
	if cb, err := s.GetCodebase(ctx, name); err == nil {
		return cb, nil
	} else if scouterr.GetCode(err) != scouterr.ErrCodeCodebaseNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO codebases (name, source, dimensions, created_at) VALUES (?, ?, 0, ?)`,
		name, source, now)
	if err != nil {
		return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	id, _ := res.LastInsertId()
	return &Codebase{ID: id, Name: name, Source: source, CreatedAt: now}, nil
}

// GetCodebase looks up a codebase by name.
func (s *Store) GetCodebase(ctx context.Context, name string) (*Codebase, error) {
	var cb Codebase
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, source, dimensions, created_at FROM codebases WHERE name = ?`, name).
		Scan(&cb.ID, &cb.Name, &cb.Source, &cb.Dimensions, &cb.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, scouterr.Newf(scouterr.ErrCodeCodebaseNotFound, "codebase %q not found", name)
	}
	if err != nil {
		return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	return &cb, nil
}

// ListCodebases returns all codebases with their chunk counts.
func (s *Store) ListCodebases(ctx context.Context) ([]Codebase, map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, source, dimensions, created_at FROM codebases ORDER BY name`)
	if err != nil {
		return nil, nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var list []Codebase
	for rows.Next() {
		var cb Codebase
		if err := rows.Scan(&cb.ID, &cb.Name, &cb.Source, &cb.Dimensions, &cb.CreatedAt); err != nil {
			return nil, nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
		}
		list = append(list, cb)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}

	counts := make(map[string]int, len(list))
	for _, cb := range list {
		n, err := s.CountChunks(ctx, cb.ID)
		if err != nil {
			return nil, nil, err
		}
		counts[cb.Name] = n
	}
	return list, counts, nil
}

// CountChunks returns the chunk count for a codebase.
func (s *Store) CountChunks(ctx context.Context, codebaseID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE codebase_id = ?`, codebaseID).Scan(&n)
	if err != nil {
		return 0, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	return n, nil
}

// InsertBatch writes chunks for a codebase. A single transaction covers the
// bulk path; if it fails, every chunk is retried individually so a bulk
// failure never loses chunks that succeed on their own. The report preserves
// input order.
//
// All vectors must match the codebase's dimensionality. The first insert for
// a codebase fixes it; a mismatched batch is rejected wholesale with
// DimensionMismatch before anything is written.
func (s *Store) InsertBatch(ctx context.Context, codebase *Codebase, chunks []CodeChunk) (*InsertReport, error) {
	report := &InsertReport{Results: make([]InsertResult, 0, len(chunks))}
	if len(chunks) == 0 {
		report.BulkPathUsed = true
		return report, nil
	}
	if len(chunks) > s.opts.InsertBatchSize {
		return nil, scouterr.Newf(scouterr.ErrCodeInternal,
			"batch of %d exceeds insert batch size %d", len(chunks), s.opts.InsertBatchSize)
	}

	dims := codebase.Dimensions
	if dims == 0 {
		dims = len(chunks[0].Vector)
	}
	for _, c := range chunks {
		if len(c.Vector) != dims {
			return nil, scouterr.DimensionMismatch(dims, len(c.Vector)).
				WithDetail("chunk_id", c.ChunkID)
		}
	}

	if codebase.Dimensions == 0 {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE codebases SET dimensions = ? WHERE id = ? AND dimensions = 0`,
			dims, codebase.ID); err != nil {
			return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
		}
		codebase.Dimensions = dims
	}

	if err := s.insertBulk(ctx, codebase.ID, chunks); err == nil {
		report.BulkPathUsed = true
		report.Inserted = len(chunks)
		for _, c := range chunks {
			report.Results = append(report.Results, InsertResult{ChunkID: c.ChunkID})
		}
		return report, nil
	} else {
		slog.Warn("bulk insert failed, falling back to per-chunk inserts",
			slog.String("codebase", codebase.Name),
			slog.Int("chunks", len(chunks)),
			slog.String("error", err.Error()))
	}

	for _, c := range chunks {
		err := s.insertOne(ctx, codebase.ID, c)
		report.Results = append(report.Results, InsertResult{ChunkID: c.ChunkID, Err: err})
		if err != nil {
			report.Failed++
		} else {
			report.Inserted++
		}
	}

	if report.Failed > 0 {
		return report, scouterr.Newf(scouterr.ErrCodeInsertPartial,
			"inserted %d of %d chunks", report.Inserted, len(chunks))
	}
	return report, nil
}

const insertChunkSQL = `
	INSERT INTO chunks
		(codebase_id, chunk_id, kind, language, name, parent_name,
		 file_path, content, docstring, content_hash, start_line, end_line, vector)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Store) insertBulk(ctx context.Context, codebaseID int64, chunks []CodeChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if s.bulkHook != nil {
		if err := s.bulkHook(); err != nil {
			return err
		}
	}

	stmt, err := tx.PrepareContext(ctx, insertChunkSQL)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			codebaseID, c.ChunkID, string(c.Kind), c.Language, c.Name, c.ParentName,
			c.FilePath, c.Content, c.Docstring, c.ContentHash,
			c.StartLine, c.EndLine, encodeVector(c.Vector)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) insertOne(ctx context.Context, codebaseID int64, c CodeChunk) error {
	_, err := s.db.ExecContext(ctx, insertChunkSQL,
		codebaseID, c.ChunkID, string(c.Kind), c.Language, c.Name, c.ParentName,
		c.FilePath, c.Content, c.Docstring, c.ContentHash,
		c.StartLine, c.EndLine, encodeVector(c.Vector))
	return err
}

// Search returns the top_k chunks of a codebase closest to queryVector under
// cosine distance, restricted by filters. Ordering is a total order by
// similarity descending, then insertion order ascending.
//
// Codebases with an index snapshot are scanned through it; everything else
// is an exact scan.
func (s *Store) Search(ctx context.Context, codebase *Codebase, queryVector []float32, filters Filters, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	if codebase.Dimensions != 0 && len(queryVector) != codebase.Dimensions {
		return nil, scouterr.DimensionMismatch(codebase.Dimensions, len(queryVector))
	}

	candidateIDs := s.ivf.Candidates(codebase.Name, queryVector)

	rows, err := s.queryChunks(ctx, codebase.ID, filters, candidateIDs)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredChunk, 0, len(rows))
	for _, c := range rows {
		scored = append(scored, ScoredChunk{
			Chunk:      c,
			Similarity: cosineSimilarity(queryVector, c.Vector),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Chunk.RowID < scored[j].Chunk.RowID
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// queryChunks loads codebase chunks matching filters, optionally restricted
// to an index candidate set.
func (s *Store) queryChunks(ctx context.Context, codebaseID int64, filters Filters, candidateIDs []int64) ([]CodeChunk, error) {
	query := `SELECT rowid, codebase_id, chunk_id, kind, language, name, parent_name,
		file_path, content, docstring, content_hash, start_line, end_line, vector
		FROM chunks WHERE codebase_id = ?`
	args := []any{codebaseID}

	if filters.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filters.Kind))
	}
	if filters.Language != "" {
		query += " AND language = ?"
		args = append(args, filters.Language)
	}
	if filters.ParentName != "" {
		query += " AND parent_name = ?"
		args = append(args, filters.ParentName)
	}
	if candidateIDs != nil {
		if len(candidateIDs) == 0 {
			return nil, nil
		}
		query += " AND rowid IN ("
		for i, id := range candidateIDs {
			if i > 0 {
				query += ","
			}
			query += "?"
			args = append(args, id)
		}
		query += ")"
	}
	query += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []CodeChunk
	for rows.Next() {
		var c CodeChunk
		var kind string
		var blob []byte
		if err := rows.Scan(&c.RowID, &c.CodebaseID, &c.ChunkID, &kind, &c.Language,
			&c.Name, &c.ParentName, &c.FilePath, &c.Content, &c.Docstring,
			&c.ContentHash, &c.StartLine, &c.EndLine, &blob); err != nil {
			return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
		}
		c.Kind = chunk.Kind(kind)
		c.Vector = decodeVector(blob)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	return out, nil
}

// ChunksByRowID loads specific chunks of a codebase, preserving the order
// of ids. Unknown ids are skipped.
func (s *Store) ChunksByRowID(ctx context.Context, codebaseID int64, ids []int64) ([]CodeChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.queryChunks(ctx, codebaseID, Filters{}, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]CodeChunk, len(rows))
	for _, c := range rows {
		byID[c.RowID] = c
	}
	out := make([]CodeChunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// RecentChunks returns the last n inserted chunks of a codebase in
// insertion order.
func (s *Store) RecentChunks(ctx context.Context, codebaseID int64, n int) ([]CodeChunk, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid FROM chunks WHERE codebase_id = ? ORDER BY rowid DESC LIMIT ?`,
		codebaseID, n)
	if err != nil {
		return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}

	// Reverse into insertion order.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return s.ChunksByRowID(ctx, codebaseID, ids)
}

// MaintainIndex rebuilds the approximate index for a codebase when its
// chunk count is at or above the threshold, and drops it when below.
// Rebuilds are serialized per codebase; concurrent searches keep using the
// previous snapshot until the swap.
func (s *Store) MaintainIndex(ctx context.Context, codebase *Codebase) error {
	n, err := s.CountChunks(ctx, codebase.ID)
	if err != nil {
		return err
	}

	if n < s.opts.IndexThreshold {
		return s.ivf.Drop(codebase.Name)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid, vector FROM chunks WHERE codebase_id = ? ORDER BY rowid`, codebase.ID)
	if err != nil {
		return scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]int64, 0, n)
	vectors := make([][]float32, 0, n)
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
		}
		ids = append(ids, id)
		vectors = append(vectors, decodeVector(blob))
	}
	if err := rows.Err(); err != nil {
		return scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}

	return s.ivf.Rebuild(ctx, codebase.Name, ids, vectors)
}

// DeleteCodebase removes a codebase and all its chunks in one transaction,
// then drops its index snapshot. History rows are retained for audit.
func (s *Store) DeleteCodebase(ctx context.Context, name string) error {
	cb, err := s.GetCodebase(ctx, name)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE codebase_id = ?`, cb.ID); err != nil {
		return scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM codebases WHERE id = ?`, cb.ID); err != nil {
		return scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}

	return s.ivf.Drop(name)
}

// DeleteFileChunks removes the chunks of one file within a codebase,
// used when re-indexing a changed file.
func (s *Store) DeleteFileChunks(ctx context.Context, codebaseID int64, filePath string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE codebase_id = ? AND file_path = ?`, codebaseID, filePath)
	if err != nil {
		return scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	return nil
}

// RecordRun appends one indexing run to the history.
func (s *Store) RecordRun(ctx context.Context, run IndexingHistory) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO indexing_history
			(codebase_name, started_at, finished_at, outcome, chunks_added, chunks_failed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.CodebaseName, run.StartedAt, run.FinishedAt, run.Outcome,
		run.ChunksAdded, run.ChunksFailed)
	if err != nil {
		return scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	return nil
}

// History returns the most recent indexing runs for a codebase.
func (s *Store) History(ctx context.Context, codebaseName string, limit int) ([]IndexingHistory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, codebase_name, started_at, finished_at, outcome, chunks_added, chunks_failed
		FROM indexing_history WHERE codebase_name = ?
		ORDER BY id DESC LIMIT ?`, codebaseName, limit)
	if err != nil {
		return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var out []IndexingHistory
	for rows.Next() {
		var h IndexingHistory
		if err := rows.Scan(&h.ID, &h.CodebaseName, &h.StartedAt, &h.FinishedAt,
			&h.Outcome, &h.ChunksAdded, &h.ChunksFailed); err != nil {
			return nil, scouterr.Wrap(scouterr.ErrCodeStoreUnavailable, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
