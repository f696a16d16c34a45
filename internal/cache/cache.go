// Package cache provides a content-addressed embedding cache.
//
// Entries are keyed by a SHA-256 digest of the embedded text plus the
// embedding intent and model, so identical content never hits the provider
// twice. The durable layer is a bbolt file; a small LRU in front of it
// absorbs repeated lookups within a session.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"
)

// DefaultMemoryEntries is the default in-memory LRU size.
const DefaultMemoryEntries = 1000

var bucketEmbeddings = []byte("embeddings")

// Entry is one cached embedding. Entries are immutable once written; a put
// for an existing hash overwrites the whole entry (last-writer-wins).
type Entry struct {
	Text      string
	Vector    []float32
	Metadata  map[string]string
	CreatedAt time.Time
}

// Store is the process-wide embedding cache. It is safe for concurrent use;
// writes are last-writer-wins per key with no cross-key locking.
type Store struct {
	db  *bolt.DB
	mem *lru.Cache[string, []float32]
}

// Key computes the canonical cache key for a text embedded under the given
// intent and model. The intent participates in the key because query and
// document embeddings of the same text are different vectors.
func Key(text, intent, model string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(intent))
	h.Write([]byte{0})
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}

// Open opens (creating if necessary) the cache at path.
func Open(path string, memoryEntries int) (*Store, error) {
	if memoryEntries <= 0 {
		memoryEntries = DefaultMemoryEntries
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEmbeddings)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}

	mem, _ := lru.New[string, []float32](memoryEntries)
	return &Store{db: db, mem: mem}, nil
}

// Get returns the cached vector for hash, or ok=false on a miss.
// A corrupt entry is treated as a miss, never as an error: one bad record
// must not block lookups of the rest of the cache.
func (s *Store) Get(hash string) ([]float32, bool) {
	if vec, ok := s.mem.Get(hash); ok {
		return vec, true
	}

	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketEmbeddings).Get([]byte(hash)); v != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}
		return nil
	})
	if err != nil || raw == nil {
		return nil, false
	}

	var entry Entry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entry); err != nil {
		slog.Warn("cache entry corrupt, treating as miss",
			slog.String("hash", hash),
			slog.String("error", err.Error()))
		return nil, false
	}

	s.mem.Add(hash, entry.Vector)
	return entry.Vector, true
}

// Put stores a vector under hash. Writing the same hash again overwrites
// the entry wholesale; callers must not rely on collision detection.
func (s *Store) Put(hash, text string, vector []float32, metadata map[string]string) error {
	entry := Entry{
		Text:      text,
		Vector:    vector,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&entry); err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEmbeddings).Put([]byte(hash), buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}

	s.mem.Add(hash, vector)
	return nil
}

// Len returns the number of durable entries.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketEmbeddings).Stats().KeyN
		return nil
	})
	return n, err
}

// Close flushes and closes the cache.
func (s *Store) Close() error {
	s.mem.Purge()
	return s.db.Close()
}
