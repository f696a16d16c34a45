package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "embeddings.cache"), 10)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKey_Deterministic(t *testing.T) {
	k1 := Key("func add(a, b int) int", "document", "nomic-embed-text")
	k2 := Key("func add(a, b int) int", "document", "nomic-embed-text")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64) // hex sha256
}

func TestKey_SensitiveToAllInputs(t *testing.T) {
	base := Key("some text", "document", "model-a")

	assert.NotEqual(t, base, Key("other text", "document", "model-a"), "text changes key")
	assert.NotEqual(t, base, Key("some text", "query", "model-a"), "intent changes key")
	assert.NotEqual(t, base, Key("some text", "document", "model-b"), "model changes key")
}

func TestKey_SeparatorPreventsBoundaryCollisions(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide across field boundaries.
	assert.NotEqual(t, Key("ab", "c", "m"), Key("a", "bc", "m"))
}

func TestStore_PutGetRoundtrip(t *testing.T) {
	s := openTestStore(t)

	hash := Key("def authenticate(user)", "document", "static")
	vec := []float32{0.1, 0.2, 0.3}
	require.NoError(t, s.Put(hash, "def authenticate(user)", vec, map[string]string{"model": "static"}))

	got, ok := s.Get(hash)
	require.True(t, ok)
	assert.Equal(t, vec, got)
}

func TestStore_MissReturnsFalse(t *testing.T) {
	s := openTestStore(t)

	_, ok := s.Get(Key("never stored", "query", "static"))
	assert.False(t, ok)
}

func TestStore_PutOverwritesLastWriterWins(t *testing.T) {
	s := openTestStore(t)

	hash := Key("text", "document", "static")
	require.NoError(t, s.Put(hash, "text", []float32{1, 1}, nil))
	require.NoError(t, s.Put(hash, "text", []float32{2, 2}, nil))

	got, ok := s.Get(hash)
	require.True(t, ok)
	assert.Equal(t, []float32{2, 2}, got)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings.cache")
	hash := Key("persistent", "document", "static")

	s, err := Open(path, 10)
	require.NoError(t, err)
	require.NoError(t, s.Put(hash, "persistent", []float32{4, 5, 6}, nil))
	require.NoError(t, s.Close())

	s2, err := Open(path, 10)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	got, ok := s2.Get(hash)
	require.True(t, ok)
	assert.Equal(t, []float32{4, 5, 6}, got)
}

func TestStore_CorruptEntryIsAMissNotAnError(t *testing.T) {
	s := openTestStore(t)

	good := Key("good entry", "document", "static")
	require.NoError(t, s.Put(good, "good entry", []float32{1, 2}, nil))

	// Plant garbage bytes under another key, bypassing the encoder.
	bad := Key("bad entry", "document", "static")
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEmbeddings).Put([]byte(bad), []byte("not a gob stream"))
	})
	require.NoError(t, err)

	_, ok := s.Get(bad)
	assert.False(t, ok, "corrupt entry reads as a miss")

	// The rest of the cache keeps working.
	got, ok := s.Get(good)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)
}

func TestStore_Len(t *testing.T) {
	s := openTestStore(t)

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, s.Put(Key(text, "document", "static"), text, []float32{1}, nil))
	}

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
