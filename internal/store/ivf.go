package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/renameio"

	scouterr "github.com/codescout/codescout/internal/errors"
)

// PartitionCount returns the partition count for an index over n chunks:
// sqrt(n) clamped to [10, 1000]. Too few partitions degrades to near-linear
// scan; too many fragments small codebases.
func PartitionCount(n int) int {
	p := int(math.Sqrt(float64(n)))
	if p < 10 {
		return 10
	}
	if p > 1000 {
		return 1000
	}
	return p
}

// kmeansIterations bounds the clustering passes per rebuild. Centroid
// quality plateaus quickly on code embeddings; build time does not.
const kmeansIterations = 5

// ivfSnapshot is one immutable index version for a codebase. Readers hold a
// pointer to it for the duration of a search; a rebuild swaps in a new one.
type ivfSnapshot struct {
	Centroids [][]float32
	// Members maps partition index to the rowids assigned to it.
	Members [][]int64
}

// ivfManager owns the partition indexes for all codebases. Rebuilds are
// serialized per codebase with an in-process mutex plus a file lock, so two
// processes sharing a data directory cannot interleave snapshot writes.
type ivfManager struct {
	dir    string
	probes int

	mu        sync.RWMutex
	snapshots map[string]*ivfSnapshot

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func newIVFManager(dir string, probes int) *ivfManager {
	return &ivfManager{
		dir:       dir,
		probes:    probes,
		snapshots: make(map[string]*ivfSnapshot),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (m *ivfManager) codebaseLock(name string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	if l, ok := m.locks[name]; ok {
		return l
	}
	l := &sync.Mutex{}
	m.locks[name] = l
	return l
}

func (m *ivfManager) snapshotPath(name string) string {
	return filepath.Join(m.dir, name+".ivf")
}

// Candidates returns the rowids in the probed partitions nearest to
// queryVector, or nil when the codebase has no index (exact scan).
func (m *ivfManager) Candidates(name string, queryVector []float32) []int64 {
	m.mu.RLock()
	snap, ok := m.snapshots[name]
	m.mu.RUnlock()
	if !ok {
		snap = m.load(name)
		if snap == nil {
			return nil
		}
	}

	type scored struct {
		idx int
		sim float64
	}
	parts := make([]scored, len(snap.Centroids))
	for i, c := range snap.Centroids {
		parts[i] = scored{idx: i, sim: cosineSimilarity(queryVector, c)}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].sim > parts[j].sim })

	probes := min(m.probes, len(parts))
	var ids []int64
	for _, p := range parts[:probes] {
		ids = append(ids, snap.Members[p.idx]...)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids
}

// load reads a persisted snapshot from disk, caching it in memory.
// Returns nil when none exists or the file is unreadable.
func (m *ivfManager) load(name string) *ivfSnapshot {
	data, err := os.ReadFile(m.snapshotPath(name))
	if err != nil {
		return nil
	}
	var snap ivfSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil
	}

	m.mu.Lock()
	m.snapshots[name] = &snap
	m.mu.Unlock()
	return &snap
}

// Rebuild clusters the codebase's vectors into partitions and atomically
// swaps the snapshot. Searches running concurrently keep the old snapshot.
func (m *ivfManager) Rebuild(ctx context.Context, name string, ids []int64, vectors [][]float32) error {
	lock := m.codebaseLock(name)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return scouterr.Wrap(scouterr.ErrCodeIndexFailed, err)
	}

	fl := flock.New(m.snapshotPath(name) + ".lock")
	if err := fl.Lock(); err != nil {
		return scouterr.Wrap(scouterr.ErrCodeIndexFailed, err)
	}
	defer func() { _ = fl.Unlock() }()

	snap, err := buildSnapshot(ctx, ids, vectors)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return scouterr.Wrap(scouterr.ErrCodeIndexFailed, err)
	}
	// Atomic replace keeps a crashed rebuild from leaving a torn snapshot.
	if err := renameio.WriteFile(m.snapshotPath(name), buf.Bytes(), 0o644); err != nil {
		return scouterr.Wrap(scouterr.ErrCodeIndexFailed, err)
	}

	m.mu.Lock()
	m.snapshots[name] = snap
	m.mu.Unlock()
	return nil
}

// Drop removes a codebase's snapshot, in memory and on disk.
func (m *ivfManager) Drop(name string) error {
	lock := m.codebaseLock(name)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	delete(m.snapshots, name)
	m.mu.Unlock()

	if err := os.Remove(m.snapshotPath(name)); err != nil && !os.IsNotExist(err) {
		return scouterr.Wrap(scouterr.ErrCodeIndexFailed, err)
	}
	return nil
}

// buildSnapshot runs a bounded k-means over the vectors. Initial centroids
// are spread evenly across insertion order, which is deterministic and good
// enough as a seed.
func buildSnapshot(ctx context.Context, ids []int64, vectors [][]float32) (*ivfSnapshot, error) {
	n := len(vectors)
	if n == 0 || len(ids) != n {
		return nil, fmt.Errorf("index build requires matching ids and vectors, got %d/%d", len(ids), n)
	}

	k := min(PartitionCount(n), n)
	dims := len(vectors[0])

	centroids := make([][]float32, k)
	for i := range centroids {
		src := vectors[i*n/k]
		centroids[i] = append([]float32(nil), src...)
	}

	assignments := make([]int, n)
	for iter := 0; iter < kmeansIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false
		for i, v := range vectors {
			best, bestSim := 0, math.Inf(-1)
			for j, c := range centroids {
				if sim := cosineSimilarity(v, c); sim > bestSim {
					best, bestSim = j, sim
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dims)
		}
		for i, v := range vectors {
			a := assignments[i]
			counts[a]++
			for d, val := range v {
				sums[a][d] += float64(val)
			}
		}
		for j := range centroids {
			if counts[j] == 0 {
				continue
			}
			for d := range centroids[j] {
				centroids[j][d] = float32(sums[j][d] / float64(counts[j]))
			}
		}
	}

	members := make([][]int64, k)
	for i, a := range assignments {
		members[a] = append(members[a], ids[i])
	}

	return &ivfSnapshot{Centroids: centroids, Members: members}, nil
}
