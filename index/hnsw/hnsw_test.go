package hnsw

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyaamik/matchengine/vector"
	"github.com/vyaamik/matchengine/vectorstore"
)

func randomVec(rng *rand.Rand, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func TestInsertAndSearchSingle(t *testing.T) {
	ix := New(Config{RandomSeed: 1})

	vec := make([]float32, 384)
	vec[0] = 1.0
	require.NoError(t, ix.Insert("j1", vec))

	matches, err := ix.Search(vec, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "j1", matches[0].ID)
	assert.InDelta(t, 0.0, matches[0].Distance, 1e-5)
}

func TestSearchEmptyIndex(t *testing.T) {
	ix := New(Config{RandomSeed: 1})

	matches, err := ix.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchInvalidK(t *testing.T) {
	ix := New(Config{RandomSeed: 1})
	_, err := ix.Search([]float32{1, 0}, 0)
	assert.Error(t, err)
}

func TestRecallAgainstExactScan(t *testing.T) {
	const (
		dims    = 32
		nVecs   = 45
		queries = 100
	)

	rng := rand.New(rand.NewSource(99))
	ix := New(Config{RandomSeed: 7})
	store := vectorstore.NewMemoryStore()
	ctx := context.Background()

	for i := range nVecs {
		id := fmt.Sprintf("e%03d", i)
		v := randomVec(rng, dims)
		require.NoError(t, ix.Insert(id, v))
		require.NoError(t, store.Upsert(ctx, "job", id, v))
	}

	agree := 0
	for range queries {
		q := randomVec(rng, dims)

		approx, err := ix.Search(q, 1)
		require.NoError(t, err)
		require.Len(t, approx, 1)

		exact, err := vectorstore.ExactSearch(ctx, store, "job", q, 1, vector.CosineDistance)
		require.NoError(t, err)
		require.Len(t, exact, 1)

		if approx[0].ID == exact[0].ID {
			agree++
		}
	}

	// Recall bound: top-1 agreement on a small dataset must be >= 95%.
	assert.GreaterOrEqual(t, agree, 95, "top-1 recall too low: %d/%d", agree, queries)
}

func TestInsertAllDeleteAll(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ix := New(Config{RandomSeed: 3})

	const n = 30
	for i := range n {
		require.NoError(t, ix.Insert(fmt.Sprintf("e%d", i), randomVec(rng, 8)))
	}
	assert.Equal(t, n, ix.Len())

	for i := range n {
		require.NoError(t, ix.Delete(fmt.Sprintf("e%d", i)))
	}
	assert.Equal(t, 0, ix.Len())

	matches, err := ix.Search(randomVec(rng, 8), 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

// requireSymmetricEdges asserts every edge appears in both adjacency lists.
// Delete walks only the deleted node's own lists, so a one-way edge would
// leave a dangling reference behind.
func requireSymmetricEdges(t *testing.T, ix *Index) {
	t.Helper()
	for idx := range ix.nodes {
		n := &ix.nodes[idx]
		for l, neighbors := range n.Neighbors {
			for _, peer := range neighbors {
				require.Less(t, int(peer), len(ix.nodes))
				require.Greater(t, len(ix.nodes[peer].Neighbors), l,
					"node %d lists %d at level %d but peer has no such level", idx, peer, l)
				require.Contains(t, ix.nodes[peer].Neighbors[l], uint32(idx),
					"edge %d->%d at level %d is one-way", idx, peer, l)
			}
		}
	}
}

func TestEdgesStaySymmetricUnderPruning(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	ix := New(Config{RandomSeed: 17, M: 2})

	// A tiny M forces heavy pruning while linking.
	for i := range 60 {
		require.NoError(t, ix.Insert(fmt.Sprintf("e%d", i), randomVec(rng, 8)))
	}
	requireSymmetricEdges(t, ix)
}

func TestSearchStaysUsableAcrossDeletes(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	ix := New(Config{RandomSeed: 23, M: 2})

	const n = 60
	vecs := make([][]float32, n)
	for i := range n {
		vecs[i] = randomVec(rng, 8)
		require.NoError(t, ix.Insert(fmt.Sprintf("e%d", i), vecs[i]))
	}

	// Interleave deletes with searches; no delete may leave an edge pointing
	// at a tombstone, so every search must keep succeeding.
	for i := range n {
		require.NoError(t, ix.Delete(fmt.Sprintf("e%d", i)))
		matches, err := ix.Search(vecs[i], 3)
		require.NoError(t, err)
		for _, m := range matches {
			assert.NotEqual(t, fmt.Sprintf("e%d", i), m.ID)
		}
	}
	assert.Equal(t, 0, ix.Len())
}

func TestDeleteMissingIsNoop(t *testing.T) {
	ix := New(Config{RandomSeed: 1})
	require.NoError(t, ix.Delete("ghost"))
}

func TestDeleteEntryPointReelects(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	ix := New(Config{RandomSeed: 11})

	vecs := make(map[string][]float32)
	for i := range 20 {
		id := fmt.Sprintf("e%d", i)
		v := randomVec(rng, 16)
		vecs[id] = v
		require.NoError(t, ix.Insert(id, v))
	}

	// Delete half; remaining half must stay searchable.
	for i := 0; i < 10; i++ {
		require.NoError(t, ix.Delete(fmt.Sprintf("e%d", i)))
	}

	for i := 10; i < 20; i++ {
		id := fmt.Sprintf("e%d", i)
		matches, err := ix.Search(vecs[id], 1)
		require.NoError(t, err)
		require.NotEmpty(t, matches)
		assert.Equal(t, id, matches[0].ID)
	}
}

func TestReinsertReplacesVector(t *testing.T) {
	ix := New(Config{RandomSeed: 5})

	require.NoError(t, ix.Insert("e1", []float32{1, 0}))
	require.NoError(t, ix.Insert("e1", []float32{0, 1}))
	assert.Equal(t, 1, ix.Len())

	matches, err := ix.Search([]float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "e1", matches[0].ID)
	assert.InDelta(t, 0.0, matches[0].Distance, 1e-5)
}

func TestReplayIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	ix := New(Config{RandomSeed: 21})

	vecs := make(map[string][]float32)
	for i := range 25 {
		id := fmt.Sprintf("e%d", i)
		vecs[id] = randomVec(rng, 16)
	}

	// Two full replays, as a rebuild after suspected corruption would do.
	for range 2 {
		for id, v := range vecs {
			require.NoError(t, ix.Insert(id, v))
		}
	}
	assert.Equal(t, 25, ix.Len())

	for id, v := range vecs {
		matches, err := ix.Search(v, 1)
		require.NoError(t, err)
		require.NotEmpty(t, matches)
		assert.Equal(t, id, matches[0].ID)
	}
}

func TestResetClearsGraph(t *testing.T) {
	ix := New(Config{RandomSeed: 2})
	require.NoError(t, ix.Insert("e1", []float32{1, 0}))
	ix.Reset()

	assert.Equal(t, 0, ix.Len())
	matches, err := ix.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Empty(t, matches)

	// The index stays usable after a reset.
	require.NoError(t, ix.Insert("e2", []float32{0, 1}))
	assert.Equal(t, 1, ix.Len())
}

func TestSearchTiesBrokenByID(t *testing.T) {
	ix := New(Config{RandomSeed: 13})

	require.NoError(t, ix.Insert("z", []float32{1, 0}))
	require.NoError(t, ix.Insert("a", []float32{1, 0}))

	matches, err := ix.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "z", matches[1].ID)
}

func TestSnapshotRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	ix := New(Config{RandomSeed: 31})

	vecs := make(map[string][]float32)
	for i := range 20 {
		id := fmt.Sprintf("e%d", i)
		vecs[id] = randomVec(rng, 16)
		require.NoError(t, ix.Insert(id, vecs[id]))
	}
	require.NoError(t, ix.Delete("e3"))

	data, err := ix.Marshal()
	require.NoError(t, err)

	restored := New(Config{RandomSeed: 31})
	require.NoError(t, restored.Unmarshal(data))
	assert.Equal(t, ix.Len(), restored.Len())

	for id, v := range vecs {
		if id == "e3" {
			continue
		}
		matches, err := restored.Search(v, 1)
		require.NoError(t, err)
		require.NotEmpty(t, matches)
		assert.Equal(t, id, matches[0].ID)
	}
}

func TestSnapshotMismatchedM(t *testing.T) {
	ix := New(Config{RandomSeed: 1, M: 16})
	require.NoError(t, ix.Insert("e1", []float32{1, 0}))

	data, err := ix.Marshal()
	require.NoError(t, err)

	other := New(Config{RandomSeed: 1, M: 8})
	assert.Error(t, other.Unmarshal(data))
}

func TestStats(t *testing.T) {
	ix := New(Config{RandomSeed: 4})
	require.NoError(t, ix.Insert("e1", []float32{1, 0}))
	require.NoError(t, ix.Insert("e2", []float32{0, 1}))
	require.NoError(t, ix.Delete("e1"))

	s := ix.Stats()
	assert.Equal(t, 1, s.Live)
	assert.Equal(t, 1, s.Tombstoned)
}
