package searcher

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinQueueOrdering(t *testing.T) {
	q := NewQueue(false)
	rng := rand.New(rand.NewSource(1))

	want := make([]float32, 0, 50)
	for i := range 50 {
		d := rng.Float32()
		want = append(want, d)
		q.Push(Candidate{Node: uint32(i), Dist: d})
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	for _, w := range want {
		c, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, w, c.Dist)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestMaxQueueTopIsWorst(t *testing.T) {
	q := NewQueue(true)
	q.Push(Candidate{Node: 1, Dist: 0.5})
	q.Push(Candidate{Node: 2, Dist: 0.9})
	q.Push(Candidate{Node: 3, Dist: 0.1})

	top, ok := q.Top()
	require.True(t, ok)
	assert.Equal(t, uint32(2), top.Node)

	q.Pop()
	top, _ = q.Top()
	assert.Equal(t, uint32(1), top.Node)
}

func TestQueueReset(t *testing.T) {
	q := NewQueue(false)
	q.Push(Candidate{Node: 1, Dist: 1})
	q.Reset()
	assert.Equal(t, 0, q.Len())
	_, ok := q.Top()
	assert.False(t, ok)
}

func TestVisited(t *testing.T) {
	v := NewVisited(8)

	assert.False(t, v.Seen(3))
	v.Visit(3)
	assert.True(t, v.Seen(3))

	// Past initial capacity forces growth.
	v.Visit(1000)
	assert.True(t, v.Seen(1000))
	assert.False(t, v.Seen(999))

	v.Reset()
	assert.False(t, v.Seen(3))
	assert.False(t, v.Seen(1000))
}

func TestVisitedDoubleVisit(t *testing.T) {
	v := NewVisited(8)
	v.Visit(5)
	v.Visit(5)
	v.Reset()
	assert.False(t, v.Seen(5))
}
