// Package hnsw implements a per-entity-type approximate-neighbor graph: a
// multi-layer small-world structure supporting insert, delete and top-K
// query.
//
// The index is derived state. It is fully reconstructible from the vector
// store by replaying inserts, and callers are expected to fall back to an
// exact scan whenever Search reports corruption.
//
// Concurrency: a single RWMutex guards the graph. Writers are serialized;
// readers run concurrently against the last consistent graph and can never
// observe a half-linked node.
package hnsw

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/vyaamik/matchengine/index/hnsw/internal/searcher"
	"github.com/vyaamik/matchengine/vector"
)

const (
	// DefaultM is the default number of bidirectional links per node.
	DefaultM = 16

	// DefaultEfConstruction is the default construction beam width.
	DefaultEfConstruction = 200

	// DefaultEfSearch is the default query beam width.
	DefaultEfSearch = 100

	// maxAssignableLevel bounds the level draw so a pathological U cannot
	// allocate an absurd neighbor table.
	maxAssignableLevel = 32

	mmax0Multiplier = 2
	minimumM        = 2
)

// ErrCorrupted indicates the graph violated a structural invariant (dangling
// entry point, neighbor reference out of range). Callers must treat results
// as unusable and fall back to an exact scan.
var ErrCorrupted = errors.New("proximity graph corrupted")

// Config configures an Index.
type Config struct {
	// M is the max bidirectional links per node per layer; layer 0 allows 2*M.
	M int
	// EfConstruction is the beam width while linking a new node.
	EfConstruction int
	// EfSearch is the beam width at layer 0 during queries.
	EfSearch int
	// LevelMult is the decay parameter of the level distribution:
	// level = floor(-ln(U) * LevelMult). Defaults to 1/ln(2).
	LevelMult float64
	// RandomSeed pins the level RNG; 0 seeds from the clock.
	RandomSeed int64
	// DistFn is the distance between two vectors. Defaults to cosine distance.
	DistFn func(a, b []float32) float32
}

func (c Config) withDefaults() Config {
	if c.M < minimumM {
		if c.M == 0 {
			c.M = DefaultM
		} else {
			c.M = minimumM
		}
	}
	if c.EfConstruction == 0 {
		c.EfConstruction = DefaultEfConstruction
	}
	if c.EfSearch == 0 {
		c.EfSearch = DefaultEfSearch
	}
	if c.LevelMult == 0 {
		c.LevelMult = 1 / math.Ln2
	}
	if c.RandomSeed == 0 {
		c.RandomSeed = time.Now().UnixNano()
	}
	if c.DistFn == nil {
		c.DistFn = vector.CosineDistance
	}
	return c
}

// node is a graph node. Node ids are dense indexes into Index.nodes and are
// never reused; deleted slots are tombstoned.
type node struct {
	ID        string
	Vector    []float32
	Level     int
	Neighbors [][]uint32 // Neighbors[level] = neighbor node ids
}

// Match is a single search result.
type Match struct {
	ID       string
	Distance float32
}

// Stats describes the current graph shape.
type Stats struct {
	Live       int
	Tombstoned int
	MaxLevel   int
}

// Index is a hierarchical navigable small-world graph over one entity type.
type Index struct {
	mu         sync.RWMutex
	cfg        Config
	nodes      []node
	byID       map[string]uint32
	tombstones *roaring.Bitmap
	entryPoint int32 // -1 when the graph has no live nodes
	maxLevel   int
	rng        *rand.Rand
}

// New creates an empty index.
func New(cfg Config) *Index {
	cfg = cfg.withDefaults()
	return &Index{
		cfg:        cfg,
		byID:       make(map[string]uint32),
		tombstones: roaring.New(),
		entryPoint: -1,
		rng:        rand.New(rand.NewSource(cfg.RandomSeed)),
	}
}

// Len returns the number of live nodes.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byID)
}

// Stats returns the current graph shape.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{
		Live:       len(ix.byID),
		Tombstoned: int(ix.tombstones.GetCardinality()),
		MaxLevel:   ix.maxLevel,
	}
}

// Reset clears the index to its empty state, keeping configuration and RNG
// state. Used by rebuild.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.nodes = nil
	ix.byID = make(map[string]uint32)
	ix.tombstones = roaring.New()
	ix.entryPoint = -1
	ix.maxLevel = 0
}

// Insert adds id with the given vector. Inserting an existing id replaces
// its previous vector (the old node is unlinked first), which makes a full
// replay of the store idempotent.
func (ix *Index) Insert(id string, vec []float32) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.byID[id]; exists {
		if err := ix.deleteLocked(id); err != nil {
			return err
		}
	}

	level := ix.randomLevel()
	idx := uint32(len(ix.nodes))

	n := node{
		ID:        id,
		Vector:    append([]float32(nil), vec...),
		Level:     level,
		Neighbors: make([][]uint32, level+1),
	}
	for l := range n.Neighbors {
		n.Neighbors[l] = make([]uint32, 0, ix.cfg.M)
	}
	ix.nodes = append(ix.nodes, n)
	ix.byID[id] = idx

	if ix.entryPoint < 0 {
		ix.entryPoint = int32(idx)
		ix.maxLevel = level
		return nil
	}

	// Greedy 1-NN descent through the layers above the assigned level.
	curr := uint32(ix.entryPoint)
	var err error
	for l := ix.maxLevel; l > level; l-- {
		curr, err = ix.greedyClosest(vec, curr, l)
		if err != nil {
			return err
		}
	}

	// Link the new node bottom-up from min(level, maxLevel).
	for l := min(level, ix.maxLevel); l >= 0; l-- {
		found, err := ix.searchLayer(vec, curr, ix.cfg.EfConstruction, l)
		if err != nil {
			return err
		}
		ix.connect(idx, found, l)
		if len(found) > 0 {
			curr = found[0].Node
		}
	}

	// All edges exist before the node can become the entry point.
	if level > ix.maxLevel {
		ix.maxLevel = level
		ix.entryPoint = int32(idx)
	}
	return nil
}

// Delete unlinks and tombstones id. Deleting a missing id is a no-op.
func (ix *Index) Delete(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.deleteLocked(id)
}

func (ix *Index) deleteLocked(id string) error {
	idx, ok := ix.byID[id]
	if !ok {
		return nil
	}

	// Edges first, node second: neighbors never reference a missing node.
	n := &ix.nodes[idx]
	for l, neighbors := range n.Neighbors {
		for _, peer := range neighbors {
			if int(peer) >= len(ix.nodes) {
				return fmt.Errorf("%w: neighbor %d out of range at level %d", ErrCorrupted, peer, l)
			}
			if l >= len(ix.nodes[peer].Neighbors) {
				return fmt.Errorf("%w: neighbor %d has no level %d", ErrCorrupted, peer, l)
			}
			ix.nodes[peer].Neighbors[l] = removeID(ix.nodes[peer].Neighbors[l], idx)
		}
	}
	n.Neighbors = nil
	n.Vector = nil
	ix.tombstones.Add(idx)
	delete(ix.byID, id)

	if ix.entryPoint == int32(idx) {
		ix.electEntryPoint()
	}
	return nil
}

// electEntryPoint promotes the live node with the highest level, ties broken
// by insertion order (lowest node id).
func (ix *Index) electEntryPoint() {
	best := int32(-1)
	bestLevel := -1
	for _, idx := range ix.byID {
		n := &ix.nodes[idx]
		if n.Level > bestLevel || (n.Level == bestLevel && int32(idx) < best) {
			best = int32(idx)
			bestLevel = n.Level
		}
	}
	ix.entryPoint = best
	if best < 0 {
		ix.maxLevel = 0
	} else {
		ix.maxLevel = bestLevel
	}
}

// Search returns up to topK live nodes closest to query, ascending by
// distance, ties broken by external id. An empty graph yields an empty
// result; a structurally broken graph yields ErrCorrupted so the caller can
// fall back to an exact scan.
func (ix *Index) Search(query []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, errors.New("topK must be positive")
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.byID) == 0 {
		return nil, nil
	}
	if ix.entryPoint < 0 || int(ix.entryPoint) >= len(ix.nodes) {
		return nil, fmt.Errorf("%w: entry point %d out of range", ErrCorrupted, ix.entryPoint)
	}
	if ix.tombstones.Contains(uint32(ix.entryPoint)) {
		return nil, fmt.Errorf("%w: entry point %d is tombstoned", ErrCorrupted, ix.entryPoint)
	}

	curr := uint32(ix.entryPoint)
	var err error
	for l := ix.maxLevel; l > 0; l-- {
		curr, err = ix.greedyClosest(query, curr, l)
		if err != nil {
			return nil, err
		}
	}

	ef := max(ix.cfg.EfSearch, topK)
	found, err := ix.searchLayer(query, curr, ef, 0)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, min(topK, len(found)))
	for _, c := range found {
		matches = append(matches, Match{ID: ix.nodes[c.Node].ID, Distance: c.Dist})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// randomLevel draws level = floor(-ln(U) * LevelMult), U uniform in (0, 1].
func (ix *Index) randomLevel() int {
	u := 1 - ix.rng.Float64() // Float64 is [0,1); flip to (0,1]
	level := int(math.Floor(-math.Log(u) * ix.cfg.LevelMult))
	if level > maxAssignableLevel {
		level = maxAssignableLevel
	}
	return level
}

// greedyClosest performs a 1-nearest-neighbor walk at the given level.
func (ix *Index) greedyClosest(query []float32, entry uint32, level int) (uint32, error) {
	if int(entry) >= len(ix.nodes) {
		return 0, fmt.Errorf("%w: walk entry %d out of range", ErrCorrupted, entry)
	}
	curr := entry
	currDist := ix.cfg.DistFn(query, ix.nodes[curr].Vector)

	for {
		improved := false
		if level < len(ix.nodes[curr].Neighbors) {
			for _, peer := range ix.nodes[curr].Neighbors[level] {
				if int(peer) >= len(ix.nodes) {
					return 0, fmt.Errorf("%w: neighbor %d out of range at level %d", ErrCorrupted, peer, level)
				}
				if ix.tombstones.Contains(peer) {
					return 0, fmt.Errorf("%w: neighbor %d is tombstoned at level %d", ErrCorrupted, peer, level)
				}
				d := ix.cfg.DistFn(query, ix.nodes[peer].Vector)
				if d < currDist {
					curr = peer
					currDist = d
					improved = true
				}
			}
		}
		if !improved {
			return curr, nil
		}
	}
}

// searchLayer runs a breadth-limited best-first search at one level and
// returns up to ef candidates ascending by distance.
func (ix *Index) searchLayer(query []float32, entry uint32, ef, level int) ([]searcher.Candidate, error) {
	if int(entry) >= len(ix.nodes) {
		return nil, fmt.Errorf("%w: search entry %d out of range", ErrCorrupted, entry)
	}

	visited := searcher.NewVisited(len(ix.nodes))
	candidates := searcher.NewQueue(false) // min-heap: best frontier first
	results := searcher.NewQueue(true)     // max-heap: worst kept result on top

	d := ix.cfg.DistFn(query, ix.nodes[entry].Vector)
	candidates.Push(searcher.Candidate{Node: entry, Dist: d})
	results.Push(searcher.Candidate{Node: entry, Dist: d})
	visited.Visit(entry)

	for candidates.Len() > 0 {
		curr, _ := candidates.Pop()
		if worst, ok := results.Top(); ok && results.Len() >= ef && curr.Dist > worst.Dist {
			break
		}

		if level >= len(ix.nodes[curr.Node].Neighbors) {
			continue
		}
		for _, peer := range ix.nodes[curr.Node].Neighbors[level] {
			if int(peer) >= len(ix.nodes) {
				return nil, fmt.Errorf("%w: neighbor %d out of range at level %d", ErrCorrupted, peer, level)
			}
			if visited.Seen(peer) {
				continue
			}
			visited.Visit(peer)
			if ix.tombstones.Contains(peer) {
				return nil, fmt.Errorf("%w: neighbor %d is tombstoned at level %d", ErrCorrupted, peer, level)
			}

			pd := ix.cfg.DistFn(query, ix.nodes[peer].Vector)
			if worst, ok := results.Top(); !ok || results.Len() < ef || pd < worst.Dist {
				candidates.Push(searcher.Candidate{Node: peer, Dist: pd})
				results.Push(searcher.Candidate{Node: peer, Dist: pd})
				if results.Len() > ef {
					results.Pop()
				}
			}
		}
	}

	out := results.Drain() // worst-first
	sort.Slice(out, func(i, j int) bool { return out[i].Dist < out[j].Dist })
	return out, nil
}

// connect creates bidirectional edges between a new node and up to M (M0 at
// level 0) of the found candidates, pruning peers that overflow.
func (ix *Index) connect(idx uint32, found []searcher.Candidate, level int) {
	m := ix.cfg.M
	if level == 0 {
		m = mmax0Multiplier * ix.cfg.M
	}

	selected := found
	if len(selected) > m {
		selected = selected[:m]
	}

	for _, c := range selected {
		peer := &ix.nodes[c.Node]
		if level >= len(peer.Neighbors) {
			continue
		}
		ix.nodes[idx].Neighbors[level] = append(ix.nodes[idx].Neighbors[level], c.Node)
		peer.Neighbors[level] = append(peer.Neighbors[level], idx)
		if len(peer.Neighbors[level]) > m {
			ix.pruneNeighbors(c.Node, level, m)
		}
	}
}

// pruneNeighbors keeps the m closest neighbors of a node at one level.
// Every edge is bidirectional, so dropped edges are removed from the peer's
// adjacency too; Delete relies on walking only the deleted node's own lists.
func (ix *Index) pruneNeighbors(idx uint32, level, m int) {
	n := &ix.nodes[idx]
	neighbors := n.Neighbors[level]
	if len(neighbors) <= m {
		return
	}

	byDist := make([]searcher.Candidate, len(neighbors))
	for i, peer := range neighbors {
		byDist[i] = searcher.Candidate{Node: peer, Dist: ix.cfg.DistFn(n.Vector, ix.nodes[peer].Vector)}
	}
	sort.Slice(byDist, func(i, j int) bool { return byDist[i].Dist < byDist[j].Dist })

	kept := make([]uint32, m)
	for i := range kept {
		kept[i] = byDist[i].Node
	}
	n.Neighbors[level] = kept

	for _, c := range byDist[m:] {
		peer := &ix.nodes[c.Node]
		if level < len(peer.Neighbors) {
			peer.Neighbors[level] = removeID(peer.Neighbors[level], idx)
		}
	}
}

func removeID(s []uint32, id uint32) []uint32 {
	out := s[:0]
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
