package hnsw

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// snapshot is the gob wire form of an Index. The graph is derived state, so
// a snapshot is a cold-start optimization, never a source of truth: a
// snapshot that fails to load is discarded and the graph rebuilt from the
// vector store.
type snapshot struct {
	Nodes      []node
	ByID       map[string]uint32
	Tombstones []byte // roaring serialization
	EntryPoint int32
	MaxLevel   int
	M          int
}

// Marshal serializes the graph.
func (ix *Index) Marshal() ([]byte, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	tomb, err := ix.tombstones.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal tombstones: %w", err)
	}

	snap := snapshot{
		Nodes:      ix.nodes,
		ByID:       ix.byID,
		Tombstones: tomb,
		EntryPoint: ix.entryPoint,
		MaxLevel:   ix.maxLevel,
		M:          ix.cfg.M,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal replaces the graph with a previously marshaled one. The
// configured M must match the snapshot's; a mismatch means the snapshot was
// taken under different tuning and must be rebuilt instead.
func (ix *Index) Unmarshal(data []byte) error {
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	tomb := roaring.New()
	if len(snap.Tombstones) > 0 {
		if err := tomb.UnmarshalBinary(snap.Tombstones); err != nil {
			return fmt.Errorf("unmarshal tombstones: %w", err)
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if snap.M != ix.cfg.M {
		return fmt.Errorf("snapshot M=%d does not match configured M=%d", snap.M, ix.cfg.M)
	}
	if snap.ByID == nil {
		snap.ByID = make(map[string]uint32)
	}

	ix.nodes = snap.Nodes
	ix.byID = snap.ByID
	ix.tombstones = tomb
	ix.entryPoint = snap.EntryPoint
	ix.maxLevel = snap.MaxLevel
	return nil
}
