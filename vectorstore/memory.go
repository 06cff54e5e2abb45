package vectorstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store implementation.
// Thread-safe for concurrent reads and writes.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Record // type -> id -> record
	closed  bool
}

// NewMemoryStore creates a new in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string]Record),
	}
}

// Upsert creates or overwrites the record for (typ, id).
func (m *MemoryStore) Upsert(_ context.Context, typ, id string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	byID, ok := m.records[typ]
	if !ok {
		byID = make(map[string]Record)
		m.records[typ] = byID
	}
	byID[id] = Record{
		EntityType: typ,
		EntityID:   id,
		Vector:     slices.Clone(vec),
		CreatedAt:  time.Now(),
	}
	return nil
}

// Delete removes the record for (typ, id).
func (m *MemoryStore) Delete(_ context.Context, typ, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if byID, ok := m.records[typ]; ok {
		delete(byID, id)
	}
	return nil
}

// Get returns the stored vector for (typ, id).
func (m *MemoryStore) Get(_ context.Context, typ, id string) ([]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	rec, ok := m.records[typ][id]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(rec.Vector), nil
}

// Scan calls fn for every record of the given type in lexicographic id
// order, so replays are deterministic.
func (m *MemoryStore) Scan(_ context.Context, typ string, fn func(id string, vec []float32) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	byID := m.records[typ]
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	vecs := make([][]float32, len(ids))
	sort.Strings(ids)
	for i, id := range ids {
		vecs[i] = byID[id].Vector
	}
	m.mu.RUnlock()

	for i, id := range ids {
		if err := fn(id, vecs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of records stored for the given type.
func (m *MemoryStore) Count(_ context.Context, typ string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return len(m.records[typ]), nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
