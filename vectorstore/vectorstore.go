// Package vectorstore defines the durable source of truth for entity
// embeddings, keyed by (entity type, entity id).
//
// Stores are plain storage: the proximity index and caches that depend on
// them are derived structures, kept in sync by the engine that owns all
// three. ExactSearch is the O(n) correctness baseline and the
// disaster-recovery fallback when the derived index is unusable.
package vectorstore

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a (type, id) pair.
	ErrNotFound = errors.New("vector not found")

	// ErrClosed is returned after a store has been closed.
	ErrClosed = errors.New("vector store closed")
)

// Record is a stored embedding.
type Record struct {
	EntityType string
	EntityID   string
	Vector     []float32
	CreatedAt  time.Time
}

// Store persists (type, id) -> vector.
//
// Implementations must be safe for concurrent readers; writes are
// serialized per entity type by the engine.
type Store interface {
	// Upsert creates or overwrites the record for (typ, id).
	// The store keeps its own copy of vec.
	Upsert(ctx context.Context, typ, id string, vec []float32) error

	// Delete removes the record for (typ, id). Deleting a missing record
	// is not an error.
	Delete(ctx context.Context, typ, id string) error

	// Get returns the stored vector for (typ, id), or ErrNotFound.
	Get(ctx context.Context, typ, id string) ([]float32, error)

	// Scan calls fn for every record of the given type. The vector passed
	// to fn must not be retained past the call. Iteration stops on the
	// first error from fn, which is returned.
	Scan(ctx context.Context, typ string, fn func(id string, vec []float32) error) error

	// Count returns the number of records stored for the given type.
	Count(ctx context.Context, typ string) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// Match is a single exact-search result.
type Match struct {
	ID       string
	Distance float32
}

// ExactSearch scans every vector of the given type and returns the topK
// closest matches by distFn, ascending, ties broken by lexicographic id.
// It is O(n) per query.
func ExactSearch(ctx context.Context, s Store, typ string, query []float32, topK int, distFn func(a, b []float32) float32) ([]Match, error) {
	if topK <= 0 {
		return nil, errors.New("topK must be positive")
	}

	var matches []Match
	err := s.Scan(ctx, typ, func(id string, vec []float32) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		matches = append(matches, Match{ID: id, Distance: distFn(query, vec)})
		return nil
	})
	if err != nil {
		return nil, err
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
