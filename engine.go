// Package matchengine turns a text query into a ranked list of entity
// identifiers: embed the query, retrieve geometrically close candidates,
// augment with features, optionally re-rank, sort. Every external boundary
// degrades gracefully; only input validation and embedding failures surface
// to callers.
package matchengine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"

	"github.com/vyaamik/matchengine/index/hnsw"
	"github.com/vyaamik/matchengine/vector"
	"github.com/vyaamik/matchengine/vectorstore"
)

// Embedder turns text into embedding vectors.
// embedding.Gateway implements it.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Engine is the facade over the store, the proximity indexes, the cache and
// the external model services. Reads are safely concurrent; writes are
// serialized per entity type.
type Engine struct {
	opts     options
	embedder Embedder

	mu      sync.RWMutex
	indexes map[string]*hnsw.Index
	writers map[string]*sync.Mutex

	embeds singleflight.Group
}

// New creates an Engine. embedder is required; everything else has defaults
// (in-memory store, no ranker, no cache, no snapshots).
func New(embedder Embedder, optFns ...Option) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.store == nil {
		opts.store = vectorstore.NewMemoryStore()
	}
	if opts.hnswConfig.DistFn == nil {
		opts.hnswConfig.DistFn = vector.CosineDistance
	}

	return &Engine{
		opts:     opts,
		embedder: embedder,
		indexes:  make(map[string]*hnsw.Index),
		writers:  make(map[string]*sync.Mutex),
	}, nil
}

// writerLock returns the writer mutex for an entity type, creating it on
// first use.
func (e *Engine) writerLock(typ string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.writers[typ]
	if !ok {
		w = &sync.Mutex{}
		e.writers[typ] = w
	}
	return w
}

// index returns the proximity index for a type, or nil if none was built.
func (e *Engine) index(typ string) *hnsw.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.indexes[typ]
}

// ensureIndex returns the index for a type, creating an empty one if needed.
func (e *Engine) ensureIndex(typ string) *hnsw.Index {
	e.mu.Lock()
	defer e.mu.Unlock()
	ix, ok := e.indexes[typ]
	if !ok {
		ix = hnsw.New(e.opts.hnswConfig)
		e.indexes[typ] = ix
	}
	return ix
}

// setIndex atomically publishes a rebuilt index for a type.
func (e *Engine) setIndex(typ string, ix *hnsw.Index) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indexes[typ] = ix
}

func entityKey(typ, id string) string {
	return "entity:" + typ + ":" + id
}

// validateEntityType rejects types that would be ambiguous inside store keys
// ("vec:<type>:<id>"), cache keys or snapshot blob names.
func validateEntityType(typ string) error {
	if typ == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEntityType)
	}
	if strings.ContainsAny(typ, ":/") {
		return fmt.Errorf("%w: %q", ErrInvalidEntityType, typ)
	}
	return nil
}

// Upsert stores an entity vector and updates the derived structures. The
// store write, index insert and cache invalidation happen under the type's
// writer lock so a subsequent read sees either all of them or none.
func (e *Engine) Upsert(ctx context.Context, typ, id string, vec []float32) (err error) {
	start := time.Now()
	defer func() {
		e.opts.metrics.RecordUpsert(time.Since(start), err)
		e.opts.logger.LogUpsert(ctx, typ, id, err)
	}()

	if err = validateEntityType(typ); err != nil {
		return err
	}
	if err = vector.Validate(vec, e.opts.dims); err != nil {
		return err
	}

	w := e.writerLock(typ)
	w.Lock()
	defer w.Unlock()

	if err = e.opts.store.Upsert(ctx, typ, id, vec); err != nil {
		return fmt.Errorf("store upsert: %w", err)
	}
	if err = e.ensureIndex(typ).Insert(id, vec); err != nil {
		return fmt.Errorf("index insert: %w", err)
	}
	if e.opts.cache != nil {
		e.opts.cache.Delete(ctx, entityKey(typ, id))
	}
	return nil
}

// Delete removes an entity and invalidates the derived structures.
// Deleting a missing entity is a no-op.
func (e *Engine) Delete(ctx context.Context, typ, id string) (err error) {
	start := time.Now()
	defer func() {
		e.opts.metrics.RecordDelete(time.Since(start), err)
		e.opts.logger.LogDelete(ctx, typ, id, err)
	}()

	if err = validateEntityType(typ); err != nil {
		return err
	}

	w := e.writerLock(typ)
	w.Lock()
	defer w.Unlock()

	storeErr := e.opts.store.Delete(ctx, typ, id)
	if ix := e.index(typ); ix != nil {
		if ixErr := ix.Delete(id); ixErr != nil {
			return fmt.Errorf("index delete: %w", ixErr)
		}
	}
	if e.opts.cache != nil {
		e.opts.cache.Delete(ctx, entityKey(typ, id))
	}
	return storeErr
}

// Rebuild replays the store into a fresh proximity index for the type and
// publishes it atomically. Safe to run at any time; running it twice in a
// row yields the same index contents.
func (e *Engine) Rebuild(ctx context.Context, typ string) (err error) {
	start := time.Now()
	count := 0
	defer func() {
		e.opts.metrics.RecordRebuild(count, time.Since(start), err)
		e.opts.logger.LogRebuild(ctx, typ, count, err)
	}()

	w := e.writerLock(typ)
	w.Lock()
	defer w.Unlock()

	ix := hnsw.New(e.opts.hnswConfig)
	err = e.opts.store.Scan(ctx, typ, func(id string, vec []float32) error {
		if insErr := ix.Insert(id, vec); insErr != nil {
			return fmt.Errorf("replay %q: %w", id, insErr)
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}

	e.setIndex(typ, ix)
	return nil
}

func snapshotName(typ string) string {
	return "snapshots/" + typ + ".hnsw.zst"
}

// SaveSnapshot serializes the type's proximity index to the blob store.
// Snapshots only shortcut the cold-start rebuild; losing one costs a replay,
// never data.
func (e *Engine) SaveSnapshot(ctx context.Context, typ string) (err error) {
	name := snapshotName(typ)
	defer func() { e.opts.logger.LogSnapshot(ctx, "save", typ, name, err) }()

	if err = validateEntityType(typ); err != nil {
		return err
	}
	if e.opts.blobs == nil {
		return fmt.Errorf("no blob store configured")
	}
	ix := e.index(typ)
	if ix == nil {
		return fmt.Errorf("no index for type %q", typ)
	}

	raw, err := ix.Marshal()
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	compressed := enc.EncodeAll(raw, nil)
	_ = enc.Close()

	return e.opts.blobs.Put(ctx, name, compressed)
}

// LoadSnapshot restores the type's proximity index from the blob store.
// On any failure the caller should fall back to Rebuild.
func (e *Engine) LoadSnapshot(ctx context.Context, typ string) (err error) {
	name := snapshotName(typ)
	defer func() { e.opts.logger.LogSnapshot(ctx, "load", typ, name, err) }()

	if err = validateEntityType(typ); err != nil {
		return err
	}
	if e.opts.blobs == nil {
		return fmt.Errorf("no blob store configured")
	}

	compressed, err := e.opts.blobs.Get(ctx, name)
	if err != nil {
		return err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	raw, err := dec.DecodeAll(compressed, nil)
	dec.Close()
	if err != nil {
		return fmt.Errorf("decompress snapshot: %w", err)
	}

	ix := hnsw.New(e.opts.hnswConfig)
	if err = ix.Unmarshal(raw); err != nil {
		return err
	}

	w := e.writerLock(typ)
	w.Lock()
	defer w.Unlock()
	e.setIndex(typ, ix)
	return nil
}

// Close releases the underlying store.
func (e *Engine) Close() error {
	return e.opts.store.Close()
}
