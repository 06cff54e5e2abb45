// Package badgerstore implements vectorstore.Store on BadgerDB, the
// durable entity store backing the engine. It is crash-consistent but not
// transactional across the derived proximity index; the index is rebuilt
// from this store when the two disagree.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/dgraph-io/badger/v4"
	badgeroptions "github.com/dgraph-io/badger/v4/options"

	"github.com/vyaamik/matchengine/vectorstore"
)

const vectorPrefix = "vec"

// Store is a BadgerDB-backed vector store.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Options configures Open.
type Options struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps all data in memory; used by tests.
	InMemory bool
	// Logger receives Badger's internal log output. Defaults to slog.Default.
	Logger *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens (or creates) a Badger-backed store.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		badgerOpts = badger.DefaultOptions(opts.Path)
	}
	badgerOpts.Logger = &badgerLoggerAdapter{logger: logger}
	// Vectors are dense float noise; Badger-level compression buys nothing.
	badgerOpts.Compression = badgeroptions.None

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "badgerstore")}, nil
}

// makeVectorKey builds "vec:<type>:<id>". Entity types never contain ':'
// (enforced by the engine), so prefix scans per type are unambiguous.
func makeVectorKey(typ, id string) []byte {
	return fmt.Appendf(nil, "%s:%s:%s", vectorPrefix, typ, id)
}

func makeTypePrefix(typ string) []byte {
	return fmt.Appendf(nil, "%s:%s:", vectorPrefix, typ)
}

// encodeVector frames a vector as [dims u32 LE][f32 LE ...].
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4+4*len(vec))
	binary.LittleEndian.PutUint32(buf, uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) < 4 {
		return nil, errors.New("vector frame too short")
	}
	dims := int(binary.LittleEndian.Uint32(buf))
	if len(buf) != 4+4*dims {
		return nil, fmt.Errorf("vector frame length %d does not match dims %d", len(buf), dims)
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4+4*i:]))
	}
	return vec, nil
}

// Upsert creates or overwrites the record for (typ, id).
func (s *Store) Upsert(ctx context.Context, typ, id string, vec []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeVectorKey(typ, id), encodeVector(vec))
	})
}

// Delete removes the record for (typ, id).
func (s *Store) Delete(ctx context.Context, typ, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(makeVectorKey(typ, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Get returns the stored vector for (typ, id).
func (s *Store) Get(ctx context.Context, typ, id string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var vec []float32
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeVectorKey(typ, id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return vectorstore.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := decodeVector(val)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// Scan calls fn for every record of the given type in lexicographic id
// order (Badger iterates keys in byte order).
func (s *Store) Scan(ctx context.Context, typ string, fn func(id string, vec []float32) error) error {
	prefix := makeTypePrefix(typ)
	return s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Prefix = prefix
		it := txn.NewIterator(itOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := string(bytes.TrimPrefix(item.Key(), prefix))
			if err := item.Value(func(val []byte) error {
				vec, err := decodeVector(val)
				if err != nil {
					return fmt.Errorf("record %s/%s: %w", typ, id, err)
				}
				return fn(id, vec)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of records stored for the given type.
func (s *Store) Count(ctx context.Context, typ string) (int, error) {
	prefix := makeTypePrefix(typ)
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Prefix = prefix
		itOpts.PrefetchValues = false
		it := txn.NewIterator(itOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ vectorstore.Store = (*Store)(nil)
