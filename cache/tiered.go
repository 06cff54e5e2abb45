// Package cache implements the tiered cache used by the search pipeline: a
// distributed remote tier consulted first, backed by a process-local tier
// with TTL and byte-budget eviction, with transparent payload compression.
//
// Cache unavailability is never an error for callers. When the remote tier
// fails, every operation silently degrades to the local tier for that call;
// degradations are counted and logged at debug level.
package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Stats are cumulative tiered cache counters.
type Stats struct {
	LocalHits    int64
	RemoteHits   int64
	Misses       int64
	RemoteErrors int64
}

// TieredOptions configures NewTiered.
type TieredOptions struct {
	// Remote is the distributed tier; nil runs local-only.
	Remote Remote
	// LocalBudget is the process-local byte budget (default 64 MiB).
	LocalBudget int64
	// Algo selects payload compression (default zstd).
	Algo Compression
	// CompressThreshold is the payload size above which compression is
	// attempted (default DefaultCompressThreshold).
	CompressThreshold int
	// Clock overrides the time source; nil uses time.Now.
	Clock func() time.Time
	// Logger receives degradation events; nil uses slog.Default.
	Logger *slog.Logger
}

// Tiered is the two-level cache.
type Tiered struct {
	remote Remote
	local  *Local
	codec  *Codec
	now    func() time.Time
	logger *slog.Logger

	localHits    atomic.Int64
	remoteHits   atomic.Int64
	misses       atomic.Int64
	remoteErrors atomic.Int64
}

// NewTiered constructs a tiered cache. Instances are built explicitly and
// injected; there is no process-wide singleton.
func NewTiered(opts TieredOptions) *Tiered {
	if opts.LocalBudget <= 0 {
		opts.LocalBudget = 64 << 20
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tiered{
		remote: opts.Remote,
		local:  NewLocal(opts.LocalBudget, opts.Clock),
		codec:  NewCodec(opts.Algo, opts.CompressThreshold),
		now:    opts.Clock,
		logger: opts.Logger.With("component", "cache"),
	}
}

// Get returns the cached value for key. The remote tier is consulted first;
// a remote hit does not backfill the local tier (local is populated only on
// Set, to bound memory).
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if t.remote != nil {
		payload, ok, err := t.remote.Get(ctx, key)
		switch {
		case err != nil:
			t.degraded("get", err)
		case ok:
			t.remoteHits.Add(1)
			return t.codec.Decode(payload), true
		}
	}

	if payload, ok := t.local.Get(key); ok {
		t.localHits.Add(1)
		return t.codec.Decode(payload), true
	}
	t.misses.Add(1)
	return nil, false
}

// Set stores value under key in both tiers for ttl.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	payload := t.codec.Encode(value)
	expiresAt := t.now().Add(ttl)

	t.local.Set(key, payload, expiresAt)

	if t.remote != nil {
		if err := t.remote.Set(ctx, Item{Key: key, Payload: payload, ExpiresAt: expiresAt}); err != nil {
			t.degraded("set", err)
		}
	}
}

// Delete removes key from both tiers.
func (t *Tiered) Delete(ctx context.Context, key string) {
	t.local.Delete(key)

	if t.remote != nil {
		if err := t.remote.Delete(ctx, key); err != nil {
			t.degraded("delete", err)
		}
	}
}

// MGet returns the cached values for keys that hit either tier.
func (t *Tiered) MGet(ctx context.Context, keys []string) map[string][]byte {
	out := make(map[string][]byte, len(keys))

	if t.remote != nil {
		found, err := t.remote.MGet(ctx, keys)
		if err != nil {
			t.degraded("mget", err)
		} else {
			for key, payload := range found {
				t.remoteHits.Add(1)
				out[key] = t.codec.Decode(payload)
			}
		}
	}

	for _, key := range keys {
		if _, ok := out[key]; ok {
			continue
		}
		if payload, ok := t.local.Get(key); ok {
			t.localHits.Add(1)
			out[key] = t.codec.Decode(payload)
		} else {
			t.misses.Add(1)
		}
	}
	return out
}

// MSet stores every value for ttl.
func (t *Tiered) MSet(ctx context.Context, values map[string][]byte, ttl time.Duration) {
	expiresAt := t.now().Add(ttl)

	items := make([]Item, 0, len(values))
	for key, value := range values {
		payload := t.codec.Encode(value)
		t.local.Set(key, payload, expiresAt)
		items = append(items, Item{Key: key, Payload: payload, ExpiresAt: expiresAt})
	}

	if t.remote != nil {
		if err := t.remote.MSet(ctx, items); err != nil {
			t.degraded("mset", err)
		}
	}
}

// Stats returns cumulative counters.
func (t *Tiered) Stats() Stats {
	return Stats{
		LocalHits:    t.localHits.Load(),
		RemoteHits:   t.remoteHits.Load(),
		Misses:       t.misses.Load(),
		RemoteErrors: t.remoteErrors.Load(),
	}
}

func (t *Tiered) degraded(op string, err error) {
	t.remoteErrors.Add(1)
	t.logger.Debug("remote cache tier degraded to local", "op", op, "error", err)
}
