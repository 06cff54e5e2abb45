package matchengine

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems.
//
// Degradations (index fallback, rank fallback) are silent toward callers,
// so this interface is the only place they become visible.
type MetricsCollector interface {
	// RecordSearch is called after each search query.
	// topK is the number of results requested, duration is the time taken,
	// err is nil if successful.
	RecordSearch(topK int, duration time.Duration, err error)

	// RecordUpsert is called after each upsert operation.
	RecordUpsert(duration time.Duration, err error)

	// RecordDelete is called after each delete operation.
	RecordDelete(duration time.Duration, err error)

	// RecordRebuild is called after each index rebuild.
	// count is the number of vectors replayed.
	RecordRebuild(count int, duration time.Duration, err error)

	// RecordEmbedCacheHit is called when a query embedding is served from
	// the cache, RecordEmbedCacheMiss when the embedding service is called.
	RecordEmbedCacheHit()
	RecordEmbedCacheMiss()

	// RecordIndexFallback is called when a query degrades from the
	// proximity index to an exact scan.
	RecordIndexFallback()

	// RecordRankFallback is called when a query degrades from the ranking
	// service to raw similarity scores.
	RecordRankFallback()
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordUpsert(time.Duration, error)       {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)       {}
func (NoopMetricsCollector) RecordRebuild(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordEmbedCacheHit()                    {}
func (NoopMetricsCollector) RecordEmbedCacheMiss()                   {}
func (NoopMetricsCollector) RecordIndexFallback()                    {}
func (NoopMetricsCollector) RecordRankFallback()                     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	UpsertCount      atomic.Int64
	UpsertErrors     atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	RebuildCount     atomic.Int64
	RebuildErrors    atomic.Int64
	RebuildVectors   atomic.Int64
	EmbedCacheHits   atomic.Int64
	EmbedCacheMisses atomic.Int64
	IndexFallbacks   atomic.Int64
	RankFallbacks    atomic.Int64
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordUpsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpsert(_ time.Duration, err error) {
	b.UpsertCount.Add(1)
	if err != nil {
		b.UpsertErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordRebuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRebuild(count int, _ time.Duration, err error) {
	b.RebuildCount.Add(1)
	b.RebuildVectors.Add(int64(count))
	if err != nil {
		b.RebuildErrors.Add(1)
	}
}

// RecordEmbedCacheHit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEmbedCacheHit() { b.EmbedCacheHits.Add(1) }

// RecordEmbedCacheMiss implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEmbedCacheMiss() { b.EmbedCacheMisses.Add(1) }

// RecordIndexFallback implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIndexFallback() { b.IndexFallbacks.Add(1) }

// RecordRankFallback implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRankFallback() { b.RankFallbacks.Add(1) }
