package matchengine

import (
	"time"

	"github.com/vyaamik/matchengine/blobstore"
	"github.com/vyaamik/matchengine/cache"
	"github.com/vyaamik/matchengine/index/hnsw"
	"github.com/vyaamik/matchengine/ranking"
	"github.com/vyaamik/matchengine/vectorstore"
)

const (
	// DefaultDims matches the paraphrase-multilingual-MiniLM-L12-v2 model.
	DefaultDims = 384

	// DefaultOverfetch multiplies topK when pulling candidates from the
	// proximity index, giving the re-ranker recall headroom.
	DefaultOverfetch = 5

	// DefaultMinCandidates is the floor on the candidate pull regardless
	// of topK.
	DefaultMinCandidates = 100

	// DefaultEmbeddingTTL is the cache lifetime for query embeddings.
	// Embeddings for identical text never change, so it is long.
	DefaultEmbeddingTTL = 7 * 24 * time.Hour
)

type options struct {
	store         vectorstore.Store
	ranker        ranking.Ranker
	cache         *cache.Tiered
	blobs         blobstore.Store
	dims          int
	hnswConfig    hnsw.Config
	overfetch     int
	minCandidates int
	embeddingTTL  time.Duration
	features      FeatureBuilder
	logger        *Logger
	metrics       MetricsCollector
}

// Option configures Engine construction.
type Option func(*options)

// WithStore sets the vector store backend. Defaults to an in-memory store.
func WithStore(s vectorstore.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithRanker enables re-ranking through the given ranker. Without a ranker,
// results are scored by raw similarity.
func WithRanker(r ranking.Ranker) Option {
	return func(o *options) {
		o.ranker = r
	}
}

// WithCache sets the tiered cache used for query embeddings and entity
// payloads. Without a cache every query embeds through the gateway.
func WithCache(c *cache.Tiered) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithBlobStore sets the blob store used for index snapshots.
// Snapshots are a cold-start optimization of the rebuild path; the vector
// store remains the source of truth.
func WithBlobStore(b blobstore.Store) Option {
	return func(o *options) {
		o.blobs = b
	}
}

// WithDims sets the embedding dimensionality. Defaults to DefaultDims.
func WithDims(dims int) Option {
	return func(o *options) {
		if dims > 0 {
			o.dims = dims
		}
	}
}

// WithHNSWConfig tunes the proximity index parameters.
func WithHNSWConfig(cfg hnsw.Config) Option {
	return func(o *options) {
		o.hnswConfig = cfg
	}
}

// WithOverfetch sets the candidate over-fetch multiplier.
func WithOverfetch(multiplier int) Option {
	return func(o *options) {
		if multiplier > 0 {
			o.overfetch = multiplier
		}
	}
}

// WithEmbeddingTTL sets the cache lifetime for query embeddings.
func WithEmbeddingTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.embeddingTTL = ttl
		}
	}
}

// WithFeatureBuilder plugs in auxiliary feature computation
// (recency, trust, geo). The default zero-fills those slots.
func WithFeatureBuilder(fb FeatureBuilder) Option {
	return func(o *options) {
		o.features = fb
	}
}

// WithLogger sets the logger. Defaults to a text logger at info level.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics collector. Defaults to a no-op collector.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

func defaultOptions() options {
	return options{
		dims:          DefaultDims,
		overfetch:     DefaultOverfetch,
		minCandidates: DefaultMinCandidates,
		embeddingTTL:  DefaultEmbeddingTTL,
		features:      zeroFeatureBuilder{},
		logger:        NewLogger(nil),
		metrics:       NoopMetricsCollector{},
	}
}
