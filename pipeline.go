package matchengine

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vyaamik/matchengine/vector"
	"github.com/vyaamik/matchengine/vectorstore"
)

// FeatureWidth is the fixed width of candidate feature vectors:
// [similarity, recency, trust, geo]. The width is stable even when the
// auxiliary signals are not computed; unavailable slots hold zero.
const FeatureWidth = 4

// Result is one ranked search hit.
type Result struct {
	ID    string  `json:"id"`
	Score float32 `json:"score"`
}

// FeatureBuilder computes the auxiliary feature slots for a candidate.
// similarity is already in [-1, 1]; implementations fill the remaining
// recency/trust/geo slots and must always return FeatureWidth values.
type FeatureBuilder interface {
	BuildFeatures(ctx context.Context, entityType, id string, similarity float32) []float32
}

// zeroFeatureBuilder fills only the similarity slot.
type zeroFeatureBuilder struct{}

func (zeroFeatureBuilder) BuildFeatures(_ context.Context, _, _ string, similarity float32) []float32 {
	return []float32{similarity, 0, 0, 0}
}

// candidate is a provisionally retrieved entity flowing between stages.
type candidate struct {
	id       string
	distance float32
	features []float32
	score    float32
}

// Search runs the query pipeline: embed, retrieve candidates, build
// features, optionally re-rank, sort. It returns a ranked list (possibly
// empty) or fails only on input validation or embedding unavailability;
// index, cache and ranking failures degrade silently.
func (e *Engine) Search(ctx context.Context, typ, queryText string, topK int) (results []Result, err error) {
	start := time.Now()
	defer func() {
		e.opts.metrics.RecordSearch(topK, time.Since(start), err)
		e.opts.logger.LogSearch(ctx, typ, topK, len(results), err)
	}()

	if topK <= 0 {
		return nil, ErrInvalidK
	}

	queryVec, err := e.embedQuery(ctx, queryText)
	if err != nil {
		return nil, err
	}

	candidates, err := e.retrieveCandidates(ctx, typ, queryVec, topK)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	for i := range candidates {
		sim := 1 - candidates[i].distance
		candidates[i].features = e.opts.features.BuildFeatures(ctx, typ, candidates[i].id, sim)
	}

	e.rerank(ctx, typ, candidates)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	results = make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{ID: c.id, Score: c.score}
	}
	return results, nil
}

// embedQuery resolves the query vector through the cache, de-duplicating
// concurrent identical queries. Embedding failure is fatal for the query.
func (e *Engine) embedQuery(ctx context.Context, queryText string) ([]float32, error) {
	key := embeddingKey(queryText)

	if e.opts.cache != nil {
		if payload, ok := e.opts.cache.Get(ctx, key); ok {
			if vec, ok := decodeEmbedding(payload); ok && len(vec) == e.opts.dims {
				e.opts.metrics.RecordEmbedCacheHit()
				return vec, nil
			}
		}
	}
	e.opts.metrics.RecordEmbedCacheMiss()

	v, err, _ := e.embeds.Do(key, func() (any, error) {
		vec, err := e.embedder.EmbedText(ctx, queryText)
		if err != nil {
			return nil, err
		}
		if err := vector.Validate(vec, e.opts.dims); err != nil {
			return nil, err
		}
		if e.opts.cache != nil {
			e.opts.cache.Set(ctx, key, encodeEmbedding(vec), e.opts.embeddingTTL)
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// retrieveCandidates over-fetches from the proximity index, falling back to
// an exact store scan when the index is missing or structurally unsound.
func (e *Engine) retrieveCandidates(ctx context.Context, typ string, queryVec []float32, topK int) ([]candidate, error) {
	kPrime := topK * e.opts.overfetch
	if kPrime < e.opts.minCandidates {
		kPrime = e.opts.minCandidates
	}

	if ix := e.index(typ); ix != nil {
		matches, err := ix.Search(queryVec, kPrime)
		if err == nil {
			candidates := make([]candidate, len(matches))
			for i, m := range matches {
				candidates[i] = candidate{id: m.ID, distance: m.Distance}
			}
			return candidates, nil
		}
		e.opts.metrics.RecordIndexFallback()
		e.opts.logger.LogFallback(ctx, "candidates", typ, err)
	} else {
		e.opts.metrics.RecordIndexFallback()
		e.opts.logger.LogFallback(ctx, "candidates", typ, fmt.Errorf("no index built for type %q", typ))
	}

	exact, err := vectorstore.ExactSearch(ctx, e.opts.store, typ, queryVec, kPrime, e.opts.hnswConfig.DistFn)
	if err != nil {
		return nil, fmt.Errorf("exact search fallback: %w", err)
	}
	candidates := make([]candidate, len(exact))
	for i, m := range exact {
		candidates[i] = candidate{id: m.ID, distance: m.Distance}
	}
	return candidates, nil
}

// rerank scores candidates through the configured ranker. Any failure falls
// back to the similarity feature, silent to the caller.
func (e *Engine) rerank(ctx context.Context, typ string, candidates []candidate) {
	if e.opts.ranker != nil {
		features := make([][]float32, len(candidates))
		for i, c := range candidates {
			features[i] = c.features
		}
		scores, err := e.opts.ranker.Rank(ctx, features)
		if err == nil && len(scores) == len(candidates) {
			for i := range candidates {
				candidates[i].score = scores[i]
			}
			return
		}
		if err == nil {
			err = fmt.Errorf("%w: score count mismatch", ErrRankingUnavailable)
		}
		e.opts.metrics.RecordRankFallback()
		e.opts.logger.LogFallback(ctx, "rerank", typ, err)
	}

	for i := range candidates {
		candidates[i].score = candidates[i].features[0]
	}
}

func embeddingKey(queryText string) string {
	sum := sha256.Sum256([]byte(queryText))
	return "embedding:" + hex.EncodeToString(sum[:])
}

// encodeEmbedding frames a vector as a little-endian dims header followed by
// float32 components, the same layout the badger store uses.
func encodeEmbedding(vec []float32) []byte {
	out := make([]byte, 4+4*len(vec))
	binary.LittleEndian.PutUint32(out, uint32(len(vec)))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(out[4+4*i:], math.Float32bits(f))
	}
	return out
}

func decodeEmbedding(payload []byte) ([]float32, bool) {
	if len(payload) < 4 {
		return nil, false
	}
	dims := int(binary.LittleEndian.Uint32(payload))
	if dims <= 0 || len(payload) != 4+4*dims {
		return nil, false
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4+4*i:]))
	}
	return vec, true
}
