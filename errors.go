package matchengine

import (
	"errors"

	"github.com/vyaamik/matchengine/embedding"
	"github.com/vyaamik/matchengine/index/hnsw"
	"github.com/vyaamik/matchengine/ranking"
	"github.com/vyaamik/matchengine/vector"
	"github.com/vyaamik/matchengine/vectorstore"
)

var (
	// ErrInvalidK is returned when topK is not positive.
	ErrInvalidK = errors.New("topK must be positive")

	// ErrInvalidEntityType is returned for empty entity types or types
	// containing ':' or '/', which are reserved as key and path separators.
	ErrInvalidEntityType = errors.New("invalid entity type")

	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = vectorstore.ErrNotFound

	// ErrEmbeddingUnavailable is returned when the embedding service fails.
	// It is fatal for the query: there is no similarity search without a
	// query vector.
	ErrEmbeddingUnavailable = embedding.ErrUnavailable

	// ErrBatchTooLarge is returned for embedding batches outside 1..512.
	ErrBatchTooLarge = embedding.ErrBatchTooLarge

	// ErrIndexCorrupted classifies structural graph failures. Searches
	// recover from it by falling back to an exact scan; it surfaces only
	// from maintenance operations.
	ErrIndexCorrupted = hnsw.ErrCorrupted

	// ErrRankingUnavailable classifies re-ranking failures. Queries recover
	// from it by scoring on raw similarity; it never surfaces from Search.
	ErrRankingUnavailable = ranking.ErrUnavailable

	// ErrCacheUnavailable classifies remote cache tier failures. Cache
	// unavailability is never a hard error; it exists for internal
	// classification and logs only.
	ErrCacheUnavailable = errors.New("cache tier unavailable")
)

// DimensionMismatchError indicates a vector/query dimensionality mismatch
// or a non-finite component. It is a caller error and is always surfaced.
type DimensionMismatchError = vector.DimensionMismatchError
