package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embedHandler(t *testing.T, dims int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		vectors := make([][]float32, len(req.Texts))
		for i := range vectors {
			vectors[i] = make([]float32, dims)
			vectors[i][0] = float32(i + 1)
		}
		_ = json.NewEncoder(w).Encode(embedResponse{
			Vectors: vectors,
			Dims:    dims,
			Model:   "test-model",
		})
	}
}

func TestEmbedTextsPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(embedHandler(t, 4))
	defer srv.Close()

	g := NewGateway(srv.URL, Options{})
	vectors, err := g.EmbedTexts(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(3), vectors[2][0])
}

func TestEmbedBatchBoundsCheckedBeforeNetwork(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, Options{})

	_, err := g.EmbedTexts(context.Background(), nil)
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	oversized := make([]string, MaxBatchSize+1)
	_, err = g.EmbedTexts(context.Background(), oversized)
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	assert.Equal(t, int64(0), calls.Load())
}

func TestEmbedRetriesOn5xx(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		embedHandler(t, 4)(w, r)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, Options{})
	vectors, err := g.EmbedTexts(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
	assert.Equal(t, int64(3), calls.Load())
}

func TestEmbedNoRetryOn4xx(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, Options{})
	_, err := g.EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int64(1), calls.Load())
}

func TestEmbedGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, Options{})
	_, err := g.EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int64(3), calls.Load())
}

func TestEmbedServiceDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	g := NewGateway(srv.URL, Options{})
	_, err := g.EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEmbedTimeoutAppliesToCustomClient(t *testing.T) {
	stall := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-stall:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(stall)

	// The custom client carries no timeout of its own; the attempt deadline
	// must come from the gateway.
	g := NewGateway(srv.URL, Options{Timeout: 20 * time.Millisecond, HTTPClient: &http.Client{}})

	start := time.Now()
	_, err := g.EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEmbedVectorCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Vectors: [][]float32{{1}}})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, Options{})
	_, err := g.EmbedTexts(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, Options{})
	assert.NoError(t, g.Health(context.Background()))

	srv.Close()
	assert.Error(t, g.Health(context.Background()))
}
