// Package ranking provides the client for the external re-ranking service.
package ranking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrUnavailable is returned when the ranking service cannot be reached or
// returns a malformed response.
var ErrUnavailable = errors.New("ranking service unavailable")

const defaultTimeout = 2 * time.Second

// Ranker scores feature vectors.
type Ranker interface {
	// Rank returns one score per feature vector, in input order.
	Rank(ctx context.Context, features [][]float32) ([]float32, error)
}

// Client calls the ranking service over HTTP. Latency matters more than
// completeness here so the timeout is strict and there are no retries; the
// caller falls back to similarity scores on failure.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Ranker = (*Client)(nil)

// Options configures a Client.
type Options struct {
	// Timeout bounds every rank call. Defaults to 2s.
	Timeout time.Duration

	// HTTPClient overrides the transport.
	HTTPClient *http.Client

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: client,
		logger:     logger.With("component", "ranking-client"),
	}
}

type rankRequest struct {
	Features [][]float32 `json:"features"`
}

type rankResponse struct {
	Scores []float32 `json:"scores"`
	Model  string    `json:"model"`
	TookMS float64   `json:"took_ms"`
}

// Rank scores the feature vectors. A response with a score count different
// from the input count is malformed and treated as a failure.
func (c *Client) Rank(ctx context.Context, features [][]float32) ([]float32, error) {
	if len(features) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rankRequest{Features: features})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out rankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	if len(out.Scores) != len(features) {
		return nil, fmt.Errorf("%w: got %d scores for %d feature vectors", ErrUnavailable, len(out.Scores), len(features))
	}
	return out.Scores, nil
}

// Health probes the service health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ranker/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// LinearRanker scores features as a weighted sum. It mirrors the linear
// fallback the ranking service itself applies when its model is missing.
type LinearRanker struct {
	Weights []float32
}

// DefaultLinearWeights weight similarity heavily over the auxiliary features.
var DefaultLinearWeights = []float32{1.0, 0.2, 0.2, 0.2}

// NewLinearRanker creates a LinearRanker. nil weights use
// DefaultLinearWeights.
func NewLinearRanker(weights []float32) *LinearRanker {
	if weights == nil {
		weights = DefaultLinearWeights
	}
	return &LinearRanker{Weights: weights}
}

// Rank computes the weighted sum per feature vector. Features beyond the
// weight vector are ignored.
func (r *LinearRanker) Rank(_ context.Context, features [][]float32) ([]float32, error) {
	scores := make([]float32, len(features))
	for i, fv := range features {
		var sum float32
		for j, f := range fv {
			if j >= len(r.Weights) {
				break
			}
			sum += r.Weights[j] * f
		}
		scores[i] = sum
	}
	return scores, nil
}
