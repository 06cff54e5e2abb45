// Package embedding provides the client for the external embedding service.
package embedding

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

	"golang.org/x/time/rate"
)

// MaxBatchSize is the largest batch the embedding service accepts per call.
const MaxBatchSize = 512

var (
	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize or is
	// empty. It is detected before any network call.
	ErrBatchTooLarge = errors.New("embedding batch size out of range")

	// ErrUnavailable is returned when the embedding service cannot be
	// reached or keeps failing after retries.
	ErrUnavailable = errors.New("embedding service unavailable")
)

const (
	defaultTimeout    = 10 * time.Second
	maxAttempts       = 3
	initialBackoff    = 100 * time.Millisecond
	backoffMultiplier = 2
)

// Gateway calls the embedding service over HTTP.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Options configures a Gateway.
type Options struct {
	// Timeout bounds each attempt. Defaults to 10s.
	Timeout time.Duration

	// RateLimit caps outgoing requests per second. Zero means unlimited.
	RateLimit float64

	// HTTPClient overrides the transport. Timeout above still applies
	// per attempt via request contexts.
	HTTPClient *http.Client

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// NewGateway creates a Gateway for the service at baseURL.
func NewGateway(baseURL string, opts Options) *Gateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &Gateway{
		baseURL:    baseURL,
		httpClient: client,
		timeout:    timeout,
		limiter:    limiter,
		logger:     logger.With("component", "embedding-gateway"),
	}
}

type embedRequest struct {
	Texts     []string `json:"texts"`
	Normalize bool     `json:"normalize"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
	Dims    int         `json:"dims"`
	Model   string      `json:"model"`
	TookMS  float64     `json:"took_ms"`
}

// EmbedText embeds a single text.
func (g *Gateway) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds a batch of texts, preserving input order. The batch must
// hold between 1 and MaxBatchSize texts; violations fail before any network
// call. Transport errors and 5xx responses are retried with exponential
// backoff; 4xx responses are not.
func (g *Gateway) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 || len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d, want 1..%d", ErrBatchTooLarge, len(texts), MaxBatchSize)
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	body, err := json.Marshal(embedRequest{Texts: texts, Normalize: true})
	if err != nil {
		return nil, err
	}

	var lastErr error
	backoff := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= backoffMultiplier
		}

		vectors, retryable, err := g.doEmbed(ctx, body, len(texts))
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !retryable {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		g.logger.Debug("embed attempt failed", "attempt", attempt, "err", err)
	}
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

func (g *Gateway) doEmbed(ctx context.Context, body []byte, want int) (vectors [][]float32, retryable bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("embed: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("embed: status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("embed: decode response: %w", err)
	}
	if len(out.Vectors) != want {
		return nil, false, fmt.Errorf("embed: got %d vectors for %d texts", len(out.Vectors), want)
	}
	return out.Vectors, false, nil
}

// Health probes the service health endpoint.
func (g *Gateway) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := g.httpClient.Do(req)
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
