package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/paper-sync/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EmbeddingConfig holds the embeddings client configuration.
type EmbeddingConfig struct {
	// BaseURL of the embeddings API.
	BaseURL string

	// User-Agent header sent with every request.
	UserAgent string

	// Timeout per request.
	Timeout time.Duration
}

// DefaultEmbeddingConfig returns a safe default configuration.
func DefaultEmbeddingConfig(baseURL, userAgent string) EmbeddingConfig {
	return EmbeddingConfig{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
	}
}

// embedRequest is the wire shape of an enrichment call.
type embedRequest struct {
	Text string `json:"text"`
}

// embedResponse is the wire shape of an enrichment response.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbeddingClient computes embeddings via the remote enrichment API.
// Every response's rate limit headers are recorded on the advisor, so
// the backfill worker pool is re-sized from live quota data.
type EmbeddingClient struct {
	httpClient *http.Client
	config     EmbeddingConfig
	advisor    *ratelimit.Advisor
	logger     zerolog.Logger
}

// NewEmbeddingClient creates a new embeddings client.
func NewEmbeddingClient(cfg EmbeddingConfig, advisor *ratelimit.Advisor) (*EmbeddingClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if advisor == nil {
		return nil, fmt.Errorf("rate limit advisor is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &EmbeddingClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config:  cfg,
		advisor: advisor,
		logger:  log.With().Str("component", "embedding-client").Logger(),
	}, nil
}

// Embed computes the embedding for a text. Throttling (429) is returned
// as a typed error carrying the remote's retry hint; network and 5xx
// failures are retried with backoff.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	endpoint := "/v1/embeddings"

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	var embedding []float32

	err = retryWithBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.config.BaseURL+endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return fmt.Errorf("embeddings request: %w", err)
		}
		defer resp.Body.Close()

		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		// Quota headers arrive on success and failure alike.
		if err := c.advisor.RecordHeaders(resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record rate limit headers")
		}

		if resp.StatusCode >= 400 {
			return c.errorFromResponse(resp, endpoint)
		}

		var decoded embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("decode embed response: %w", err)
		}
		embedding = decoded.Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}

	return embedding, nil
}

// errorFromResponse builds a typed APIError from an HTTP error response.
func (c *EmbeddingClient) errorFromResponse(resp *http.Response, endpoint string) error {
	class := classify(resp.StatusCode)
	apiErrorsTotal.WithLabelValues(string(class)).Inc()

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Class:      class,
		Message:    resp.Status,
	}
	if class == ErrorClassThrottled {
		apiErr.RetryAfter = parseRetryAfter(resp.Header)
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Str("error_class", string(class)).
		Msg("Embeddings request error")

	return apiErr
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *EmbeddingClient) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
