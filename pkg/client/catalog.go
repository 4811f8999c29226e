// Package client provides the HTTP clients for the two remote
// collaborators of the sync engine: the paged paper catalog and the
// embeddings API. Both return typed errors (throttled, transient,
// client, server, network) and feed rate limit headers into the
// concurrency advisor.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/paper-sync/pkg/paper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for remote API operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papersync_requests_total",
		Help: "Total remote requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papersync_request_duration_seconds",
		Help:    "Remote request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papersync_errors_total",
		Help: "Total remote errors by class",
	}, []string{"class"})
)

// Page is one page of the remote paper catalog.
type Page struct {
	// Items are the papers of this page, in response order.
	Items []paper.Paper `json:"items"`

	// FetchedCount is how many items this page carries.
	FetchedCount int `json:"fetched_count"`

	// TotalCount is the catalog's total for the requested filter.
	TotalCount int `json:"total_count"`
}

// CatalogConfig holds the catalog client configuration.
type CatalogConfig struct {
	// BaseURL of the catalog API (e.g. "https://catalog.example.com").
	BaseURL string

	// User-Agent header sent with every request.
	UserAgent string

	// Timeout per request.
	Timeout time.Duration
}

// DefaultCatalogConfig returns a safe default configuration.
func DefaultCatalogConfig(baseURL, userAgent string) CatalogConfig {
	return CatalogConfig{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
	}
}

// CatalogClient fetches pages of the remote paper catalog.
type CatalogClient struct {
	httpClient *http.Client
	config     CatalogConfig
	logger     zerolog.Logger
}

// NewCatalogClient creates a new catalog client.
func NewCatalogClient(cfg CatalogConfig) (*CatalogClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &CatalogClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "catalog-client").Logger(),
	}, nil
}

// FetchPage requests one page of the catalog for a filter. Network and
// 5xx failures are retried with backoff; throttling (429) and transient
// unavailability (503) are returned to the caller as typed errors
// without retrying.
func (c *CatalogClient) FetchPage(ctx context.Context, filter paper.Filter, offset, limit int) (*Page, error) {
	endpoint := "/v1/papers"

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	query := url.Values{}
	if len(filter.Categories) > 0 {
		query.Set("categories", strings.Join(filter.Categories, ","))
	}
	query.Set("period", strconv.Itoa(filter.Period.Days()))
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))

	requestURL := c.config.BaseURL + endpoint + "?" + query.Encode()

	var page *Page

	err := retryWithBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "application/json")

		c.logger.Debug().
			Str("endpoint", endpoint).
			Int("offset", offset).
			Int("limit", limit).
			Msg("Fetching catalog page")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			return fmt.Errorf("catalog request: %w", err)
		}
		defer resp.Body.Close()

		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			return c.errorFromResponse(resp, endpoint)
		}

		var decoded Page
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("decode catalog page: %w", err)
		}
		page = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("offset", offset).
		Int("fetched", page.FetchedCount).
		Int("total", page.TotalCount).
		Msg("Catalog page fetched")

	return page, nil
}

// errorFromResponse builds a typed APIError from an HTTP error response.
func (c *CatalogClient) errorFromResponse(resp *http.Response, endpoint string) error {
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

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Str("error_class", string(class)).
		Msg("Catalog request error")

	return apiErr
}

// parseRetryAfter reads a Retry-After header given in seconds.
// Returns zero when absent or unparseable.
func parseRetryAfter(headers http.Header) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *CatalogClient) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
