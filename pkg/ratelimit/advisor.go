// Package ratelimit converts remote rate-limit signals into worker-pool
// sizing. It monitors the X-RateLimit-Remaining and X-RateLimit-Reset
// headers of enrichment responses and recommends how many calls can
// safely be in flight.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Rate limit headers read from enrichment responses.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Concurrency bounds for the recommended pool size.
const (
	// DefaultConcurrency is the conservative pool size used before any
	// hint has been observed.
	DefaultConcurrency = 3

	// MinConcurrency avoids pathological serialization with a pool of 1.
	MinConcurrency = 1

	// MaxConcurrency avoids an unbounded pool that would get the caller
	// throttled immediately.
	MaxConcurrency = 10

	// MaxDelay caps the pacing delay for sequential single-slot callers.
	MaxDelay = 30 * time.Second
)

// Prometheus metrics for rate limit observation.
var (
	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papersync_quota_remaining",
		Help: "Remaining enrichment calls in the current rate limit window",
	})

	recommendedConcurrency = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papersync_recommended_concurrency",
		Help: "Current recommended enrichment worker pool size",
	})
)

// Hint is the quota information read from the most recent enrichment
// response. It is held only in memory and overwritten by each call.
type Hint struct {
	// Remaining is the number of calls left in the current window.
	Remaining int

	// WindowSeconds is the number of seconds until the window resets.
	WindowSeconds int

	// ObservedAt is when the hint was recorded.
	ObservedAt time.Time
}

// Advisor holds the last observed rate-limit hint and derives a
// recommended worker-pool size from it. Safe for concurrent use.
type Advisor struct {
	mu     sync.Mutex
	hint   Hint
	known  bool
	logger zerolog.Logger
}

// NewAdvisor creates an advisor with no hint yet observed.
func NewAdvisor(logger zerolog.Logger) *Advisor {
	return &Advisor{logger: logger}
}

// Record stores a hint, overwriting any previous value.
func (a *Advisor) Record(hint Hint) {
	if hint.ObservedAt.IsZero() {
		hint.ObservedAt = time.Now()
	}

	a.mu.Lock()
	a.hint = hint
	a.known = true
	a.mu.Unlock()

	quotaRemaining.Set(float64(hint.Remaining))
	recommendedConcurrency.Set(float64(a.RecommendedConcurrency()))

	a.logger.Debug().
		Int("remaining", hint.Remaining).
		Int("window_seconds", hint.WindowSeconds).
		Msg("Rate limit hint updated")
}

// RecordHeaders parses rate limit headers from an enrichment response
// and records them. Responses without the headers are ignored.
func (a *Advisor) RecordHeaders(headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		// Header not present - fine for endpoints that don't report quota.
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	windowSeconds := 0
	if resetStr := headers.Get(HeaderReset); resetStr != "" {
		windowSeconds, err = strconv.Atoi(resetStr)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderReset, err)
		}
	}

	a.Record(Hint{
		Remaining:     remain,
		WindowSeconds: windowSeconds,
		ObservedAt:    time.Now(),
	})

	return nil
}

// Hint returns the last observed hint and whether one has been recorded.
func (a *Advisor) Hint() (Hint, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hint, a.known
}

// RecommendedConcurrency returns the worker-pool size derived from the
// last hint. Remaining quota is treated as a proxy for how many calls
// can safely be in flight, clipped into [MinConcurrency, MaxConcurrency].
func (a *Advisor) RecommendedConcurrency() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.known {
		return DefaultConcurrency
	}

	n := a.hint.Remaining
	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// RecommendedDelay computes the pacing delay for callers that issue
// sequential single-slot calls rather than pool-sized ones: the
// remaining window spread evenly across the remaining quota, capped at
// MaxDelay so a near-empty window never stalls the caller for minutes.
func RecommendedDelay(windowSecondsLeft, remaining int) time.Duration {
	if windowSecondsLeft <= 0 {
		return 0
	}
	if remaining < 1 {
		remaining = 1
	}

	delay := time.Duration(windowSecondsLeft) * time.Second / time.Duration(remaining)
	if delay > MaxDelay {
		return MaxDelay
	}
	return delay
}
