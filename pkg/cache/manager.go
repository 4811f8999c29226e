package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/paper-sync/pkg/paper"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates no fresh result is cached for the filter
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// DefaultFreshnessWindow is how long a fresh-sync result is reused
// before the catalog is asked again.
const DefaultFreshnessWindow = 5 * time.Minute

// Manager handles freshness caching with Redis backend.
type Manager struct {
	redis  *redis.Client
	window time.Duration
}

// NewManager creates a new cache manager with Redis backend. A
// non-positive window falls back to DefaultFreshnessWindow.
func NewManager(redisClient *redis.Client, window time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &Manager{
		redis:  redisClient,
		window: window,
	}
}

// Window returns the freshness window the manager enforces.
func (m *Manager) Window() time.Duration {
	return m.window
}

// cacheKey builds the Redis key for a filter series.
func cacheKey(filter paper.Filter) string {
	return "papersync:fresh:" + filter.Key()
}

// Get retrieves the cached fresh-sync result for a filter.
// Returns ErrCacheMiss if none is cached or the entry has gone stale.
func (m *Manager) Get(ctx context.Context, filter paper.Filter) (*Entry, error) {
	key := cacheKey(filter)

	data, err := m.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			cacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Redis TTL normally enforces the window; the explicit check covers
	// entries written with a longer window than the manager now uses.
	if !entry.IsFresh(m.window) {
		_ = m.Delete(ctx, filter)
		cacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	cacheHits.Inc()
	return &entry, nil
}

// Set stores a fresh-sync result. The Redis TTL is the remaining
// freshness window, so stale entries evict themselves.
func (m *Manager) Set(ctx context.Context, filter paper.Filter, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = time.Now()
	}

	ttl := m.window - entry.Age()
	if ttl <= 0 {
		// Already stale, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, cacheKey(filter), data, ttl).Err(); err != nil {
		cacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes the cached result for a filter.
func (m *Manager) Delete(ctx context.Context, filter paper.Filter) error {
	if err := m.redis.Del(ctx, cacheKey(filter)).Err(); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
