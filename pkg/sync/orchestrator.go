// Package sync drives the incremental synchronization of the remote
// paper catalog into the local store: fresh sync, fetch-more, and
// fetch-all-remaining, with offset bookkeeping that guarantees each
// item is pulled exactly once and partial failures resume cleanly.
package sync

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/paper-sync/pkg/cache"
	"github.com/Sternrassler/paper-sync/pkg/client"
	"github.com/Sternrassler/paper-sync/pkg/paper"
	"github.com/Sternrassler/paper-sync/pkg/ranges"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for sync operations.
var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersync_pages_fetched_total",
		Help: "Total catalog pages fetched and merged",
	})

	papersInsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersync_papers_inserted_total",
		Help: "Total new papers inserted into the local store",
	})

	syncErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papersync_sync_errors_total",
		Help: "Total sync failures by operation",
	}, []string{"operation"})
)

// PageFetcher is the paged-collection API the orchestrator pulls from.
// Satisfied by *client.CatalogClient.
type PageFetcher interface {
	FetchPage(ctx context.Context, filter paper.Filter, offset, limit int) (*client.Page, error)
}

// Config holds the orchestrator configuration for one filter series.
type Config struct {
	// Filter identifies the sync series.
	Filter paper.Filter

	// BatchSize is the page size for incremental fetches.
	BatchSize int

	// FirstPageSize is the (large) page size for a fresh sync.
	FirstPageSize int

	// Cache is the optional freshness cache; nil disables reuse of
	// recent fresh-sync results.
	Cache *cache.Manager

	// TotalWait bounds how long SyncAll waits for the total count to
	// become known after triggering a fresh sync.
	TotalWait time.Duration
}

// DefaultConfig returns a safe default configuration for a filter.
func DefaultConfig(filter paper.Filter) Config {
	return Config{
		Filter:        filter,
		BatchSize:     50,
		FirstPageSize: 500,
		TotalWait:     30 * time.Second,
	}
}

// Orchestrator drives the paged-collection fetch for one filter series.
// Each series owns its own orchestrator, state and range bookkeeping.
type Orchestrator struct {
	filter  paper.Filter
	fetcher PageFetcher
	store   paper.Store
	cache   *cache.Manager
	state   *State
	config  Config
	logger  zerolog.Logger

	// Single-flight guards: page advancement must not race with itself.
	fetchingMore atomic.Bool
	fetchingAll  atomic.Bool

	// Cooperative stop for the fetch-all loop, checked between pages.
	stopRequested atomic.Bool

	// addedThisRun counts papers inserted by the current fetch-all run,
	// including a fresh first page the run itself triggered. Standalone
	// SyncFresh and SyncMore calls do not touch it.
	addedThisRun atomic.Int64
}

// NewOrchestrator creates an orchestrator for one filter series.
func NewOrchestrator(cfg Config, fetcher PageFetcher, store paper.Store) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("page fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("paper store is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FirstPageSize <= 0 {
		cfg.FirstPageSize = 500
	}
	if cfg.TotalWait <= 0 {
		cfg.TotalWait = 30 * time.Second
	}

	return &Orchestrator{
		filter:  cfg.Filter,
		fetcher: fetcher,
		store:   store,
		cache:   cfg.Cache,
		state:   NewState(),
		config:  cfg,
		logger:  log.With().Str("component", "sync").Str("filter", cfg.Filter.Key()).Logger(),
	}, nil
}

// State returns the observable process state for this series.
func (o *Orchestrator) State() *State {
	return o.state
}

// Filter returns the filter this orchestrator syncs.
func (o *Orchestrator) Filter() paper.Filter {
	return o.filter
}

// SyncFresh performs a fresh (non-incremental) sync: range and total
// state are rebuilt from the first page. A cached result still within
// its freshness window is reused without a remote call. On failure the
// previous ranges stay untouched, so nothing is lost.
func (o *Orchestrator) SyncFresh(ctx context.Context) error {
	_, err := o.syncFresh(ctx)
	return err
}

// syncFresh does the fresh-sync work and reports how many papers the
// first page inserted, so a fetch-all run can count them as its own.
func (o *Orchestrator) syncFresh(ctx context.Context) (int, error) {
	o.state.setFetchingFirst(true)
	defer o.state.setFetchingFirst(false)

	if o.cache != nil {
		if entry, err := o.cache.Get(ctx, o.filter); err == nil {
			return o.applyFresh(entry.Items, entry.TotalCount, true)
		} else if err != cache.ErrCacheMiss {
			o.logger.Warn().Err(err).Msg("Freshness cache read failed")
		}
	}

	page, err := o.fetcher.FetchPage(ctx, o.filter, 0, o.config.FirstPageSize)
	if err != nil {
		syncErrorsTotal.WithLabelValues("fresh").Inc()
		o.state.setError(err)
		o.logger.Warn().Err(err).Msg("Fresh sync failed")
		return 0, err
	}

	if o.cache != nil {
		entry := &cache.Entry{
			Items:      page.Items,
			TotalCount: page.TotalCount,
			FetchedAt:  time.Now(),
		}
		if err := o.cache.Set(ctx, o.filter, entry); err != nil {
			o.logger.Warn().Err(err).Msg("Freshness cache write failed")
		}
	}

	return o.applyFresh(page.Items, page.TotalCount, false)
}

// applyFresh merges a fresh first page (remote or cached) into the
// store and replaces the series state.
func (o *Orchestrator) applyFresh(items []paper.Paper, total int, fromCache bool) (int, error) {
	inserted, err := o.store.BulkUpsert(o.filter, items)
	if err != nil {
		syncErrorsTotal.WithLabelValues("fresh").Inc()
		o.state.setError(err)
		return 0, fmt.Errorf("store fresh page: %w", err)
	}

	pagesFetchedTotal.Inc()
	papersInsertedTotal.Add(float64(inserted))

	o.state.replaceSeries(ranges.Range{Start: 0, End: len(items)}, total)
	o.state.clearError()

	o.logger.Info().
		Int("fetched", len(items)).
		Int("inserted", inserted).
		Int("total", total).
		Bool("from_cache", fromCache).
		Msg("Fresh sync complete")

	return inserted, nil
}

// SyncMore fetches the next uncovered page. Reentrant calls are no-ops
// because page advancement depends on not racing with itself. When no
// range has been recorded yet but the store already holds papers for
// this filter, the request starts at the store count instead of zero,
// so a cold start never re-fetches what an earlier run persisted.
func (o *Orchestrator) SyncMore(ctx context.Context) error {
	_, err := o.syncMore(ctx)
	return err
}

// syncMore does the fetch-more work and reports how many papers the
// page inserted.
func (o *Orchestrator) syncMore(ctx context.Context) (int, error) {
	if !o.fetchingMore.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer o.fetchingMore.Store(false)

	o.state.setFetchingMore(true)
	defer o.state.setFetchingMore(false)

	rs := o.state.Ranges()
	total, totalKnown := o.state.Total()

	var offset int
	if len(rs) == 0 {
		stored, err := o.store.CountForFilter(o.filter)
		if err != nil {
			syncErrorsTotal.WithLabelValues("more").Inc()
			o.state.setError(err)
			return 0, fmt.Errorf("count stored papers: %w", err)
		}
		offset = stored
	} else {
		bound := total
		if !totalKnown {
			bound = math.MaxInt
		}
		offset = ranges.NextOffset(rs, bound)
	}

	if totalKnown && offset >= total {
		// Fully covered, nothing to do.
		return 0, nil
	}

	page, err := o.fetcher.FetchPage(ctx, o.filter, offset, o.config.BatchSize)
	if err != nil {
		syncErrorsTotal.WithLabelValues("more").Inc()
		o.state.setError(err)
		o.logger.Warn().Err(err).Int("offset", offset).Msg("Page fetch failed")
		// Ranges untouched: the same offset is retried on the next call.
		return 0, err
	}

	if page.FetchedCount == 0 {
		// The catalog ran short of its own reported total.
		o.logger.Warn().
			Int("offset", offset).
			Int("reported_total", page.TotalCount).
			Msg("Empty page before reported total - treating series as exhausted")
		o.state.setTotal(offset)
		o.state.clearError()
		return 0, nil
	}

	inserted, err := o.store.BulkUpsert(o.filter, page.Items)
	if err != nil {
		syncErrorsTotal.WithLabelValues("more").Inc()
		o.state.setError(err)
		return 0, fmt.Errorf("store page: %w", err)
	}

	pagesFetchedTotal.Inc()
	papersInsertedTotal.Add(float64(inserted))

	o.state.mergeRange(ranges.Range{Start: offset, End: offset + page.FetchedCount}, page.TotalCount)
	o.state.clearError()

	o.logger.Debug().
		Int("offset", offset).
		Int("fetched", page.FetchedCount).
		Int("inserted", inserted).
		Int("total", page.TotalCount).
		Msg("Page merged")

	return inserted, nil
}

// SyncAll fetches every remaining page. A second concurrent call is a
// no-op (single-flight). The loop checks the cooperative stop flag
// between pages; an in-flight page fetch always completes before the
// flag is observed.
func (o *Orchestrator) SyncAll(ctx context.Context) error {
	if !o.fetchingAll.CompareAndSwap(false, true) {
		return nil
	}
	defer o.fetchingAll.Store(false)

	o.stopRequested.Store(false)
	o.addedThisRun.Store(0)

	o.state.setFetchingAll(true)
	defer o.state.setFetchingAll(false)

	start := time.Now()

	if _, known := o.state.Total(); !known {
		inserted, err := o.syncFresh(ctx)
		if err != nil {
			return err
		}
		o.addedThisRun.Add(int64(inserted))
		if err := o.waitForTotal(ctx); err != nil {
			syncErrorsTotal.WithLabelValues("all").Inc()
			o.state.setError(err)
			return err
		}
	}

	for {
		if o.stopRequested.Load() {
			o.logger.Info().
				Int64("added", o.addedThisRun.Load()).
				Msg("Fetch-all stopped on request")
			return nil
		}

		rs := o.state.Ranges()
		total, known := o.state.Total()
		if !ranges.HasMore(rs, total, known) {
			break
		}

		inserted, err := o.syncMore(ctx)
		if err != nil {
			return err
		}
		o.addedThisRun.Add(int64(inserted))

		fetched, err := o.store.CountForFilter(o.filter)
		if err != nil {
			o.logger.Warn().Err(err).Msg("Progress count failed")
		} else {
			total, _ = o.state.Total()
			o.state.setFetchAllProgress(fetched, total)
		}

		// Yield briefly so a transient SyncMore no-op (reentrancy guard)
		// cannot spin the loop.
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", client.ErrContextCancelled, ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}

	o.logger.Info().
		Int64("added", o.addedThisRun.Load()).
		Dur("duration", time.Since(start)).
		Msg("Fetch-all complete")

	return nil
}

// waitForTotal blocks until the total count is known or the bounded
// deadline passes.
func (o *Orchestrator) waitForTotal(ctx context.Context) error {
	deadline := time.Now().Add(o.config.TotalWait)
	for {
		if _, known := o.state.Total(); known {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("total count not known after %s", o.config.TotalWait)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", client.ErrContextCancelled, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Stop signals an in-flight SyncAll loop to stop after the current page
// completes and reports how many papers the run added so far.
func (o *Orchestrator) Stop() int {
	o.stopRequested.Store(true)
	return int(o.addedThisRun.Load())
}
