// Package backfill computes missing paper embeddings with a bounded
// worker pool. Worker admission goes through the slot controller, so
// the pool tracks the catalog's rate-limit guidance and freezes for
// the rest of the run when the embedding service throttles.
package backfill

import (
	"context"
	"fmt"
	stdsync "sync"
	"sync/atomic"

	"github.com/Sternrassler/paper-sync/pkg/client"
	"github.com/Sternrassler/paper-sync/pkg/paper"
	"github.com/Sternrassler/paper-sync/pkg/slots"
	psync "github.com/Sternrassler/paper-sync/pkg/sync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for backfill runs.
var (
	embeddingsComputedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersync_embeddings_computed_total",
		Help: "Total embeddings computed and persisted",
	})

	embeddingFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papersync_embedding_failures_total",
		Help: "Total embedding failures by class",
	}, []string{"class"})

	backfillRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersync_backfill_runs_total",
		Help: "Total backfill runs started",
	})
)

// Embedder computes an embedding vector for a text. Satisfied by
// *client.EmbeddingClient.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result summarizes one backfill run.
type Result struct {
	// Candidates is how many papers still lacked an embedding when the
	// run started.
	Candidates int `json:"candidates"`

	// Completed is how many embeddings were computed and persisted.
	Completed int `json:"completed"`

	// Failed is how many candidates errored (throttle skips excluded).
	Failed int `json:"failed"`

	// Skipped is how many candidates never ran because the pool froze.
	Skipped int `json:"skipped"`

	// Frozen reports whether the pool froze during the run.
	Frozen bool `json:"frozen"`
}

// Runner backfills missing embeddings for a filter series.
type Runner struct {
	store    paper.Store
	embedder Embedder
	slots    *slots.Controller
	state    *psync.State
	logger   zerolog.Logger

	running atomic.Bool
}

// NewRunner creates a backfill runner. The state is optional; when set
// the runner publishes its progress there.
func NewRunner(store paper.Store, embedder Embedder, slotCtrl *slots.Controller, state *psync.State) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("paper store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if slotCtrl == nil {
		return nil, fmt.Errorf("slot controller is required")
	}

	return &Runner{
		store:    store,
		embedder: embedder,
		slots:    slotCtrl,
		state:    state,
		logger:   log.With().Str("component", "backfill").Logger(),
	}, nil
}

// RunMissing backfills every paper of the filter that still lacks an
// embedding.
func (r *Runner) RunMissing(ctx context.Context, filter paper.Filter) (*Result, error) {
	candidates, err := r.store.MissingEmbedding(filter)
	if err != nil {
		return nil, fmt.Errorf("list missing embeddings: %w", err)
	}
	return r.Run(ctx, candidates)
}

// Run backfills the given candidates. Papers that already carry an
// embedding are filtered out, so re-running after a partial pass only
// touches what is still missing. A second concurrent call is a no-op.
//
// Each candidate acquires a slot before calling the embedding service.
// A throttled response freezes the pool; workers already past admission
// finish their call, everyone else is skipped. The run itself returns
// nil in that case, the freeze is reported in the Result. A freeze
// lasts for the remainder of its run only: the next run thaws the pool
// and retries the leftovers.
func (r *Runner) Run(ctx context.Context, candidates []paper.Paper) (*Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return &Result{}, nil
	}
	defer r.running.Store(false)

	// A freeze from an earlier run must not outlive it.
	r.slots.Thaw()

	pending := make([]paper.Paper, 0, len(candidates))
	for _, p := range candidates {
		if p.NeedsEmbedding() {
			pending = append(pending, p)
		}
	}

	result := &Result{Candidates: len(pending)}
	if len(pending) == 0 {
		return result, nil
	}

	backfillRunsTotal.Inc()

	if r.state != nil {
		r.state.SetBackfilling(true)
		r.state.SetBackfillProgress(0, len(pending))
		defer r.state.SetBackfilling(false)
	}

	r.logger.Info().Int("candidates", len(pending)).Msg("Backfill run starting")

	var (
		mu        stdsync.Mutex
		wg        stdsync.WaitGroup
		completed int
		failed    int
		skipped   int
	)

	for _, candidate := range pending {
		wg.Add(1)
		go func(p paper.Paper) {
			defer wg.Done()

			if !r.slots.Acquire(ctx) {
				mu.Lock()
				skipped++
				mu.Unlock()
				return
			}
			defer r.slots.Release()

			vec, err := r.embedder.Embed(ctx, p.Text())
			if err != nil {
				r.observeFailure(p.ID, err)
				mu.Lock()
				if client.IsThrottled(err) {
					skipped++
				} else {
					failed++
				}
				mu.Unlock()
				return
			}

			p.Embedding = vec
			if err := r.store.Upsert(p); err != nil {
				r.logger.Error().Err(err).Str("id", p.ID).Msg("Persisting embedding failed")
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}

			embeddingsComputedTotal.Inc()

			mu.Lock()
			completed++
			done := completed
			mu.Unlock()

			if r.state != nil {
				r.state.SetBackfillProgress(done, len(pending))
			}
		}(candidate)
	}

	wg.Wait()

	result.Completed = completed
	result.Failed = failed
	result.Skipped = skipped
	result.Frozen = r.slots.Frozen()

	r.logger.Info().
		Int("completed", completed).
		Int("failed", failed).
		Int("skipped", skipped).
		Bool("frozen", result.Frozen).
		Msg("Backfill run finished")

	return result, nil
}

// observeFailure records a failed embedding call. A throttled error
// freezes the slot pool for the remainder of the run.
func (r *Runner) observeFailure(id string, err error) {
	class := "other"
	switch {
	case client.IsThrottled(err):
		class = "throttled"
		r.logger.Warn().Str("id", id).Msg("Embedding service throttled - freezing pool")
		r.slots.Freeze()
	case client.IsTransient(err):
		class = "transient"
		r.logger.Warn().Err(err).Str("id", id).Msg("Embedding call failed")
	default:
		r.logger.Warn().Err(err).Str("id", id).Msg("Embedding call failed")
	}
	embeddingFailuresTotal.WithLabelValues(class).Inc()
}
