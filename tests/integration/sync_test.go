package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/paper-sync/internal/testutil"
	"github.com/Sternrassler/paper-sync/pkg/backfill"
	"github.com/Sternrassler/paper-sync/pkg/cache"
	"github.com/Sternrassler/paper-sync/pkg/client"
	"github.com/Sternrassler/paper-sync/pkg/paper"
	"github.com/Sternrassler/paper-sync/pkg/ratelimit"
	"github.com/Sternrassler/paper-sync/pkg/slots"
	"github.com/Sternrassler/paper-sync/pkg/store"
	psync "github.com/Sternrassler/paper-sync/pkg/sync"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newCatalog(t *testing.T, remote *testutil.MockRemote) *client.CatalogClient {
	t.Helper()
	catalog, err := client.NewCatalogClient(client.DefaultCatalogConfig(remote.URL(), "integration-test/1.0"))
	if err != nil {
		t.Fatalf("Failed to create catalog client: %v", err)
	}
	return catalog
}

func newOrchestrator(t *testing.T, remote *testutil.MockRemote, st paper.Store, freshCache *cache.Manager) *psync.Orchestrator {
	t.Helper()

	cfg := psync.DefaultConfig(paper.NewFilter([]string{"cs.AI"}, paper.PeriodMonth))
	cfg.BatchSize = 50
	cfg.FirstPageSize = 50
	cfg.Cache = freshCache

	orch, err := psync.NewOrchestrator(cfg, newCatalog(t, remote), st)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	return orch
}

// TestFullSyncFlow tests the complete flow: fresh sync against the
// remote, freshness cache write, and cache reuse on the next fresh sync.
func TestFullSyncFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	remote := testutil.NewMockRemote()
	defer remote.Close()
	remote.SetPapers(testutil.GenPapers(80, "cs.AI"))

	st, err := store.New("")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	freshCache := cache.NewManager(redisClient, 5*time.Minute)
	orch := newOrchestrator(t, remote, st, freshCache)

	ctx := context.Background()

	// Request 1: cache miss, remote fetch, cache store.
	t.Log("Fresh sync 1: cache miss")
	if err := orch.SyncFresh(ctx); err != nil {
		t.Fatalf("First fresh sync failed: %v", err)
	}
	if remote.PageRequestCount() != 1 {
		t.Errorf("After sync 1: remote requests = %d, want 1", remote.PageRequestCount())
	}

	// Request 2: within the freshness window, served from Redis.
	t.Log("Fresh sync 2: cache hit")
	if err := orch.SyncFresh(ctx); err != nil {
		t.Fatalf("Second fresh sync failed: %v", err)
	}
	if remote.PageRequestCount() != 1 {
		t.Errorf("After sync 2: remote requests = %d, want 1 (cached)", remote.PageRequestCount())
	}

	total, known := orch.State().Total()
	if !known || total != 80 {
		t.Errorf("total = %d (known=%v), want 80", total, known)
	}
}

// TestSyncAllThenBackfill runs the whole pipeline: pull every catalog
// page, then backfill the embeddings through the adaptive pool.
func TestSyncAllThenBackfill(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	remote := testutil.NewMockRemote()
	defer remote.Close()
	remote.SetPapers(testutil.GenPapers(125, "cs.AI"))
	remote.SetQuota(40, 60)

	st, err := store.New("")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	freshCache := cache.NewManager(redisClient, 5*time.Minute)
	orch := newOrchestrator(t, remote, st, freshCache)

	ctx := context.Background()

	if err := orch.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}

	filter := orch.Filter()
	count, err := st.CountForFilter(filter)
	if err != nil {
		t.Fatalf("CountForFilter failed: %v", err)
	}
	if count != 125 {
		t.Fatalf("stored papers = %d, want 125", count)
	}

	advisor := ratelimit.NewAdvisor(zerolog.Nop())
	embedder, err := client.NewEmbeddingClient(client.DefaultEmbeddingConfig(remote.URL(), "integration-test/1.0"), advisor)
	if err != nil {
		t.Fatalf("Failed to create embedding client: %v", err)
	}

	pool := slots.NewController(advisor.RecommendedConcurrency, zerolog.Nop())
	pool.SetPollInterval(5 * time.Millisecond)

	runner, err := backfill.NewRunner(st, embedder, pool, orch.State())
	if err != nil {
		t.Fatalf("Failed to create backfill runner: %v", err)
	}

	result, err := runner.RunMissing(ctx, filter)
	if err != nil {
		t.Fatalf("Backfill failed: %v", err)
	}
	if result.Completed != 125 {
		t.Errorf("embedded papers = %d, want 125", result.Completed)
	}

	// The embedding responses carry quota headers, so the pool size must
	// have stayed inside the advisor's recommendation.
	if got := remote.MaxEmbedInFlight(); got > ratelimit.MaxConcurrency {
		t.Errorf("max in-flight embeds = %d, want <= %d", got, ratelimit.MaxConcurrency)
	}

	missing, err := st.MissingEmbedding(filter)
	if err != nil {
		t.Fatalf("MissingEmbedding failed: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("papers still missing embeddings = %d, want 0", len(missing))
	}
}

// TestResumeAfterRestart simulates a process restart: a new
// orchestrator with empty range state continues from the store count
// instead of re-fetching what the first run persisted.
func TestResumeAfterRestart(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	remote := testutil.NewMockRemote()
	defer remote.Close()
	remote.SetPapers(testutil.GenPapers(150, "cs.AI"))

	st, err := store.New("")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	freshCache := cache.NewManager(redisClient, 5*time.Minute)

	orch1 := newOrchestrator(t, remote, st, freshCache)
	ctx := context.Background()

	if err := orch1.SyncFresh(ctx); err != nil {
		t.Fatalf("Fresh sync failed: %v", err)
	}
	if err := orch1.SyncMore(ctx); err != nil {
		t.Fatalf("SyncMore failed: %v", err)
	}

	count, _ := st.CountForFilter(orch1.Filter())
	if count != 100 {
		t.Fatalf("stored papers before restart = %d, want 100", count)
	}

	// "Restart": fresh orchestrator, same store.
	orch2 := newOrchestrator(t, remote, st, freshCache)

	before := remote.PageRequestCount()
	if err := orch2.SyncMore(ctx); err != nil {
		t.Fatalf("SyncMore after restart failed: %v", err)
	}

	offsets := remote.PageOffsets()
	last := offsets[len(offsets)-1]
	if last != 100 {
		t.Errorf("first offset after restart = %d, want 100 (seeded from store)", last)
	}
	if remote.PageRequestCount() != before+1 {
		t.Errorf("requests after restart = %d, want %d", remote.PageRequestCount(), before+1)
	}

	count, _ = st.CountForFilter(orch2.Filter())
	if count != 150 {
		t.Errorf("stored papers after resume = %d, want 150", count)
	}
}

// TestBackfillFreezeAndResume verifies that a throttled embedding call
// freezes the pool mid-run and that a later run of the same runner
// finishes the remaining papers.
func TestBackfillFreezeAndResume(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	remote := testutil.NewMockRemote()
	defer remote.Close()
	remote.SetPapers(testutil.GenPapers(5, "cs.AI"))

	st, err := store.New("")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	freshCache := cache.NewManager(redisClient, 5*time.Minute)
	orch := newOrchestrator(t, remote, st, freshCache)

	ctx := context.Background()
	if err := orch.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}

	advisor := ratelimit.NewAdvisor(zerolog.Nop())
	embedder, err := client.NewEmbeddingClient(client.DefaultEmbeddingConfig(remote.URL(), "integration-test/1.0"), advisor)
	if err != nil {
		t.Fatalf("Failed to create embedding client: %v", err)
	}

	filter := orch.Filter()

	pool := slots.NewController(func() int { return 1 }, zerolog.Nop())
	pool.SetPollInterval(5 * time.Millisecond)

	runner, err := backfill.NewRunner(st, embedder, pool, orch.State())
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}

	// First run: the third embed call gets throttled.
	remote.ThrottleEmbedsAfter(2)

	result1, err := runner.RunMissing(ctx, filter)
	if err != nil {
		t.Fatalf("First backfill run failed: %v", err)
	}
	if !result1.Frozen || result1.Completed != 2 {
		t.Fatalf("first run = %+v, want frozen with 2 completed", result1)
	}

	// Second run: throttle lifted, same runner and pool.
	remote.ThrottleEmbedsAfter(-1)

	result2, err := runner.RunMissing(ctx, filter)
	if err != nil {
		t.Fatalf("Second backfill run failed: %v", err)
	}
	if result2.Candidates != 3 || result2.Completed != 3 {
		t.Errorf("second run = %+v, want the 3 remaining papers", result2)
	}

	missing, _ := st.MissingEmbedding(filter)
	if len(missing) != 0 {
		t.Errorf("papers still missing embeddings = %d, want 0", len(missing))
	}
}
