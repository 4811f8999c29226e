// paper-syncd is the sync daemon: it keeps a local paper store in sync
// with the remote catalog and backfills missing embeddings, exposing
// the engine over a small HTTP control surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/Sternrassler/paper-sync/pkg/backfill"
	"github.com/Sternrassler/paper-sync/pkg/cache"
	"github.com/Sternrassler/paper-sync/pkg/client"
	"github.com/Sternrassler/paper-sync/pkg/logging"
	"github.com/Sternrassler/paper-sync/pkg/paper"
	"github.com/Sternrassler/paper-sync/pkg/ratelimit"
	"github.com/Sternrassler/paper-sync/pkg/slots"
	"github.com/Sternrassler/paper-sync/pkg/store"
	psync "github.com/Sternrassler/paper-sync/pkg/sync"
)

func loadConfig() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PAPERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("catalog.url", "http://localhost:9090")
	v.SetDefault("embedding.url", "http://localhost:9091")
	v.SetDefault("user_agent", "paper-sync/0.1.0")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("db.path", "data/papers.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("categories", "cs.AI")
	v.SetDefault("period", "month")
	v.SetDefault("batch_size", 50)
	v.SetDefault("first_page_size", 500)
	v.SetDefault("freshness_window", cache.DefaultFreshnessWindow)

	return v
}

func parsePeriod(s string) (paper.Period, error) {
	switch strings.ToLower(s) {
	case "week":
		return paper.PeriodWeek, nil
	case "month":
		return paper.PeriodMonth, nil
	case "quarter":
		return paper.PeriodQuarter, nil
	case "year":
		return paper.PeriodYear, nil
	default:
		return 0, fmt.Errorf("unknown period %q (want week, month, quarter or year)", s)
	}
}

func main() {
	v := loadConfig()

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(v.GetString("log.level")),
		Pretty: v.GetBool("log.pretty"),
		Output: os.Stderr,
	})

	period, err := parsePeriod(v.GetString("period"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	filter := paper.NewFilter(strings.Split(v.GetString("categories"), ","), period)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The freshness cache is optional: without Redis every fresh sync
	// goes to the remote catalog.
	var freshCache *cache.Manager
	if addr := v.GetString("redis.addr"); addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", addr).
				Msg("Redis unreachable - running without freshness cache")
		} else {
			freshCache = cache.NewManager(redisClient, v.GetDuration("freshness_window"))
			logger.Info().Str("addr", addr).Msg("Connected to Redis")
		}
	}

	st, err := store.New(v.GetString("db.path"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open paper store")
	}
	defer st.Close()

	userAgent := v.GetString("user_agent")

	catalog, err := client.NewCatalogClient(client.DefaultCatalogConfig(v.GetString("catalog.url"), userAgent))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create catalog client")
	}

	advisor := ratelimit.NewAdvisor(logging.NewLogger("ratelimit"))

	embedder, err := client.NewEmbeddingClient(
		client.DefaultEmbeddingConfig(v.GetString("embedding.url"), userAgent), advisor)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create embedding client")
	}

	syncCfg := psync.DefaultConfig(filter)
	syncCfg.BatchSize = v.GetInt("batch_size")
	syncCfg.FirstPageSize = v.GetInt("first_page_size")
	syncCfg.Cache = freshCache

	orch, err := psync.NewOrchestrator(syncCfg, catalog, st)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create orchestrator")
	}

	pool := slots.NewController(advisor.RecommendedConcurrency, logging.NewLogger("slots"))

	runner, err := backfill.NewRunner(st, embedder, pool, orch.State())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create backfill runner")
	}

	srv := &server{
		orch:   orch,
		runner: runner,
		pool:   pool,
		filter: filter,
		logger: logging.NewLogger("http"),
	}

	addr := ":" + v.GetString("port")
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Str("filter", filter.Key()).Msg("Starting paper-syncd")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown failed")
	}
	logger.Info().Msg("paper-syncd stopped")
}

// server wires the sync engine into the HTTP control surface.
type server struct {
	orch   *psync.Orchestrator
	runner *backfill.Runner
	pool   *slots.Controller
	filter paper.Filter
	logger zerolog.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /sync/fresh", s.handleSyncFresh)
	mux.HandleFunc("POST /sync/more", s.handleSyncMore)
	mux.HandleFunc("POST /sync/all", s.handleSyncAll)
	mux.HandleFunc("POST /sync/stop", s.handleSyncStop)
	mux.HandleFunc("POST /backfill", s.handleBackfill)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"filter":       s.filter.Key(),
		"sync":         s.orch.State().Snapshot(),
		"pool_running": s.pool.Running(),
		"pool_frozen":  s.pool.Frozen(),
	})
}

func (s *server) handleSyncFresh(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.SyncFresh(r.Context()); err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.State().Snapshot())
}

func (s *server) handleSyncMore(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.SyncMore(r.Context()); err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.State().Snapshot())
}

// handleSyncAll starts the fetch-all loop in the background; progress
// is observable via /status.
func (s *server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.orch.SyncAll(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("Fetch-all run failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *server) handleSyncStop(w http.ResponseWriter, r *http.Request) {
	added := s.orch.Stop()
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (s *server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	go func() {
		if _, err := s.runner.RunMissing(context.Background(), s.filter); err != nil {
			s.logger.Warn().Err(err).Msg("Backfill run failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func writeSyncError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if client.IsThrottled(err) {
		status = http.StatusTooManyRequests
	} else if client.IsTransient(err) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
