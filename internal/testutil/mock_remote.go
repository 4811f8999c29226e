// Package testutil provides testing utilities for the paper sync engine.
package testutil

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/paper-sync/pkg/paper"
)

// pageResponse mirrors the catalog's wire shape.
type pageResponse struct {
	Items        []paper.Paper `json:"items"`
	FetchedCount int           `json:"fetched_count"`
	TotalCount   int           `json:"total_count"`
}

// MockRemote is a configurable fake of both remote collaborators: the
// paged paper catalog and the embeddings API.
type MockRemote struct {
	server *httptest.Server

	mu sync.Mutex

	// Catalog state
	papers       []paper.Paper
	pageOffsets  []int
	pageFailures map[int]int // offset -> status code

	// Embeddings state
	remaining        int
	resetSeconds     int
	embedCalls       int
	embedSuccesses   int
	throttleAfter    int // throttle once this many embeds succeeded; -1 disables
	embedDelay       time.Duration
	embedInFlight    int
	maxEmbedInFlight int
	embedFailTexts   map[string]int // text -> status code for targeted failures
	embeddedTexts    []string
}

// NewMockRemote creates a mock remote serving both APIs.
func NewMockRemote() *MockRemote {
	m := &MockRemote{
		pageFailures:   make(map[int]int),
		embedFailTexts: make(map[string]int),
		remaining:      100,
		resetSeconds:   60,
		throttleAfter:  -1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/papers", m.handlePapers)
	mux.HandleFunc("/v1/embeddings", m.handleEmbeddings)
	m.server = httptest.NewServer(mux)

	return m
}

// URL returns the mock server URL.
func (m *MockRemote) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRemote) Close() {
	m.server.Close()
}

// SetPapers replaces the catalog corpus.
func (m *MockRemote) SetPapers(papers []paper.Paper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.papers = papers
}

// SetQuota sets the rate limit headers served with embedding responses.
func (m *MockRemote) SetQuota(remaining, resetSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = remaining
	m.resetSeconds = resetSeconds
}

// FailPageAt makes page requests for the given offset fail with status.
func (m *MockRemote) FailPageAt(offset, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageFailures[offset] = status
}

// ClearPageFailure removes a configured page failure.
func (m *MockRemote) ClearPageFailure(offset int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pageFailures, offset)
}

// ThrottleEmbedsAfter makes the embeddings endpoint return 429 once n
// calls have succeeded. Negative n disables throttling.
func (m *MockRemote) ThrottleEmbedsAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttleAfter = n
}

// FailEmbedFor makes embedding the given text fail with status.
func (m *MockRemote) FailEmbedFor(text string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedFailTexts[text] = status
}

// SetEmbedDelay adds artificial latency to embedding calls so tests can
// force calls to overlap.
func (m *MockRemote) SetEmbedDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedDelay = d
}

// PageOffsets returns the offsets of all page requests served, in order.
func (m *MockRemote) PageOffsets() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.pageOffsets))
	copy(out, m.pageOffsets)
	return out
}

// PageRequestCount returns how many page requests were served.
func (m *MockRemote) PageRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pageOffsets)
}

// EmbedCallCount returns how many embedding requests were received.
func (m *MockRemote) EmbedCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embedCalls
}

// EmbeddedTexts returns the texts of all successful embedding calls.
func (m *MockRemote) EmbeddedTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.embeddedTexts))
	copy(out, m.embeddedTexts)
	return out
}

// MaxEmbedInFlight returns the peak number of concurrent embedding
// calls observed.
func (m *MockRemote) MaxEmbedInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxEmbedInFlight
}

func (m *MockRemote) handlePapers(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	m.mu.Lock()
	m.pageOffsets = append(m.pageOffsets, offset)
	failStatus := m.pageFailures[offset]
	total := len(m.papers)

	var items []paper.Paper
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		items = append(items, m.papers[offset:end]...)
	}
	m.mu.Unlock()

	if failStatus != 0 {
		if failStatus == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "30")
		}
		w.WriteHeader(failStatus)
		fmt.Fprintf(w, `{"error": "simulated %d"}`, failStatus)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(pageResponse{
		Items:        items,
		FetchedCount: len(items),
		TotalCount:   total,
	})
}

func (m *MockRemote) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.embedCalls++
	m.embedInFlight++
	if m.embedInFlight > m.maxEmbedInFlight {
		m.maxEmbedInFlight = m.embedInFlight
	}
	delay := m.embedDelay
	remaining := m.remaining
	resetSeconds := m.resetSeconds
	failStatus := m.embedFailTexts[req.Text]
	throttled := m.throttleAfter >= 0 && m.embedSuccesses >= m.throttleAfter
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	defer func() {
		m.mu.Lock()
		m.embedInFlight--
		m.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if throttled {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetSeconds))
		w.Header().Set("Retry-After", strconv.Itoa(resetSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": "rate limit exceeded"}`)
		return
	}

	if failStatus != 0 {
		w.WriteHeader(failStatus)
		fmt.Fprintf(w, `{"error": "simulated %d"}`, failStatus)
		return
	}

	m.mu.Lock()
	m.embedSuccesses++
	m.embeddedTexts = append(m.embeddedTexts, req.Text)
	m.mu.Unlock()

	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetSeconds))
	_ = json.NewEncoder(w).Encode(map[string][]float32{
		"embedding": EmbeddingFor(req.Text),
	})
}

// EmbeddingFor returns the deterministic fake embedding the mock serves
// for a text.
func EmbeddingFor(text string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()
	return []float32{
		float32(seed%1000) / 1000,
		float32((seed/1000)%1000) / 1000,
		float32((seed/1000000)%1000) / 1000,
	}
}

// GenPapers produces n sequential catalog papers for a category.
func GenPapers(n int, category string) []paper.Paper {
	papers := make([]paper.Paper, n)
	for i := range papers {
		papers[i] = paper.Paper{
			ID:         fmt.Sprintf("2608.%05d", i+1),
			Title:      fmt.Sprintf("Paper %d", i+1),
			Abstract:   fmt.Sprintf("Abstract of paper %d", i+1),
			Categories: []string{category},
			Published:  time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i%28),
		}
	}
	return papers
}
