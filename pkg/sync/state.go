package sync

import (
	"sync"

	"github.com/Sternrassler/paper-sync/pkg/client"
	"github.com/Sternrassler/paper-sync/pkg/ranges"
)

// Progress is a fetched/completed count against a known total.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// State is the observable sync process state for one filter series.
// It is mutated exclusively by the orchestrator and the backfill
// runner; everything else reads it through Snapshot.
type State struct {
	mu sync.Mutex

	requestedRanges []ranges.Range
	totalCount      int
	totalKnown      bool

	isFetchingFirst bool
	isFetchingMore  bool
	isFetchingAll   bool
	fetchAllProg    *Progress

	isBackfilling bool
	backfillProg  *Progress

	lastError error
}

// NewState creates an empty state: no ranges, unknown total.
func NewState() *State {
	return &State{}
}

// Snapshot is a read-only copy of the state for display and polling.
type Snapshot struct {
	RequestedRanges []ranges.Range `json:"requested_ranges"`
	TotalCount      *int           `json:"total_count"`

	IsFetchingFirst  bool      `json:"is_fetching_first"`
	IsFetchingMore   bool      `json:"is_fetching_more"`
	IsFetchingAll    bool      `json:"is_fetching_all"`
	FetchAllProgress *Progress `json:"fetch_all_progress,omitempty"`

	IsBackfilling    bool      `json:"is_backfilling"`
	BackfillProgress *Progress `json:"backfill_progress,omitempty"`

	// LastError is the message of the most recent failure, empty when
	// the last operation succeeded.
	LastError string `json:"last_error,omitempty"`

	// LastErrorThrottled distinguishes "rate limited, will resume"
	// from generic failures without string inspection.
	LastErrorThrottled bool `json:"last_error_throttled,omitempty"`
}

// Snapshot returns a consistent read-only copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		RequestedRanges: append([]ranges.Range(nil), s.requestedRanges...),
		IsFetchingFirst: s.isFetchingFirst,
		IsFetchingMore:  s.isFetchingMore,
		IsFetchingAll:   s.isFetchingAll,
		IsBackfilling:   s.isBackfilling,
	}
	if s.totalKnown {
		total := s.totalCount
		snap.TotalCount = &total
	}
	if s.fetchAllProg != nil {
		p := *s.fetchAllProg
		snap.FetchAllProgress = &p
	}
	if s.backfillProg != nil {
		p := *s.backfillProg
		snap.BackfillProgress = &p
	}
	if s.lastError != nil {
		snap.LastError = s.lastError.Error()
		snap.LastErrorThrottled = client.IsThrottled(s.lastError)
	}
	return snap
}

// Ranges returns a copy of the tracked ranges.
func (s *State) Ranges() []ranges.Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ranges.Range(nil), s.requestedRanges...)
}

// Total returns the known total count, or known=false.
func (s *State) Total() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalCount, s.totalKnown
}

// LastError returns the most recent recorded failure, or nil. The
// error's kind stays recoverable via the client package helpers.
func (s *State) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// replaceSeries swaps in a freshly fetched prefix and total.
func (s *State) replaceSeries(r ranges.Range, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestedRanges = ranges.Merge(nil, r)
	s.totalCount = total
	s.totalKnown = true
}

// mergeRange records a fetched range and the catalog total that came
// with it.
func (s *State) mergeRange(r ranges.Range, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestedRanges = ranges.Merge(s.requestedRanges, r)
	s.totalCount = total
	s.totalKnown = true
}

// setTotal records the catalog total on its own.
func (s *State) setTotal(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalCount = total
	s.totalKnown = true
}

func (s *State) setFetchingFirst(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isFetchingFirst = v
}

func (s *State) setFetchingMore(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isFetchingMore = v
}

func (s *State) setFetchingAll(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isFetchingAll = v
	if !v {
		s.fetchAllProg = nil
	}
}

func (s *State) setFetchAllProgress(done, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchAllProg = &Progress{Done: done, Total: total}
}

// SetBackfilling marks the backfill track active or idle. The tracks
// are independent: a backfill can run while a fetch-all loop is active.
func (s *State) SetBackfilling(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isBackfilling = v
	if !v {
		s.backfillProg = nil
	}
}

// SetBackfillProgress records backfill completion progress.
func (s *State) SetBackfillProgress(completed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backfillProg = &Progress{Done: completed, Total: total}
}

// setError records a failure as the most recent error.
func (s *State) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err
}

// clearError clears the recorded failure after a success.
func (s *State) clearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = nil
}
