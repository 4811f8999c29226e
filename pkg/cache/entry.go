package cache

import (
	"time"

	"github.com/Sternrassler/paper-sync/pkg/paper"
)

// Entry is a cached fresh-sync result for one filter series.
type Entry struct {
	// Items is the first page returned by the catalog.
	Items []paper.Paper `json:"items"`

	// TotalCount is the catalog total reported with that page.
	TotalCount int `json:"total_count"`

	// FetchedAt is when the result was fetched from the catalog.
	FetchedAt time.Time `json:"fetched_at"`
}

// Age returns how long ago the entry was fetched.
func (e *Entry) Age() time.Duration {
	return time.Since(e.FetchedAt)
}

// IsFresh reports whether the entry is still within the freshness window.
func (e *Entry) IsFresh(window time.Duration) bool {
	return e.Age() < window
}
