// Package paper defines the core domain types shared by the sync and
// backfill engines: papers, fetch filters, and the durable store contract.
package paper

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Paper is a single record from the remote paper catalog.
// Created on first fetch; the embedding is attached later by the
// backfill runner.
type Paper struct {
	// ID is the stable external identifier (e.g. "2301.00001").
	ID string `json:"id"`

	// Title of the paper.
	Title string `json:"title"`

	// Abstract text.
	Abstract string `json:"abstract"`

	// Categories the paper is listed under (e.g. "cs.AI").
	Categories []string `json:"categories"`

	// Published is the publication timestamp reported by the catalog.
	Published time.Time `json:"published"`

	// Embedding is the derived artifact. Nil or empty means the paper
	// still needs backfill.
	Embedding []float32 `json:"embedding,omitempty"`

	// FetchedAt is when this record was first stored locally.
	FetchedAt time.Time `json:"fetched_at"`
}

// Text returns the text sent to the embeddings API for this paper.
func (p *Paper) Text() string {
	if p.Abstract == "" {
		return p.Title
	}
	return p.Title + "\n\n" + p.Abstract
}

// NeedsEmbedding reports whether the paper still lacks its derived artifact.
// An absent and an empty embedding both count as missing.
func (p *Paper) NeedsEmbedding() bool {
	return len(p.Embedding) == 0
}

// Period is a predefined lookback window for catalog queries.
type Period int

const (
	// PeriodWeek covers the last 7 days.
	PeriodWeek Period = 7

	// PeriodMonth covers the last 30 days.
	PeriodMonth Period = 30

	// PeriodQuarter covers the last 90 days.
	PeriodQuarter Period = 90

	// PeriodYear covers the last 365 days.
	PeriodYear Period = 365
)

// Days returns the number of days the period covers.
func (p Period) Days() int {
	return int(p)
}

// String implements fmt.Stringer.
func (p Period) String() string {
	switch p {
	case PeriodWeek:
		return "week"
	case PeriodMonth:
		return "month"
	case PeriodQuarter:
		return "quarter"
	case PeriodYear:
		return "year"
	default:
		return fmt.Sprintf("%dd", int(p))
	}
}

// Filter identifies one logical sync series: a category set plus a
// lookback period. Filters are immutable values; each filter owns its
// own range and total-count state.
type Filter struct {
	Categories []string
	Period     Period
}

// NewFilter creates a normalized filter. Categories are sorted and
// deduplicated so that equal filters produce equal keys.
func NewFilter(categories []string, period Period) Filter {
	seen := make(map[string]struct{}, len(categories))
	normalized := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		normalized = append(normalized, c)
	}
	sort.Strings(normalized)

	return Filter{
		Categories: normalized,
		Period:     period,
	}
}

// Key generates a deterministic identifier string for the filter.
// Format: papers:cat1,cat2:period=30
//
// Example:
//
//	papers:cs.AI,cs.CL:period=30
func (f Filter) Key() string {
	parts := []string{"papers"}

	if len(f.Categories) > 0 {
		parts = append(parts, strings.Join(f.Categories, ","))
	}

	parts = append(parts, fmt.Sprintf("period=%d", int(f.Period)))

	return strings.Join(parts, ":")
}

// Store is the durable local paper store. Implementations must be safe
// for concurrent use: the sync orchestrator and the backfill runner both
// write to it, and upserts from either side must never corrupt a record.
type Store interface {
	// ExistsByID reports whether a paper with the given id is stored.
	ExistsByID(id string) (bool, error)

	// GetByID returns the stored paper, or ok=false when absent.
	GetByID(id string) (Paper, bool, error)

	// Upsert stores a single paper keyed by id. When the incoming record
	// carries no embedding but the stored one does, the stored embedding
	// is preserved.
	Upsert(p Paper) error

	// BulkUpsert stores a batch of papers for one filter series and
	// returns how many were new to the store. Already-present ids are
	// never overwritten by a fetch result; they are only associated with
	// the filter so CountForFilter reflects the series.
	BulkUpsert(filter Filter, papers []Paper) (int, error)

	// CountForFilter returns how many stored papers belong to the filter.
	CountForFilter(filter Filter) (int, error)

	// MissingEmbedding returns the papers of a filter that still lack an
	// embedding, in stable id order.
	MissingEmbedding(filter Filter) ([]Paper, error)
}
