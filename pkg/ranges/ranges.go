// Package ranges tracks which offsets of a paginated remote collection
// have already been fetched. Ranges are half-open intervals [start, end)
// kept sorted by start and fully coalesced: no two stored ranges overlap
// or touch. All functions are pure; callers own the slice.
package ranges

// Range is a contiguous slice [Start, End) of offsets already fetched
// from the paged catalog for one filter series.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of offsets the range covers.
func (r Range) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Merge inserts nr into rs and coalesces any ranges that overlap or are
// adjacent, producing a minimal sorted set. Merging an already-covered
// range changes nothing; merges are commutative and idempotent, so
// reordering or duplicate application across retries never corrupts the
// tracked coverage.
func Merge(rs []Range, nr Range) []Range {
	if nr.Len() == 0 {
		return rs
	}

	merged := make([]Range, 0, len(rs)+1)
	inserted := false

	for _, r := range rs {
		if r.Len() == 0 {
			continue
		}

		switch {
		case r.End < nr.Start:
			// Entirely before the new range, not touching.
			merged = append(merged, r)
		case nr.End < r.Start:
			// Entirely after the new range, not touching.
			if !inserted {
				merged = append(merged, nr)
				inserted = true
			}
			merged = append(merged, r)
		default:
			// Overlapping or adjacent: absorb into the new range.
			if r.Start < nr.Start {
				nr.Start = r.Start
			}
			if r.End > nr.End {
				nr.End = r.End
			}
		}
	}

	if !inserted {
		merged = append(merged, nr)
	}

	return merged
}

// NextOffset returns the start of the first gap at or after offset 0,
// assuming rs is sorted and coalesced as produced by Merge. If rs fully
// covers [0, total), it returns total (meaning "done"). An empty rs
// yields 0.
func NextOffset(rs []Range, total int) int {
	if len(rs) == 0 || rs[0].Start > 0 {
		return 0
	}

	offset := rs[0].End
	if offset > total {
		offset = total
	}
	return offset
}

// HasMore reports whether another page request is needed. True when the
// total is still unknown, false once the contiguous prefix reaches
// total. A total of zero means nothing to fetch regardless of ranges.
func HasMore(rs []Range, total int, totalKnown bool) bool {
	if !totalKnown {
		return true
	}
	if total <= 0 {
		return false
	}
	return NextOffset(rs, total) < total
}
