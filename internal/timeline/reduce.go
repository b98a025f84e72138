package timeline

import (
	"sort"
	"time"

	"github.com/renalreg/radar-timeline-data/internal/domain"
)

// Precedence decides which record in a merge group wins attribute conflicts.
type Precedence int

const (
	// BySource prefers the highest-ranked source, breaking ties by recency.
	// Used when merging across registries.
	BySource Precedence = iota
	// ByRecency prefers the most recently touched record, breaking ties by
	// source rank. Used within a single source where bursts of updates to the
	// same episode should resolve to the latest write.
	ByRecency
)

func precedenceLess(p Precedence) func(a, b domain.IntervalRecord) bool {
	return func(a, b domain.IntervalRecord) bool {
		if p == ByRecency {
			if c := compareTimePtrDesc(a.Recency(), b.Recency()); c != 0 {
				return c < 0
			}
			if a.SourceRank != b.SourceRank {
				return a.SourceRank > b.SourceRank
			}
		} else {
			if a.SourceRank != b.SourceRank {
				return a.SourceRank > b.SourceRank
			}
			if c := compareTimePtrDesc(a.Recency(), b.Recency()); c != 0 {
				return c < 0
			}
		}
		if !a.FromDate.Equal(b.FromDate) {
			return a.FromDate.After(b.FromDate)
		}
		return a.RecordID < b.RecordID
	}
}

// Reduce collapses one merge group into a single consolidated record.
//
// The span is the envelope of the group: minimum from date, maximum to date
// with nil dominating (an open interval absorbs all members). Provenance
// timestamps are the element-wise max. The remaining attribute set is copied
// wholesale from the single record that wins the precedence order, never
// blended field by field, which could produce attribute combinations no
// registry ever reported. The record id is the first non-empty id in the same
// precedence order; it is carried, never invented.
func Reduce(group []domain.IntervalRecord, p Precedence) (domain.IntervalRecord, error) {
	if len(group) == 0 {
		return domain.IntervalRecord{}, domain.NewInvariantViolation("reduce", "empty merge group")
	}

	ordered := make([]domain.IntervalRecord, len(group))
	copy(ordered, group)
	less := precedenceLess(p)
	sort.SliceStable(ordered, func(i, j int) bool { return less(ordered[i], ordered[j]) })

	out := ordered[0]

	out.FromDate = group[0].FromDate
	open := false
	var maxTo *time.Time
	for _, r := range group {
		if r.FromDate.Before(out.FromDate) {
			out.FromDate = r.FromDate
		}
		if r.ToDate == nil {
			open = true
		} else if maxTo == nil || r.ToDate.After(*maxTo) {
			d := *r.ToDate
			maxTo = &d
		}
	}
	out.ToDate = maxTo
	if open {
		out.ToDate = nil
	}

	out.CreatedAt, out.ModifiedAt = nil, nil
	for _, r := range group {
		out.CreatedAt = maxTimePtr(out.CreatedAt, r.CreatedAt)
		out.ModifiedAt = maxTimePtr(out.ModifiedAt, r.ModifiedAt)
	}

	out.RecordID = ""
	for _, r := range ordered {
		if r.RecordID != "" {
			out.RecordID = r.RecordID
			break
		}
	}

	return out, nil
}

func maxTimePtr(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.After(*a) {
		return b
	}
	return a
}
