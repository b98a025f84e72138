package timeline

import (
	"sort"
	"time"

	"github.com/renalreg/radar-timeline-data/internal/domain"
)

// KeyFunc selects the partition key for a pass. Records are only ever
// compared and merged within the same key.
type KeyFunc func(domain.IntervalRecord) string

// chronoLess is the deterministic total order records are scanned in:
// from date ascending, to date descending with nil greatest, then recency
// descending, source rank descending and record id ascending so that grouping
// never depends on incidental input order.
func chronoLess(a, b domain.IntervalRecord) bool {
	if !a.FromDate.Equal(b.FromDate) {
		return a.FromDate.Before(b.FromDate)
	}
	if c := compareToDateDesc(a.ToDate, b.ToDate); c != 0 {
		return c < 0
	}
	if c := compareTimePtrDesc(a.Recency(), b.Recency()); c != 0 {
		return c < 0
	}
	if a.SourceRank != b.SourceRank {
		return a.SourceRank > b.SourceRank
	}
	return a.RecordID < b.RecordID
}

// compareToDateDesc orders to dates descending with nil as the greatest value:
// an open interval is logically unbounded.
func compareToDateDesc(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case a.After(*b):
		return -1
	case b.After(*a):
		return 1
	}
	return 0
}

// compareTimePtrDesc orders timestamps descending with nil last.
func compareTimePtrDesc(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.After(*b):
		return -1
	case b.After(*a):
		return 1
	}
	return 0
}

// partition splits records by key, returning keys in lexicographic order so
// pass output is reproducible run to run.
func partition(records []domain.IntervalRecord, key KeyFunc) ([]string, map[string][]domain.IntervalRecord) {
	parts := make(map[string][]domain.IntervalRecord)
	for _, r := range records {
		k := key(r)
		parts[k] = append(parts[k], r)
	}
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, parts
}

// assignGroups performs the run-length encoding step: a single left-to-right
// scan over one chronologically sorted partition, starting a new group id
// whenever the incoming record does not overlap the running end of the open
// group under the active tolerance. Ids are contiguous from zero and
// monotonically increasing.
func assignGroups(sorted []domain.IntervalRecord, toleranceDays int) []int {
	ids := make([]int, len(sorted))
	if len(sorted) == 0 {
		return ids
	}

	id := 0
	end := startEnd(sorted[0])
	for i := 1; i < len(sorted); i++ {
		if end.overlaps(sorted[i], toleranceDays) {
			end.extend(sorted[i])
		} else {
			id++
			end = startEnd(sorted[i])
		}
		ids[i] = id
	}
	return ids
}

// groupRuns sorts one partition chronologically and splits it into merge
// groups. Every input record lands in exactly one group.
func groupRuns(records []domain.IntervalRecord, toleranceDays int) [][]domain.IntervalRecord {
	sorted := make([]domain.IntervalRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return chronoLess(sorted[i], sorted[j]) })

	ids := assignGroups(sorted, toleranceDays)

	var runs [][]domain.IntervalRecord
	for i, r := range sorted {
		if i == 0 || ids[i] != ids[i-1] {
			runs = append(runs, nil)
		}
		runs[len(runs)-1] = append(runs[len(runs)-1], r)
	}
	return runs
}
