package timeline

import (
	"time"

	"github.com/renalreg/radar-timeline-data/internal/domain"
)

// Overlaps reports whether two records sorted adjacent within the same
// partition describe the same episode under a tolerance window. Registries
// record the same clinical episode with slightly different boundary dates, so
// a bounded slack window absorbs registry-to-registry jitter without
// conflating genuinely separate episodes.
//
// An open-ended prev (nil to date) always overlaps: ongoing treatment absorbs
// everything after it.
func Overlaps(prev, curr domain.IntervalRecord, toleranceDays int) bool {
	if prev.ToDate == nil {
		return true
	}
	return !curr.FromDate.After(prev.ToDate.AddDate(0, 0, toleranceDays))
}

// groupEnd carries the running upper bound of the open merge group across the
// left-to-right scan. This is the forward-fill of the previous to date: an
// earlier record can extend past its immediate successor, so the scan compares
// against the maximum end seen so far, not the last record's end.
type groupEnd struct {
	open bool
	date time.Time
}

func startEnd(r domain.IntervalRecord) groupEnd {
	if r.ToDate == nil {
		return groupEnd{open: true}
	}
	return groupEnd{date: *r.ToDate}
}

func (e *groupEnd) extend(r domain.IntervalRecord) {
	if e.open {
		return
	}
	if r.ToDate == nil {
		e.open = true
		return
	}
	if r.ToDate.After(e.date) {
		e.date = *r.ToDate
	}
}

func (e groupEnd) overlaps(r domain.IntervalRecord, toleranceDays int) bool {
	if e.open {
		return true
	}
	return !r.FromDate.After(e.date.AddDate(0, 0, toleranceDays))
}
