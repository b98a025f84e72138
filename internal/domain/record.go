package domain

import (
	"fmt"
	"time"
)

// Source identifies the registry that produced a record.
type Source string

const (
	SourceBatch Source = "BATCH"
	SourceUKRDC Source = "UKRDC"
	SourceRADAR Source = "RADAR"
	SourceRR    Source = "RR"
	SourceNHSBT Source = "NHSBT LIST"
)

// TreatmentSourceRank returns the trust ordinal used when merging treatment
// records. Higher values win attribute conflicts.
func TreatmentSourceRank(s Source) int {
	switch s {
	case SourceNHSBT:
		return 0
	case SourceBatch:
		return 1
	case SourceUKRDC:
		return 2
	case SourceRADAR:
		return 3
	case SourceRR:
		return 4
	}
	return -1
}

// TransplantSourceRank returns the trust ordinal for transplant merging.
// RADAR supplied the transplant event, so it outranks the UKRR extract.
func TransplantSourceRank(s Source) int {
	switch s {
	case SourceNHSBT:
		return 0
	case SourceBatch:
		return 1
	case SourceUKRDC:
		return 2
	case SourceRR:
		return 3
	case SourceRADAR:
		return 4
	}
	return -1
}

// IntervalRecord is one timeline entry in canonical form. Records are compared
// and merged only within the same group key. The engine treats records as
// immutable values; passes replace slices rather than mutating them.
type IntervalRecord struct {
	PatientID string
	// Modality is the category discriminator: a treatment modality code for
	// dialysis records, a transplant group for transplant records.
	Modality string
	Source   Source
	// SourceRank is the ordinal trust level assigned by the normalizer for the
	// pipeline being run. The engine never inspects Source directly.
	SourceRank int
	// RecordID is the canonical identifier in the originating system; empty
	// means the record has not been persisted yet.
	RecordID string

	FromDate time.Time
	// ToDate nil means the episode is ongoing and sorts greater than any
	// concrete date.
	ToDate *time.Time

	CreatedAt  *time.Time
	ModifiedAt *time.Time

	// Payload carries the remaining domain attributes. Merging copies it
	// wholesale from one winning record, never field by field.
	Payload map[string]any
}

// GroupKey returns the partition key for patient+category grouping.
func (r IntervalRecord) GroupKey() string {
	return r.PatientID + "\x00" + r.Modality
}

// PatientKey returns the partition key for patient-level cross-category passes.
func (r IntervalRecord) PatientKey() string {
	return r.PatientID
}

// Recency is the larger of the provenance timestamps, used as a tie-break
// signal only.
func (r IntervalRecord) Recency() *time.Time {
	return maxTime(r.CreatedAt, r.ModifiedAt)
}

// Validate enforces the structural invariants every record must hold before
// the engine runs. A nil from date is a data quality error, not an unknown.
func (r IntervalRecord) Validate() error {
	if r.PatientID == "" {
		return NewValidationError(r, "patient_id", "must not be empty")
	}
	if r.FromDate.IsZero() {
		return NewValidationError(r, "from_date", "must not be null")
	}
	if r.ToDate != nil && r.FromDate.After(*r.ToDate) {
		return NewValidationError(r, "from_date",
			fmt.Sprintf("is after to_date (%s > %s)",
				r.FromDate.Format(DateLayout), r.ToDate.Format(DateLayout)))
	}
	return nil
}

// DateLayout is the civil-date form used in errors and the audit trail.
const DateLayout = "2006-01-02"

// Date builds a day-granularity UTC timestamp.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DatePtr is Date for nullable fields.
func DatePtr(year int, month time.Month, day int) *time.Time {
	d := Date(year, month, day)
	return &d
}

func maxTime(a, b *time.Time) *time.Time {
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
