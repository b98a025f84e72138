package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a lookup against a registry returned no rows.
var ErrNotFound = errors.New("not found")

// ValidationError reports a record that fails structural invariants. It is
// never retried; the run aborts before any merge occurs, because a partially
// consolidated timeline is unsafe for downstream consumers.
type ValidationError struct {
	PatientID string `json:"patient_id"`
	Source    Source `json:"source"`
	RecordID  string `json:"record_id,omitempty"`
	Field     string `json:"field"`
	Message   string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' on patient %s (%s): %s",
		e.Field, e.PatientID, e.Source, e.Message)
}

// NewValidationError creates a ValidationError carrying the identifying keys
// of the offending record.
func NewValidationError(r IntervalRecord, field, message string) *ValidationError {
	return &ValidationError{
		PatientID: r.PatientID,
		Source:    r.Source,
		RecordID:  r.RecordID,
		Field:     field,
		Message:   message,
	}
}

// InvariantViolation reports an internal contract breach such as an empty
// group reduction or non-monotonic group ids. It is a defect: the whole pass
// fails rather than attempting recovery.
type InvariantViolation struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Stage, e.Message)
}

// NewInvariantViolation creates an InvariantViolation for the named stage.
func NewInvariantViolation(stage, format string, args ...any) *InvariantViolation {
	return &InvariantViolation{Stage: stage, Message: fmt.Sprintf(format, args...)}
}
