package audit

import (
	"github.com/renalreg/radar-timeline-data/internal/domain"
)

// Trail records what a run did: the steps it took, the record counts it saw
// and samples of the tables it produced. One trail covers one run.
type Trail interface {
	// Step records a pipeline stage with free-form detail.
	Step(name, detail string)
	// Counter records a named count under a section.
	Counter(section, key string, value int)
	// Important flags something an operator should read before trusting the
	// run, such as failed export rows.
	Important(message string)
	// Snapshot stores the size and a sample of an intermediate table.
	Snapshot(name string, records []domain.IntervalRecord)
	// Finish closes the trail with a final status.
	Finish(status string) error
}

// Nop is a Trail that records nothing, used when auditing is disabled.
type Nop struct{}

func (Nop) Step(string, string)                      {}
func (Nop) Counter(string, string, int)              {}
func (Nop) Important(string)                         {}
func (Nop) Snapshot(string, []domain.IntervalRecord) {}
func (Nop) Finish(string) error                      { return nil }
