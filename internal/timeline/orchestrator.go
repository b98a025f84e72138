package timeline

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/renalreg/radar-timeline-data/internal/domain"
)

// Pass is one consolidation stage: sort, classify and group, then reduce,
// applied over the previous pass's output.
type Pass struct {
	Name          string
	ToleranceDays int
	Key           KeyFunc
	Precedence    Precedence
}

// TreatmentPasses is the treatment pipeline: strict dedup per patient and
// modality, then a burst pass resolving close updates by recency, then a
// wider pass across modality boundaries within the same patient. A patient
// cannot undergo a different treatment within the cross window, so episodes
// of different recorded modality that close are one continuous clinical stay.
// The tolerances come from the engine configuration, defaulting to 5 and 15
// days.
func TreatmentPasses(burstDays, crossDays int) []Pass {
	return []Pass{
		{Name: "treatment_strict", ToleranceDays: 0, Key: domain.IntervalRecord.GroupKey, Precedence: BySource},
		{Name: "treatment_burst", ToleranceDays: burstDays, Key: domain.IntervalRecord.GroupKey, Precedence: ByRecency},
		{Name: "treatment_cross_modality", ToleranceDays: crossDays, Key: domain.IntervalRecord.PatientKey, Precedence: BySource},
	}
}

// TransplantPasses is the transplant pipeline: same-source dedup at zero
// tolerance, then a patient-level pass merging cross-registry duplicates of
// the same transplant event within the cross window.
func TransplantPasses(crossDays int) []Pass {
	sameSource := func(r domain.IntervalRecord) string {
		return r.PatientID + "\x00" + string(r.Source)
	}
	return []Pass{
		{Name: "transplant_dedup", ToleranceDays: 0, Key: sameSource, Precedence: ByRecency},
		{Name: "transplant_cross_registry", ToleranceDays: crossDays, Key: domain.IntervalRecord.PatientKey, Precedence: BySource},
	}
}

// Engine runs consolidation pipelines over in-memory record tables. It is a
// synchronous batch transformation; registry extracts are small enough that
// the dominant cost is upstream I/O, not this scan.
type Engine struct {
	log *logrus.Logger
}

// NewEngine creates a consolidation engine.
func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{log: logger}
}

// Consolidate validates every input record, then applies the passes in order,
// feeding each pass's output into the next. Any error aborts the whole
// pipeline; there is no partial-success mode because downstream consumers
// assume completeness and non-overlap. Re-running the pipeline on its own
// output yields the same output.
func (e *Engine) Consolidate(records []domain.IntervalRecord, passes []Pass) ([]domain.IntervalRecord, error) {
	for _, r := range records {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}

	out := records
	for _, pass := range passes {
		var err error
		in := len(out)
		out, err = e.runPass(out, pass)
		if err != nil {
			return nil, fmt.Errorf("pass %s: %w", pass.Name, err)
		}
		e.log.WithFields(logrus.Fields{
			"pass":      pass.Name,
			"tolerance": pass.ToleranceDays,
			"in":        in,
			"out":       len(out),
			"merged":    in - len(out),
		}).Info("Consolidation pass completed")
	}
	return out, nil
}

// runPass partitions, groups and reduces one pass, returning a fresh slice so
// each pass's precondition is independent of prior passes' internal state.
func (e *Engine) runPass(records []domain.IntervalRecord, pass Pass) ([]domain.IntervalRecord, error) {
	keys, parts := partition(records, pass.Key)

	out := make([]domain.IntervalRecord, 0, len(parts))
	for _, k := range keys {
		runs := groupRuns(parts[k], pass.ToleranceDays)

		reduced := make([]domain.IntervalRecord, 0, len(runs))
		for _, run := range runs {
			merged, err := Reduce(run, pass.Precedence)
			if err != nil {
				return nil, err
			}
			reduced = append(reduced, merged)
		}

		if err := verifyNonOverlap(k, reduced, pass.ToleranceDays); err != nil {
			return nil, err
		}
		out = append(out, reduced...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ka, kb := pass.Key(a), pass.Key(b); ka != kb {
			return ka < kb
		}
		return chronoLess(a, b)
	})
	return out, nil
}

// verifyNonOverlap checks the pass postcondition: within a partition, output
// intervals are pairwise non-overlapping under the pass tolerance. Groups are
// emitted in chronological order, so checking adjacent pairs suffices.
func verifyNonOverlap(key string, reduced []domain.IntervalRecord, toleranceDays int) error {
	for i := 1; i < len(reduced); i++ {
		if Overlaps(reduced[i-1], reduced[i], toleranceDays) {
			return domain.NewInvariantViolation("group",
				"partition %q: consecutive output intervals overlap under tolerance %d",
				key, toleranceDays)
		}
		if err := reduced[i].Validate(); err != nil {
			return err
		}
	}
	if len(reduced) > 0 {
		if err := reduced[0].Validate(); err != nil {
			return err
		}
	}
	return nil
}
