package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/renalreg/radar-timeline-data/internal/audit"
	"github.com/renalreg/radar-timeline-data/internal/domain"
	"github.com/renalreg/radar-timeline-data/internal/normalize"
	"github.com/renalreg/radar-timeline-data/internal/timeline"
)

// TransplantRun imports transplant events from the canonical database and the
// renal registry's NHSBT extract, consolidates cross-registry duplicates and
// writes the result back.
func (r *Runner) TransplantRun(ctx context.Context, trail audit.Trail) (RunSummary, error) {
	var summary RunSummary

	maps, err := r.mappings.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("loading mappings: %w", err)
	}
	normalizer, err := normalize.NewNormalizer(maps, r.tuning.GroupCacheSize, r.log)
	if err != nil {
		return summary, err
	}

	radarRows, err := r.transplants.FetchRadar(ctx)
	if err != nil {
		return summary, fmt.Errorf("fetching radar transplants: %w", err)
	}
	ukrrRows, err := r.transplants.FetchUKRR(ctx, sortedKeys(maps.RRToPatient))
	if err != nil {
		return summary, fmt.Errorf("fetching ukrr transplants: %w", err)
	}

	trail.Counter("transplants imported", "radar", len(radarRows))
	trail.Counter("transplants imported", "ukrr", len(ukrrRows))

	raw := make([]normalize.RawTransplant, 0, len(radarRows)+len(ukrrRows))
	raw = append(raw, radarRows...)
	raw = append(raw, ukrrRows...)
	summary.Fetched = len(raw)

	records, drops := normalizer.Transplants(raw)
	summary.Dropped = drops
	trail.Counter("transplants dropped", "unmapped_patient", drops.UnmappedPatient)
	trail.Counter("transplants dropped", "unmapped_modality", drops.UnmappedModality)
	trail.Snapshot("transplants_normalized", records)

	consolidated, err := r.engine.Consolidate(records,
		timeline.TransplantPasses(r.tuning.CrossToleranceDays))
	if err != nil {
		return summary, fmt.Errorf("consolidating transplants: %w", err)
	}
	if err := checkTransplants(consolidated); err != nil {
		return summary, err
	}
	summary.Consolidated = len(consolidated)
	trail.Step("consolidate", fmt.Sprintf("%d rows reduced to %d transplant events",
		len(records), len(consolidated)))
	trail.Snapshot("transplants_consolidated", consolidated)

	res, err := r.exporter.ExportTransplants(ctx, consolidated)
	if err != nil {
		return summary, fmt.Errorf("exporting transplants: %w", err)
	}
	summary.Created = res.Created
	summary.Updated = res.Updated
	summary.Failed = res.Failed

	trail.Counter("transplants output", "to_create", res.Created)
	trail.Counter("transplants output", "to_update", res.Updated)
	if res.Failed > 0 {
		trail.Important(fmt.Sprintf("%d rows of transplant data failed to insert", res.Failed))
		trail.Snapshot("transplants_failed", res.FailedRows)
	}

	r.log.WithFields(logrus.Fields{
		"fetched":      summary.Fetched,
		"dropped":      summary.Dropped.Total(),
		"consolidated": summary.Consolidated,
		"created":      summary.Created,
		"updated":      summary.Updated,
		"failed":       summary.Failed,
	}).Info("Transplant run completed")
	return summary, nil
}

// checkTransplants holds the pre-write sanity gate: every consolidated
// transplant must carry a patient and a modality. A gap here means a defect
// upstream, not bad registry data, so the run fails rather than filters.
func checkTransplants(records []domain.IntervalRecord) error {
	for _, rec := range records {
		if rec.PatientID == "" {
			return domain.NewInvariantViolation("transplant_check",
				"consolidated transplant without patient id (source %s)", rec.Source)
		}
		if rec.Modality == "" {
			return domain.NewInvariantViolation("transplant_check",
				"consolidated transplant for patient %s without modality", rec.PatientID)
		}
	}
	return nil
}
