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

// TreatmentRun imports treatment rows from every registry, consolidates them
// into per-patient timelines and writes the result back. Any error aborts the
// run with nothing written; downstream consumers assume a complete timeline.
func (r *Runner) TreatmentRun(ctx context.Context, trail audit.Trail) (RunSummary, error) {
	var summary RunSummary

	maps, err := r.mappings.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("loading mappings: %w", err)
	}
	if len(maps.ModalityByRegistryCode) == 0 {
		// Every registry row would fail translation and be dropped; an
		// empty code table means a misconfigured registry connection.
		return summary, fmt.Errorf("modality code table: %w", domain.ErrNotFound)
	}
	normalizer, err := normalize.NewNormalizer(maps, r.tuning.GroupCacheSize, r.log)
	if err != nil {
		return summary, err
	}
	trail.Step("mappings", fmt.Sprintf("%d ukrdc patients, %d ukrr patients mapped",
		len(maps.UKRDCToPatient), len(maps.RRToPatient)))

	radarRows, err := r.treatments.FetchRadar(ctx)
	if err != nil {
		return summary, fmt.Errorf("fetching radar treatments: %w", err)
	}
	ukrdcRows, err := r.treatments.FetchUKRDC(ctx, sortedKeys(maps.UKRDCToPatient))
	if err != nil {
		return summary, fmt.Errorf("fetching ukrdc treatments: %w", err)
	}
	ukrrRows, err := r.treatments.FetchUKRR(ctx, sortedKeys(maps.RRToPatient))
	if err != nil {
		return summary, fmt.Errorf("fetching ukrr treatments: %w", err)
	}

	trail.Counter("treatments imported", "radar", len(radarRows))
	trail.Counter("treatments imported", "ukrdc", len(ukrdcRows))
	trail.Counter("treatments imported", "ukrr", len(ukrrRows))

	raw := make([]normalize.RawTreatment, 0, len(radarRows)+len(ukrdcRows)+len(ukrrRows))
	raw = append(raw, radarRows...)
	raw = append(raw, ukrdcRows...)
	raw = append(raw, ukrrRows...)
	summary.Fetched = len(raw)

	records, drops := normalizer.Treatments(raw)
	summary.Dropped = drops
	trail.Counter("treatments dropped", "unmapped_patient", drops.UnmappedPatient)
	trail.Counter("treatments dropped", "unmapped_modality", drops.UnmappedModality)
	trail.Snapshot("treatments_normalized", records)

	consolidated, err := r.engine.Consolidate(records,
		timeline.TreatmentPasses(r.tuning.BurstToleranceDays, r.tuning.CrossToleranceDays))
	if err != nil {
		return summary, fmt.Errorf("consolidating treatments: %w", err)
	}
	summary.Consolidated = len(consolidated)
	trail.Step("consolidate", fmt.Sprintf("%d rows reduced to %d timeline entries",
		len(records), len(consolidated)))
	trail.Snapshot("treatments_consolidated", consolidated)

	res, err := r.exporter.ExportTreatments(ctx, consolidated)
	if err != nil {
		return summary, fmt.Errorf("exporting treatments: %w", err)
	}
	summary.Created = res.Created
	summary.Updated = res.Updated
	summary.Failed = res.Failed

	trail.Counter("treatments output", "to_create", res.Created)
	trail.Counter("treatments output", "to_update", res.Updated)
	if res.Failed > 0 {
		trail.Important(fmt.Sprintf("%d rows of treatment data failed to insert", res.Failed))
		trail.Snapshot("treatments_failed", res.FailedRows)
	}

	r.log.WithFields(logrus.Fields{
		"fetched":      summary.Fetched,
		"dropped":      summary.Dropped.Total(),
		"consolidated": summary.Consolidated,
		"created":      summary.Created,
		"updated":      summary.Updated,
		"failed":       summary.Failed,
	}).Info("Treatment run completed")
	return summary, nil
}
