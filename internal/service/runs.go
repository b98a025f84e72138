package service

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/renalreg/radar-timeline-data/internal/domain"
	"github.com/renalreg/radar-timeline-data/internal/export"
	"github.com/renalreg/radar-timeline-data/internal/normalize"
	"github.com/renalreg/radar-timeline-data/internal/timeline"
)

// TreatmentSource fetches raw treatment rows from the registries.
type TreatmentSource interface {
	FetchRadar(ctx context.Context) ([]normalize.RawTreatment, error)
	FetchUKRDC(ctx context.Context, ukrdcIDs []string) ([]normalize.RawTreatment, error)
	FetchUKRR(ctx context.Context, rrNos []string) ([]normalize.RawTreatment, error)
}

// TransplantSource fetches raw transplant rows from the registries.
type TransplantSource interface {
	FetchRadar(ctx context.Context) ([]normalize.RawTransplant, error)
	FetchUKRR(ctx context.Context, rrNos []string) ([]normalize.RawTransplant, error)
}

// MappingSource loads the lookup tables for one run.
type MappingSource interface {
	Load(ctx context.Context) (normalize.Mappings, error)
}

// Exporter writes consolidated timelines back to the canonical database.
type Exporter interface {
	ExportTreatments(ctx context.Context, records []domain.IntervalRecord) (export.Result, error)
	ExportTransplants(ctx context.Context, records []domain.IntervalRecord) (export.Result, error)
}

// RunSummary reports what one run read, dropped and wrote.
type RunSummary struct {
	Fetched      int
	Dropped      normalize.DropCounts
	Consolidated int
	Created      int
	Updated      int
	Failed       int
}

// Runner wires the registry sources, the consolidation engine and the
// exporter into the two import runs.
type Runner struct {
	mappings    MappingSource
	treatments  TreatmentSource
	transplants TransplantSource
	exporter    Exporter
	engine      *timeline.Engine
	tuning      domain.EngineConfig
	log         *logrus.Logger
}

// NewRunner creates a runner. tuning carries the configured pass tolerances
// and the normaliser cache bound.
func NewRunner(mappings MappingSource, treatments TreatmentSource, transplants TransplantSource,
	exporter Exporter, engine *timeline.Engine, tuning domain.EngineConfig, logger *logrus.Logger) *Runner {
	return &Runner{
		mappings:    mappings,
		treatments:  treatments,
		transplants: transplants,
		exporter:    exporter,
		engine:      engine,
		tuning:      tuning,
		log:         logger,
	}
}

// sortedKeys returns map keys in a stable order so registry fetches pull
// identical chunks run to run.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
