package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/renalreg/radar-timeline-data/internal/database"
	"github.com/renalreg/radar-timeline-data/internal/domain"
	"github.com/renalreg/radar-timeline-data/internal/normalize"
)

// TreatmentRepository reads treatment rows from the three registries.
type TreatmentRepository struct {
	sessions *database.Sessions
	breaker  *gobreaker.CircuitBreaker
	log      *logrus.Logger
}

// NewTreatmentRepository creates a new treatment repository
func NewTreatmentRepository(sessions *database.Sessions, breaker *gobreaker.CircuitBreaker, logger *logrus.Logger) *TreatmentRepository {
	return &TreatmentRepository{
		sessions: sessions,
		breaker:  breaker,
		log:      logger,
	}
}

// FetchRadar loads every dialysis row from the canonical database. Rows keep
// the source_type they were imported with; their codes are already canonical.
func (r *TreatmentRepository) FetchRadar(ctx context.Context) ([]normalize.RawTreatment, error) {
	query := `
		SELECT id::text, patient_id::text, source_group_id::text, source_type,
		       from_date, to_date, modality::text,
		       created_date::date, modified_date::date
		FROM dialysis`

	rows, err := r.sessions.Radar.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying radar treatments: %w", err)
	}
	defer rows.Close()

	out, err := scanRadarTreatments(rows)
	if err != nil {
		return nil, fmt.Errorf("reading radar treatments: %w", err)
	}

	r.log.WithField("rows", len(out)).Info("Fetched radar treatments")
	return out, nil
}

// scanRadarTreatments reads canonical dialysis rows. The source_type comes
// from the row itself and the Canonical flag marks the codes as already
// translated.
func scanRadarTreatments(rows pgx.Rows) ([]normalize.RawTreatment, error) {
	var out []normalize.RawTreatment
	for rows.Next() {
		var (
			t                 normalize.RawTreatment
			recordID          *string
			groupID, modality *string
			fromDate          *time.Time
			sourceType        string
		)
		if err := rows.Scan(&recordID, &t.PatientRef, &groupID, &sourceType,
			&fromDate, &t.ToDate, &modality, &t.CreatedAt, &t.ModifiedAt); err != nil {
			return nil, err
		}
		t.Source = domain.Source(sourceType)
		t.Canonical = true
		t.RecordID = deref(recordID)
		t.SourceGroupCode = deref(groupID)
		t.ModalityCode = deref(modality)
		if fromDate != nil {
			t.FromDate = *fromDate
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FetchUKRDC loads treatment rows for the given ukrdcids. Rows without a
// modality code carry no usable episode and are filtered at the source.
func (r *TreatmentRepository) FetchUKRDC(ctx context.Context, ukrdcIDs []string) ([]normalize.RawTreatment, error) {
	query := `
		SELECT t.id, pr.ukrdcid, t.healthcarefacilitycode,
		       t.fromtime::date, t.totime::date, t.admitreasoncode,
		       t.creation_date::date, t.update_date::date
		FROM treatment t
		JOIN patientrecord pr ON t.pid = pr.pid
		WHERE pr.ukrdcid = ANY($1)
		  AND t.admitreasoncode IS NOT NULL`

	var out []normalize.RawTreatment
	for _, chunk := range chunkStrings(ukrdcIDs, DefaultChunkSize) {
		batch, err := r.fetchChunk(ctx, r.sessions.UKRDC, query, chunk, domain.SourceUKRDC)
		if err != nil {
			return nil, fmt.Errorf("querying ukrdc treatments: %w", err)
		}
		out = append(out, batch...)
	}

	r.log.WithField("rows", len(out)).Info("Fetched ukrdc treatments")
	return out, nil
}

// FetchUKRR loads treatment rows for the given rr numbers. The renal registry
// reports no row provenance, so created and modified dates stay nil.
func (r *TreatmentRepository) FetchUKRR(ctx context.Context, rrNos []string) ([]normalize.RawTreatment, error) {
	query := `
		SELECT NULL::text, rr_no::text, treatment_centre,
		       date_start::date, date_end::date, treatment_modality,
		       NULL::date, NULL::date
		FROM treatment
		WHERE rr_no = ANY($1)
		  AND treatment_modality IS NOT NULL`

	var out []normalize.RawTreatment
	for _, chunk := range chunkStrings(rrNos, DefaultChunkSize) {
		batch, err := r.fetchChunk(ctx, r.sessions.UKRR, query, chunk, domain.SourceRR)
		if err != nil {
			return nil, fmt.Errorf("querying ukrr treatments: %w", err)
		}
		out = append(out, batch...)
	}

	r.log.WithField("rows", len(out)).Info("Fetched ukrr treatments")
	return out, nil
}

// fetchChunk runs one IN-list chunk behind the registry circuit breaker. All
// registry treatment queries project the same eight columns.
func (r *TreatmentRepository) fetchChunk(ctx context.Context, db *database.DB, query string, ids []string, source domain.Source) ([]normalize.RawTreatment, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		rows, err := db.Pool.Query(ctx, query, ids)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanTreatments(rows, source)
	})
	if err != nil {
		return nil, err
	}
	return result.([]normalize.RawTreatment), nil
}

func scanTreatments(rows pgx.Rows, source domain.Source) ([]normalize.RawTreatment, error) {
	var out []normalize.RawTreatment
	for rows.Next() {
		var (
			t                 normalize.RawTreatment
			recordID          *string
			groupID, modality *string
			fromDate          *time.Time
		)
		if err := rows.Scan(&recordID, &t.PatientRef, &groupID,
			&fromDate, &t.ToDate, &modality, &t.CreatedAt, &t.ModifiedAt); err != nil {
			return nil, err
		}
		t.Source = source
		t.RecordID = deref(recordID)
		t.SourceGroupCode = deref(groupID)
		t.ModalityCode = deref(modality)
		if fromDate != nil {
			t.FromDate = *fromDate
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
