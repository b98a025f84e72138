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

// TransplantRepository reads transplant rows from the registries. Transplants
// come from the canonical database and from the renal registry's NHSBT
// extract; the UKRDC feed carries no transplant table.
type TransplantRepository struct {
	sessions *database.Sessions
	breaker  *gobreaker.CircuitBreaker
	log      *logrus.Logger
}

// NewTransplantRepository creates a new transplant repository
func NewTransplantRepository(sessions *database.Sessions, breaker *gobreaker.CircuitBreaker, logger *logrus.Logger) *TransplantRepository {
	return &TransplantRepository{
		sessions: sessions,
		breaker:  breaker,
		log:      logger,
	}
}

// FetchRadar loads every transplant row from the canonical database.
func (r *TransplantRepository) FetchRadar(ctx context.Context) ([]normalize.RawTransplant, error) {
	query := `
		SELECT id::text, patient_id::text, modality::text,
		       date, date_of_failure, source_group_id::text
		FROM transplants`

	rows, err := r.sessions.Radar.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying radar transplants: %w", err)
	}
	defer rows.Close()

	out, err := scanRadarTransplants(rows)
	if err != nil {
		return nil, fmt.Errorf("reading radar transplants: %w", err)
	}

	r.log.WithField("rows", len(out)).Info("Fetched radar transplants")
	return out, nil
}

// scanRadarTransplants reads canonical transplant rows, all RADAR-sourced
// with already-translated codes.
func scanRadarTransplants(rows pgx.Rows) ([]normalize.RawTransplant, error) {
	var out []normalize.RawTransplant
	for rows.Next() {
		var (
			t                 normalize.RawTransplant
			recordID          *string
			modality, groupID *string
			date              *time.Time
		)
		if err := rows.Scan(&recordID, &t.PatientRef, &modality,
			&date, &t.FailureDate, &groupID); err != nil {
			return nil, err
		}
		t.Source = domain.SourceRADAR
		t.Canonical = true
		t.RecordID = deref(recordID)
		t.ModalityCode = deref(modality)
		t.UnitCode = deref(groupID)
		if date != nil {
			t.TransplantDate = *date
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FetchUKRR loads NHSBT transplant rows for the given rr numbers, joined to
// the site table so the unit comes back as an rr code the unit mapping knows.
func (r *TransplantRepository) FetchUKRR(ctx context.Context, rrNos []string) ([]normalize.RawTransplant, error) {
	query := `
		SELECT t.rr_no::text, t.transplant_type,
		       t.transplant_date::date, t.ukt_fail_date::date,
		       t.transplant_relationship, t.transplant_sex, s.rr_code
		FROM ukt_transplants t
		JOIN ukt_sites s ON t.transplant_unit = s.site_name
		WHERE t.rr_no = ANY($1)`

	var out []normalize.RawTransplant
	for _, chunk := range chunkStrings(rrNos, DefaultChunkSize) {
		result, err := r.breaker.Execute(func() (interface{}, error) {
			rows, err := r.sessions.UKRR.Pool.Query(ctx, query, chunk)
			if err != nil {
				return nil, err
			}
			defer rows.Close()
			return scanUKRRTransplants(rows)
		})
		if err != nil {
			return nil, fmt.Errorf("querying ukrr transplants: %w", err)
		}
		out = append(out, result.([]normalize.RawTransplant)...)
	}

	r.log.WithField("rows", len(out)).Info("Fetched ukrr transplants")
	return out, nil
}

// scanUKRRTransplants reads NHSBT extract rows. The donor attributes stay raw
// so the normaliser can derive the transplant modality from them.
func scanUKRRTransplants(rows pgx.Rows) ([]normalize.RawTransplant, error) {
	var out []normalize.RawTransplant
	for rows.Next() {
		var (
			t               normalize.RawTransplant
			ttype, rel, sex *string
			unit            *string
			date            *time.Time
		)
		if err := rows.Scan(&t.PatientRef, &ttype, &date,
			&t.FailureDate, &rel, &sex, &unit); err != nil {
			return nil, err
		}
		t.Source = domain.SourceRR
		t.TransplantType = deref(ttype)
		t.TransplantRelationship = deref(rel)
		t.TransplantSex = deref(sex)
		t.UnitCode = deref(unit)
		if date != nil {
			t.TransplantDate = *date
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
