package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/renalreg/radar-timeline-data/internal/database"
	"github.com/renalreg/radar-timeline-data/internal/normalize"
)

// Patient number group ids in the canonical database.
const (
	numberGroupNHS = 120
	numberGroupCHI = 121
	numberGroupHSC = 122
)

// MappingRepository loads the lookup tables the normaliser runs on: modality
// code translations, satellite unit folding, group ids and the cross-registry
// patient identifier map.
type MappingRepository struct {
	sessions *database.Sessions
	log      *logrus.Logger
}

// NewMappingRepository creates a new mapping repository
func NewMappingRepository(sessions *database.Sessions, logger *logrus.Logger) *MappingRepository {
	return &MappingRepository{
		sessions: sessions,
		log:      logger,
	}
}

// Load builds the full mapping set for one run.
func (r *MappingRepository) Load(ctx context.Context) (normalize.Mappings, error) {
	maps := normalize.Mappings{}

	var err error
	if maps.ModalityByRegistryCode, err = r.loadPairs(ctx, r.sessions.UKRDC,
		`SELECT registry_code, equiv_modality FROM modality_codes
		 WHERE registry_code IS NOT NULL AND equiv_modality IS NOT NULL`); err != nil {
		return maps, fmt.Errorf("loading modality codes: %w", err)
	}

	if maps.SatelliteToMain, err = r.loadPairs(ctx, r.sessions.UKRDC,
		`SELECT DISTINCT ON (satellite_code) satellite_code, main_unit_code
		 FROM satellite_map ORDER BY satellite_code`); err != nil {
		return maps, fmt.Errorf("loading satellite map: %w", err)
	}

	if maps.GroupCodeToID, err = r.loadPairs(ctx, r.sessions.Radar,
		`SELECT code, id::text FROM groups ORDER BY id ASC`); err != nil {
		return maps, fmt.Errorf("loading source groups: %w", err)
	}

	if err = r.loadPatientMaps(ctx, &maps); err != nil {
		return maps, err
	}

	r.log.WithFields(logrus.Fields{
		"modality_codes": len(maps.ModalityByRegistryCode),
		"satellites":     len(maps.SatelliteToMain),
		"groups":         len(maps.GroupCodeToID),
		"ukrdc_patients": len(maps.UKRDCToPatient),
		"ukrr_patients":  len(maps.RRToPatient),
	}).Info("Loaded registry mappings")
	return maps, nil
}

// loadPairs runs a two-column query into a map, first column keying.
func (r *MappingRepository) loadPairs(ctx context.Context, db *database.DB, query string) (map[string]string, error) {
	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPairs(rows)
}

// scanPairs reads key/value rows into a map. Null keys or values are skipped
// and the first value for a key wins.
func scanPairs(rows pgx.Rows) (map[string]string, error) {
	out := make(map[string]string)
	for rows.Next() {
		var k, v *string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		if k == nil || v == nil {
			continue
		}
		if _, exists := out[*k]; !exists {
			out[*k] = *v
		}
	}
	return out, rows.Err()
}

// loadPatientMaps builds the ukrdcid and rr_no to canonical patient id maps.
// The rr map goes through the national identifiers the canonical database
// holds: each patient's NHS, CHI or HSC number is looked up in the renal
// registry's patient table, NHS numbers taking precedence.
func (r *MappingRepository) loadPatientMaps(ctx context.Context, maps *normalize.Mappings) error {
	var err error
	if maps.UKRDCToPatient, err = r.loadPairs(ctx, r.sessions.UKRDC,
		`SELECT pr.ukrdcid, pn.patientid
		 FROM patientrecord pr
		 JOIN patientnumber pn ON pr.pid = pn.pid
		 WHERE pn.organization = 'RADAR'
		 ORDER BY pn.patientid`); err != nil {
		return fmt.Errorf("loading ukrdc patient map: %w", err)
	}

	identifiers, err := r.loadNationalIdentifiers(ctx)
	if err != nil {
		return fmt.Errorf("loading national identifiers: %w", err)
	}

	maps.RRToPatient = make(map[string]string)
	// NHS numbers first so they win where a patient carries several kinds.
	for _, group := range []int{numberGroupNHS, numberGroupCHI, numberGroupHSC} {
		if err := r.resolveRRNumbers(ctx, identifiers[group], maps.RRToPatient, group); err != nil {
			return err
		}
	}
	return nil
}

// loadNationalIdentifiers returns, per number group, the national identifier
// to canonical patient id pairs recorded by the canonical system itself.
func (r *MappingRepository) loadNationalIdentifiers(ctx context.Context) (map[int]map[string]string, error) {
	query := `
		SELECT number, patient_id::text, number_group_id
		FROM patient_numbers
		WHERE source_type = 'RADAR'
		  AND number_group_id IN ($1, $2, $3)
		ORDER BY patient_id`

	rows, err := r.sessions.Radar.Pool.Query(ctx, query,
		numberGroupNHS, numberGroupCHI, numberGroupHSC)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int]map[string]string{
		numberGroupNHS: {},
		numberGroupCHI: {},
		numberGroupHSC: {},
	}
	for rows.Next() {
		var number, patientID string
		var group int
		if err := rows.Scan(&number, &patientID, &group); err != nil {
			return nil, err
		}
		out[group][number] = patientID
	}
	return out, rows.Err()
}

// rrIdentifierColumns maps a number group to the renal registry column
// holding that identifier kind.
var rrIdentifierColumns = map[int]string{
	numberGroupNHS: "new_nhs_no",
	numberGroupCHI: "chi_no",
	numberGroupHSC: "hsc_no",
}

// resolveRRNumbers looks up rr numbers for one identifier kind and fills the
// rr_no to patient id map, never overwriting an earlier resolution.
func (r *MappingRepository) resolveRRNumbers(ctx context.Context, identifiers map[string]string, rrMap map[string]string, group int) error {
	if len(identifiers) == 0 {
		return nil
	}

	column := rrIdentifierColumns[group]
	query := fmt.Sprintf(
		`SELECT rr_no::text, %s::text FROM patients WHERE %s = ANY($1)`,
		column, column)

	numbers := make([]string, 0, len(identifiers))
	for n := range identifiers {
		numbers = append(numbers, n)
	}

	for _, chunk := range chunkStrings(numbers, DefaultChunkSize) {
		rows, err := r.sessions.UKRR.Pool.Query(ctx, query, chunk)
		if err != nil {
			return fmt.Errorf("querying ukrr patients: %w", err)
		}
		err = mergeRRRows(rows, identifiers, rrMap)
		rows.Close()
		if err != nil {
			return fmt.Errorf("reading ukrr patients: %w", err)
		}
	}
	return nil
}

// mergeRRRows folds (rr_no, national number) rows into the rr_no to patient
// id map through the identifier lookup for one number kind. An rr_no already
// resolved by an earlier, higher-precedence kind is never overwritten.
func mergeRRRows(rows pgx.Rows, identifiers map[string]string, rrMap map[string]string) error {
	for rows.Next() {
		var rrNo, number *string
		if err := rows.Scan(&rrNo, &number); err != nil {
			return err
		}
		if rrNo == nil || number == nil {
			continue
		}
		patientID, ok := identifiers[*number]
		if !ok {
			continue
		}
		if _, exists := rrMap[*rrNo]; !exists {
			rrMap[*rrNo] = patientID
		}
	}
	return rows.Err()
}
