package repository

import (
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalreg/radar-timeline-data/internal/domain"
)

// fakeRows drives the scan helpers with in-memory rows. Stored values must
// match the scan destination's element type exactly; nil stands for SQL null.
type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (f *fakeRows) Close()                                       {}
func (f *fakeRows) Err() error                                   { return f.err }
func (f *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (f *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (f *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (f *fakeRows) RawValues() [][]byte                          { return nil }
func (f *fakeRows) Conn() *pgx.Conn                              { return nil }

func (f *fakeRows) Next() bool {
	if f.idx >= len(f.rows) {
		return false
	}
	f.idx++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.rows[f.idx-1]
	for i, d := range dest {
		rv := reflect.ValueOf(d).Elem()
		if row[i] == nil {
			rv.Set(reflect.Zero(rv.Type()))
			continue
		}
		rv.Set(reflect.ValueOf(row[i]))
	}
	return nil
}

func strPtr(s string) *string { return &s }

func datePtr(s string) *time.Time {
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &d
}

func TestScanRadarTreatments(t *testing.T) {
	rows := &fakeRows{rows: [][]any{
		{strPtr("id-1"), "100", strPtr("7"), "UKRDC",
			datePtr("2020-01-01"), datePtr("2020-02-01"), strPtr("HD"),
			datePtr("2020-03-01"), datePtr("2020-03-02")},
		{strPtr("id-2"), "101", nil, "RADAR",
			nil, nil, nil, nil, nil},
	}}

	out, err := scanRadarTreatments(rows)
	require.NoError(t, err)
	require.Len(t, out, 2)

	first := out[0]
	assert.True(t, first.Canonical, "canonical rows skip code translation downstream")
	assert.Equal(t, domain.SourceUKRDC, first.Source, "source comes from the stored column")
	assert.Equal(t, "id-1", first.RecordID)
	assert.Equal(t, "100", first.PatientRef)
	assert.Equal(t, "7", first.SourceGroupCode)
	assert.Equal(t, "HD", first.ModalityCode)
	assert.Equal(t, *datePtr("2020-01-01"), first.FromDate)
	require.NotNil(t, first.ToDate)
	assert.Equal(t, *datePtr("2020-03-01"), *first.CreatedAt)

	second := out[1]
	assert.True(t, second.Canonical)
	assert.Equal(t, domain.SourceRADAR, second.Source)
	assert.Empty(t, second.SourceGroupCode)
	assert.Empty(t, second.ModalityCode)
	assert.Nil(t, second.ToDate)
	// A null from date scans to the zero time; record validation rejects
	// it before any merge happens.
	assert.True(t, second.FromDate.IsZero())
}

func TestScanTreatmentsAppliesSource(t *testing.T) {
	rows := &fakeRows{rows: [][]any{
		{nil, "RR-1", strPtr("UNIT1"),
			datePtr("2020-01-01"), nil, strPtr("1"), nil, nil},
	}}

	out, err := scanTreatments(rows, domain.SourceRR)
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := out[0]
	assert.False(t, got.Canonical, "registry rows still carry registry codes")
	assert.Equal(t, domain.SourceRR, got.Source)
	assert.Empty(t, got.RecordID, "ukrr rows have no canonical id yet")
	assert.Equal(t, "RR-1", got.PatientRef)
	assert.Nil(t, got.CreatedAt)
	assert.Nil(t, got.ModifiedAt)
}

func TestScanRadarTransplants(t *testing.T) {
	rows := &fakeRows{rows: [][]any{
		{strPtr("tx-1"), "100", strPtr("20"),
			datePtr("2020-06-01"), datePtr("2021-06-01"), strPtr("7")},
	}}

	out, err := scanRadarTransplants(rows)
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := out[0]
	assert.True(t, got.Canonical)
	assert.Equal(t, domain.SourceRADAR, got.Source)
	assert.Equal(t, "tx-1", got.RecordID)
	assert.Equal(t, "20", got.ModalityCode)
	assert.Equal(t, "7", got.UnitCode)
	assert.Equal(t, *datePtr("2020-06-01"), got.TransplantDate)
	require.NotNil(t, got.FailureDate)
	assert.Equal(t, *datePtr("2021-06-01"), *got.FailureDate)
}

func TestScanUKRRTransplants(t *testing.T) {
	rows := &fakeRows{rows: [][]any{
		{"RR-1", strPtr("Live"), datePtr("2020-06-05"),
			nil, strPtr("2"), strPtr("1"), strPtr("UNIT1")},
	}}

	out, err := scanUKRRTransplants(rows)
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := out[0]
	assert.False(t, got.Canonical)
	assert.Equal(t, domain.SourceRR, got.Source)
	assert.Empty(t, got.ModalityCode, "modality is derived later from donor attributes")
	assert.Equal(t, "Live", got.TransplantType)
	assert.Equal(t, "2", got.TransplantRelationship)
	assert.Equal(t, "1", got.TransplantSex)
	assert.Equal(t, "UNIT1", got.UnitCode)
	assert.Nil(t, got.FailureDate)
}

func TestScanPairs(t *testing.T) {
	rows := &fakeRows{rows: [][]any{
		{strPtr("1"), strPtr("HD")},
		{strPtr("2"), strPtr("PD")},
		{strPtr("1"), strPtr("HDF")},
		{strPtr("3"), nil},
		{nil, strPtr("TX")},
	}}

	out, err := scanPairs(rows)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1": "HD", "2": "PD"}, out,
		"first value wins, null keys and values are skipped")
}

func TestMergeRRRows_IdentifierPrecedence(t *testing.T) {
	rrMap := map[string]string{}

	// NHS numbers are resolved first.
	nhs := &fakeRows{rows: [][]any{
		{strPtr("RR-1"), strPtr("nhs-1")},
		{strPtr("RR-2"), strPtr("nhs-unknown")},
	}}
	require.NoError(t, mergeRRRows(nhs, map[string]string{"nhs-1": "100"}, rrMap))
	assert.Equal(t, map[string]string{"RR-1": "100"}, rrMap,
		"numbers the canonical system does not hold are skipped")

	// A CHI match for the same rr_no must not displace the NHS resolution.
	chi := &fakeRows{rows: [][]any{
		{strPtr("RR-1"), strPtr("chi-1")},
		{strPtr("RR-3"), strPtr("chi-3")},
	}}
	require.NoError(t, mergeRRRows(chi, map[string]string{
		"chi-1": "999",
		"chi-3": "300",
	}, rrMap))

	assert.Equal(t, "100", rrMap["RR-1"], "earlier identifier kind wins")
	assert.Equal(t, "300", rrMap["RR-3"])
}
