package timeline

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalreg/radar-timeline-data/internal/domain"
)

func newTestEngine() *Engine {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewEngine(logger)
}

// txRec builds a transplant point event: the to date equals the from date so
// event proximity falls out of the ordinary interval classifier.
func txRec(patient string, source domain.Source, date, id string) domain.IntervalRecord {
	d := mustDate(date)
	return domain.IntervalRecord{
		PatientID:  patient,
		Modality:   "77",
		Source:     source,
		SourceRank: domain.TransplantSourceRank(source),
		RecordID:   id,
		FromDate:   d,
		ToDate:     &d,
	}
}

func singlePass(tol int, p Precedence) []Pass {
	return []Pass{{Name: "test", ToleranceDays: tol, Key: domain.IntervalRecord.GroupKey, Precedence: p}}
}

func TestConsolidate_OpenIntervalAbsorbsSuccessor(t *testing.T) {
	records := []domain.IntervalRecord{
		rec("P1", "A", "2020-01-01", "2020-01-10"),
		rec("P1", "A", "2020-01-09", ""),
	}

	out, err := newTestEngine().Consolidate(records, singlePass(0, BySource))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, mustDate("2020-01-01"), out[0].FromDate)
	assert.Nil(t, out[0].ToDate)
}

func TestConsolidate_GapVersusTolerance(t *testing.T) {
	records := []domain.IntervalRecord{
		rec("P1", "A", "2020-01-01", "2020-01-05"),
		rec("P1", "A", "2020-01-20", "2020-01-25"),
	}
	engine := newTestEngine()

	out, err := engine.Consolidate(records, singlePass(5, BySource))
	require.NoError(t, err)
	assert.Len(t, out, 2, "a 15-day gap must survive a 5-day tolerance")

	out, err = engine.Consolidate(records, singlePass(15, BySource))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, mustDate("2020-01-01"), out[0].FromDate)
	require.NotNil(t, out[0].ToDate)
	assert.Equal(t, mustDate("2020-01-25"), *out[0].ToDate)
}

func TestConsolidate_InvalidRecordAbortsWholeRun(t *testing.T) {
	records := []domain.IntervalRecord{
		rec("P1", "A", "2020-01-01", "2020-01-10"),
		{PatientID: "P1", Modality: "A", Source: domain.SourceUKRDC},
	}

	out, err := newTestEngine().Consolidate(records, TreatmentPasses(5, 15))
	require.Error(t, err)
	assert.Nil(t, out)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "from_date", verr.Field)
}

func TestConsolidate_CrossModalityMerge(t *testing.T) {
	// Episodes of different recorded modality closing within the widest
	// tolerance collapse in the patient-level pass. The higher-ranked source
	// supplies the surviving attributes.
	records := []domain.IntervalRecord{
		withSource(rec("P1", "HD", "2020-01-01", "2020-02-01"), domain.SourceRR),
		withSource(rec("P1", "PD", "2020-02-10", "2020-03-01"), domain.SourceUKRDC),
		rec("P2", "HD", "2020-01-01", "2020-02-01"),
	}

	out, err := newTestEngine().Consolidate(records, TreatmentPasses(5, 15))
	require.NoError(t, err)
	require.Len(t, out, 2)

	var p1 []domain.IntervalRecord
	for _, r := range out {
		if r.PatientID == "P1" {
			p1 = append(p1, r)
		}
	}
	require.Len(t, p1, 1)
	assert.Equal(t, domain.SourceRR, p1[0].Source)
	assert.Equal(t, "HD", p1[0].Modality)
	assert.Equal(t, mustDate("2020-01-01"), p1[0].FromDate)
	require.NotNil(t, p1[0].ToDate)
	assert.Equal(t, mustDate("2020-03-01"), *p1[0].ToDate)
}

func TestConsolidate_TreatmentIdempotence(t *testing.T) {
	records := []domain.IntervalRecord{
		withSource(rec("P1", "HD", "2020-01-01", "2020-01-10"), domain.SourceRADAR),
		rec("P1", "HD", "2020-01-08", "2020-01-20"),
		rec("P1", "HD", "2020-02-10", ""),
		withSource(rec("P2", "PD", "2019-06-01", "2019-07-01"), domain.SourceRR),
		rec("P2", "PD", "2019-07-03", "2019-08-01"),
	}
	engine := newTestEngine()

	once, err := engine.Consolidate(records, TreatmentPasses(5, 15))
	require.NoError(t, err)
	twice, err := engine.Consolidate(once, TreatmentPasses(5, 15))
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestConsolidate_TransplantCrossRegistry(t *testing.T) {
	records := []domain.IntervalRecord{
		txRec("P1", domain.SourceRADAR, "2020-06-01", "radar-1"),
		txRec("P1", domain.SourceRR, "2020-06-10", "rr-1"),
		txRec("P1", domain.SourceRR, "2021-03-01", "rr-2"),
	}

	out, err := newTestEngine().Consolidate(records, TransplantPasses(15))
	require.NoError(t, err)
	require.Len(t, out, 2)

	// Events within 15 days are one transplant; the registry of record wins.
	assert.Equal(t, domain.SourceRADAR, out[0].Source)
	assert.Equal(t, "radar-1", out[0].RecordID)
	assert.Equal(t, mustDate("2020-06-01"), out[0].FromDate)

	assert.Equal(t, "rr-2", out[1].RecordID)
}

func TestConsolidate_TransplantIdempotence(t *testing.T) {
	records := []domain.IntervalRecord{
		txRec("P1", domain.SourceRADAR, "2020-06-01", "radar-1"),
		txRec("P1", domain.SourceRR, "2020-06-10", "rr-1"),
		txRec("P2", domain.SourceRR, "2018-01-01", "rr-9"),
	}
	engine := newTestEngine()

	once, err := engine.Consolidate(records, TransplantPasses(15))
	require.NoError(t, err)
	twice, err := engine.Consolidate(once, TransplantPasses(15))
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestConsolidate_EmptyInput(t *testing.T) {
	out, err := newTestEngine().Consolidate(nil, TreatmentPasses(5, 15))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestConsolidate_OutputsNeverOverlapWithinPartition(t *testing.T) {
	records := []domain.IntervalRecord{
		rec("P1", "HD", "2020-01-01", "2020-03-01"),
		rec("P1", "HD", "2020-01-15", "2020-02-01"),
		rec("P1", "HD", "2020-03-04", "2020-04-01"),
		rec("P1", "HD", "2020-05-01", ""),
		rec("P1", "HD", "2020-06-01", "2020-06-10"),
	}

	out, err := newTestEngine().Consolidate(records, TreatmentPasses(5, 15))
	require.NoError(t, err)
	require.NotEmpty(t, out)

	for i := 1; i < len(out); i++ {
		if out[i].PatientKey() != out[i-1].PatientKey() {
			continue
		}
		assert.False(t, Overlaps(out[i-1], out[i], 0),
			"outputs %d and %d overlap", i-1, i)
	}
}

func TestPassesCarryConfiguredTolerances(t *testing.T) {
	passes := TreatmentPasses(3, 9)
	require.Len(t, passes, 3)
	assert.Equal(t, 0, passes[0].ToleranceDays)
	assert.Equal(t, 3, passes[1].ToleranceDays)
	assert.Equal(t, 9, passes[2].ToleranceDays)

	tx := TransplantPasses(9)
	require.Len(t, tx, 2)
	assert.Equal(t, 0, tx[0].ToleranceDays)
	assert.Equal(t, 9, tx[1].ToleranceDays)
}
