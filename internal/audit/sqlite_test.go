package audit

import (
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalreg/radar-timeline-data/internal/domain"
)

func newTrail(t *testing.T) (*SQLiteTrail, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	dir := t.TempDir()
	trail, err := NewSQLiteTrail(dir, "treatment", logger)
	require.NoError(t, err)
	return trail, dir
}

func auditFile(t *testing.T, dir string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "treatment_*.db"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	return matches[0]
}

func TestSQLiteTrail_RecordsRun(t *testing.T) {
	trail, dir := newTrail(t)

	trail.Step("fetch", "loaded registry rows")
	trail.Counter("treatments imported", "ukrdc", 120)
	trail.Counter("treatments imported", "ukrdc", 125)
	trail.Important("3 rows failed to insert")
	trail.Snapshot("consolidated", []domain.IntervalRecord{
		{PatientID: "P1", Modality: "HD", Source: domain.SourceUKRDC,
			FromDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, trail.Finish("completed"))

	db, err := sql.Open("sqlite", auditFile(t, dir))
	require.NoError(t, err)
	defer db.Close()

	var status string
	var finished sql.NullTime
	require.NoError(t, db.QueryRow(
		`SELECT status, finished_at FROM runs`).Scan(&status, &finished))
	assert.Equal(t, "completed", status)
	assert.True(t, finished.Valid)

	var steps int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM steps`).Scan(&steps))
	assert.Equal(t, 2, steps)

	var important bool
	require.NoError(t, db.QueryRow(
		`SELECT important FROM steps WHERE name = 'important'`).Scan(&important))
	assert.True(t, important)

	// Counters upsert: the later value wins.
	var value int
	require.NoError(t, db.QueryRow(
		`SELECT value FROM counters WHERE section = 'treatments imported' AND key = 'ukrdc'`).Scan(&value))
	assert.Equal(t, 125, value)

	var rowCount int
	var sample string
	require.NoError(t, db.QueryRow(
		`SELECT row_count, sample FROM snapshots WHERE name = 'consolidated'`).Scan(&rowCount, &sample))
	assert.Equal(t, 1, rowCount)
	assert.Contains(t, sample, "P1")
}

func TestSQLiteTrail_SnapshotBoundsSample(t *testing.T) {
	trail, dir := newTrail(t)

	records := make([]domain.IntervalRecord, 200)
	for i := range records {
		records[i] = domain.IntervalRecord{PatientID: "P", Modality: "HD",
			FromDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	}
	trail.Snapshot("big", records)
	require.NoError(t, trail.Finish("completed"))

	db, err := sql.Open("sqlite", auditFile(t, dir))
	require.NoError(t, err)
	defer db.Close()

	var rowCount int
	require.NoError(t, db.QueryRow(
		`SELECT row_count FROM snapshots WHERE name = 'big'`).Scan(&rowCount))
	assert.Equal(t, 200, rowCount, "row_count reflects the full table, not the sample")
}

func TestSQLiteTrail_CreatesAuditDir(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	dir := filepath.Join(t.TempDir(), "nested", "audit")
	trail, err := NewSQLiteTrail(dir, "transplant", logger)
	require.NoError(t, err)
	require.NoError(t, trail.Finish("completed"))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNop_IsInert(t *testing.T) {
	var trail Trail = Nop{}
	trail.Step("x", "y")
	trail.Counter("a", "b", 1)
	trail.Important("z")
	trail.Snapshot("s", nil)
	assert.NoError(t, trail.Finish("completed"))
}
