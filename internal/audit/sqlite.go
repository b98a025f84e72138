package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/renalreg/radar-timeline-data/internal/domain"
)

// snapshotSampleSize bounds how many records a snapshot stores verbatim.
const snapshotSampleSize = 50

// SQLiteTrail persists the audit trail of one run to its own SQLite file.
// Audit writing must never sink a run, so recording failures are logged and
// swallowed; only Finish reports an error.
type SQLiteTrail struct {
	db    *sql.DB
	runID string
	seq   int
	log   *logrus.Logger
}

// NewSQLiteTrail creates the audit file for one run under dir.
func NewSQLiteTrail(dir, kind string, logger *logrus.Logger) (*SQLiteTrail, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	runID := uuid.New().String()
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.db",
		kind, time.Now().Format("20060102_150405"), runID[:8]))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	t := &SQLiteTrail{db: db, runID: runID, log: logger}
	if _, err := db.Exec(
		`INSERT INTO runs (id, kind, started_at, status) VALUES (?, ?, ?, 'running')`,
		runID, kind, time.Now()); err != nil {
		db.Close()
		return nil, fmt.Errorf("recording run start: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"run_id": runID,
		"path":   path,
	}).Info("Audit trail opened")
	return t, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS steps (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		detail TEXT DEFAULT '',
		important INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, seq)
	);

	CREATE TABLE IF NOT EXISTS counters (
		run_id TEXT NOT NULL,
		section TEXT NOT NULL,
		key TEXT NOT NULL,
		value INTEGER NOT NULL,
		PRIMARY KEY (run_id, section, key)
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		row_count INTEGER NOT NULL,
		sample TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, name)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Step records a pipeline stage.
func (t *SQLiteTrail) Step(name, detail string) {
	t.insertStep(name, detail, false)
}

// Important records a step an operator should read.
func (t *SQLiteTrail) Important(message string) {
	t.insertStep("important", message, true)
}

func (t *SQLiteTrail) insertStep(name, detail string, important bool) {
	t.seq++
	if _, err := t.db.Exec(
		`INSERT INTO steps (run_id, seq, name, detail, important) VALUES (?, ?, ?, ?, ?)`,
		t.runID, t.seq, name, detail, important); err != nil {
		t.log.WithError(err).WithField("step", name).Warn("Failed to record audit step")
	}
}

// Counter records a named count.
func (t *SQLiteTrail) Counter(section, key string, value int) {
	if _, err := t.db.Exec(
		`INSERT INTO counters (run_id, section, key, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (run_id, section, key) DO UPDATE SET value = excluded.value`,
		t.runID, section, key, value); err != nil {
		t.log.WithError(err).WithField("section", section).Warn("Failed to record audit counter")
	}
}

// Snapshot stores the row count and a bounded sample of a table.
func (t *SQLiteTrail) Snapshot(name string, records []domain.IntervalRecord) {
	sample := records
	if len(sample) > snapshotSampleSize {
		sample = sample[:snapshotSampleSize]
	}
	encoded, err := json.Marshal(sample)
	if err != nil {
		t.log.WithError(err).WithField("snapshot", name).Warn("Failed to encode audit snapshot")
		return
	}
	if _, err := t.db.Exec(
		`INSERT INTO snapshots (run_id, name, row_count, sample) VALUES (?, ?, ?, ?)
		 ON CONFLICT (run_id, name) DO UPDATE SET row_count = excluded.row_count, sample = excluded.sample`,
		t.runID, name, len(records), string(encoded)); err != nil {
		t.log.WithError(err).WithField("snapshot", name).Warn("Failed to record audit snapshot")
	}
}

// Finish marks the run complete and closes the file.
func (t *SQLiteTrail) Finish(status string) error {
	_, err := t.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ? WHERE id = ?`,
		time.Now(), status, t.runID)
	if closeErr := t.db.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("finishing audit trail: %w", err)
	}
	return nil
}
