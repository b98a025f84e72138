package export

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/renalreg/radar-timeline-data/internal/domain"
)

// Options tunes how consolidated timelines are written back.
type Options struct {
	BatchSize     int
	BatchesPerSec float64
	// Commit enables writes. A dry run walks the whole export path,
	// counting what would change, without touching the database.
	Commit bool
}

// Result summarises one export.
type Result struct {
	Created int
	Updated int
	Failed  int
	// FailedRows holds the records whose individual insert failed after
	// the containing batch was rejected.
	FailedRows []domain.IntervalRecord
}

func (r Result) Total() int { return r.Created + r.Updated }

// Exporter writes consolidated records to the canonical database in batched
// upserts. Batches are rate limited so a large run does not starve the
// clinical application sharing the database.
type Exporter struct {
	db      *sql.DB
	opts    Options
	limiter *rate.Limiter
	log     *logrus.Logger
	now     func() time.Time
}

// NewExporter creates an exporter over a database handle.
func NewExporter(db *sql.DB, opts Options, logger *logrus.Logger) *Exporter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	limit := rate.Inf
	if opts.BatchesPerSec > 0 {
		limit = rate.Limit(opts.BatchesPerSec)
	}
	return &Exporter{
		db:      db,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		log:     logger,
		now:     time.Now,
	}
}

// table describes one destination table's column layout.
type table struct {
	name    string
	columns []string
	values  func(r domain.IntervalRecord) []any
}

var dialysisTable = table{
	name: "dialysis",
	columns: []string{"id", "patient_id", "source_group_id", "source_type",
		"from_date", "to_date", "modality", "created_date", "modified_date"},
	values: func(r domain.IntervalRecord) []any {
		return []any{r.RecordID, r.PatientID, payloadString(r, "source_group_id"),
			string(r.Source), r.FromDate, nullTime(r.ToDate), r.Modality,
			nullTime(r.CreatedAt), nullTime(r.ModifiedAt)}
	},
}

var transplantTable = table{
	name: "transplants",
	columns: []string{"id", "patient_id", "source_group_id", "source_type",
		"date", "date_of_failure", "modality", "created_date", "modified_date"},
	values: func(r domain.IntervalRecord) []any {
		return []any{r.RecordID, r.PatientID, payloadString(r, "source_group_id"),
			string(r.Source), r.FromDate, payloadTime(r, "failure_date"), r.Modality,
			nullTime(r.CreatedAt), nullTime(r.ModifiedAt)}
	},
}

// ExportTreatments upserts consolidated treatment records.
func (e *Exporter) ExportTreatments(ctx context.Context, records []domain.IntervalRecord) (Result, error) {
	return e.export(ctx, dialysisTable, records)
}

// ExportTransplants upserts consolidated transplant records.
func (e *Exporter) ExportTransplants(ctx context.Context, records []domain.IntervalRecord) (Result, error) {
	return e.export(ctx, transplantTable, records)
}

// export assigns identity and provenance, then writes in rate-limited
// batches. New records get a fresh uuid; records that kept a registry id
// update in place through the conflict clause.
func (e *Exporter) export(ctx context.Context, tbl table, records []domain.IntervalRecord) (Result, error) {
	var res Result
	now := e.now()

	prepared := make([]domain.IntervalRecord, len(records))
	minted := make(map[string]bool)
	for i, r := range records {
		if r.RecordID == "" {
			r.RecordID = uuid.New().String()
			minted[r.RecordID] = true
			res.Created++
		} else {
			res.Updated++
		}
		if r.CreatedAt == nil {
			r.CreatedAt = &now
		}
		if r.ModifiedAt == nil {
			r.ModifiedAt = &now
		}
		prepared[i] = r
	}

	if !e.opts.Commit {
		e.log.WithFields(logrus.Fields{
			"table":   tbl.name,
			"created": res.Created,
			"updated": res.Updated,
		}).Info("Dry run, skipping database writes")
		return res, nil
	}

	for start := 0; start < len(prepared); start += e.opts.BatchSize {
		end := start + e.opts.BatchSize
		if end > len(prepared) {
			end = len(prepared)
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return res, fmt.Errorf("waiting for rate limiter: %w", err)
		}
		if err := e.writeBatch(ctx, tbl, prepared[start:end]); err != nil {
			failed := e.writeRows(ctx, tbl, prepared[start:end], minted, &res)
			e.log.WithFields(logrus.Fields{
				"table":  tbl.name,
				"batch":  start / e.opts.BatchSize,
				"failed": failed,
			}).WithError(err).Error("Batch insert failed, fell back to row inserts")
		}
	}

	e.log.WithFields(logrus.Fields{
		"table":   tbl.name,
		"created": res.Created,
		"updated": res.Updated,
		"failed":  res.Failed,
	}).Info("Export completed")
	return res, nil
}

// writeBatch upserts one batch in a single multi-row statement.
func (e *Exporter) writeBatch(ctx context.Context, tbl table, batch []domain.IntervalRecord) error {
	query, args := buildUpsert(tbl, batch)
	_, err := e.db.ExecContext(ctx, query, args...)
	return err
}

// writeRows retries a failed batch row by row so one bad row cannot sink its
// thousand neighbours. Rows that still fail are collected on the result and
// taken back out of the created or updated count they were prepared under.
func (e *Exporter) writeRows(ctx context.Context, tbl table, batch []domain.IntervalRecord, minted map[string]bool, res *Result) int {
	failed := 0
	for _, r := range batch {
		query, args := buildUpsert(tbl, []domain.IntervalRecord{r})
		if _, err := e.db.ExecContext(ctx, query, args...); err != nil {
			if minted[r.RecordID] {
				res.Created--
			} else {
				res.Updated--
			}
			res.Failed++
			res.FailedRows = append(res.FailedRows, r)
			failed++
		}
	}
	return failed
}

// buildUpsert builds a multi-row INSERT ... ON CONFLICT (id) DO UPDATE.
func buildUpsert(tbl table, batch []domain.IntervalRecord) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ",
		tbl.name, strings.Join(tbl.columns, ", "))

	args := make([]any, 0, len(batch)*len(tbl.columns))
	for i, r := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range tbl.columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*len(tbl.columns)+j+1)
		}
		sb.WriteByte(')')
		args = append(args, tbl.values(r)...)
	}

	sb.WriteString(" ON CONFLICT (id) DO UPDATE SET ")
	first := true
	for _, col := range tbl.columns {
		// An update must not rewrite the stored row's creation provenance.
		if col == "id" || col == "created_date" {
			continue
		}
		if !first {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = EXCLUDED.%s", col, col)
		first = false
	}
	return sb.String(), args
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func payloadString(r domain.IntervalRecord, key string) any {
	v, ok := r.Payload[key].(string)
	if !ok || v == "" {
		return nil
	}
	return v
}

func payloadTime(r domain.IntervalRecord, key string) any {
	v, ok := r.Payload[key].(*time.Time)
	if !ok || v == nil {
		return nil
	}
	return *v
}
