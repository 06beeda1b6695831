// Package ledger keeps a write-only PostgreSQL record of sync runs: one row
// per run, one per record outcome and one per cleaning operation.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/model"
)

// Ledger records runs into schema
type Ledger struct {
	db      *sqlx.DB
	schema  string
	logger  *zap.Logger
	timeout time.Duration
}

// New creates a ledger writing to schema
func New(db *sqlx.DB, schema string, logger *zap.Logger) *Ledger {
	if schema == "" {
		schema = "public"
	}
	return &Ledger{
		db:      db,
		schema:  schema,
		logger:  logger.Named("ledger"),
		timeout: 30 * time.Second,
	}
}

func (l *Ledger) ddl() []string {
	return []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.sync_runs (
			run_id TEXT PRIMARY KEY,
			dataset TEXT NOT NULL,
			dry_run BOOLEAN NOT NULL,
			started_at TIMESTAMP WITH TIME ZONE NOT NULL,
			finished_at TIMESTAMP WITH TIME ZONE,
			total_records INTEGER NOT NULL,
			created INTEGER NOT NULL,
			updated INTEGER NOT NULL,
			unchanged INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			warnings TEXT[]
		)`, l.schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.sync_record_outcomes (
			id SERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES %s.sync_runs (run_id),
			record_key TEXT NOT NULL,
			remote_name TEXT,
			outcome TEXT NOT NULL,
			changed_fields TEXT[],
			message TEXT
		)`, l.schema, l.schema),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.cleaned_on_ingress (
			id SERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			dataset TEXT NOT NULL,
			sheet_name TEXT NOT NULL,
			field_name TEXT NOT NULL,
			original_value TEXT,
			new_value TEXT NOT NULL,
			row_identifier TEXT NOT NULL,
			cleaning_operation TEXT NOT NULL,
			cleaning_reason TEXT NOT NULL,
			cleaned_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`, l.schema),
	}
}

// EnsureTables creates the ledger tables when missing
func (l *Ledger) EnsureTables(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	for _, stmt := range l.ddl() {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create ledger table: %w", err)
		}
	}
	l.logger.Info("Ensured ledger tables exist", zap.String("schema", l.schema))
	return nil
}

type runRow struct {
	RunID      string         `db:"run_id"`
	Dataset    string         `db:"dataset"`
	DryRun     bool           `db:"dry_run"`
	StartedAt  time.Time      `db:"started_at"`
	FinishedAt sql.NullTime   `db:"finished_at"`
	Total      int            `db:"total_records"`
	Created    int            `db:"created"`
	Updated    int            `db:"updated"`
	Unchanged  int            `db:"unchanged"`
	Skipped    int            `db:"skipped"`
	Failed     int            `db:"failed"`
	Warnings   pq.StringArray `db:"warnings"`
}

type outcomeRow struct {
	RunID         string         `db:"run_id"`
	Key           string         `db:"record_key"`
	RemoteName    sql.NullString `db:"remote_name"`
	Outcome       string         `db:"outcome"`
	ChangedFields pq.StringArray `db:"changed_fields"`
	Message       sql.NullString `db:"message"`
}

type cleaningRow struct {
	RunID             string         `db:"run_id"`
	Dataset           string         `db:"dataset"`
	Sheet             string         `db:"sheet_name"`
	FieldName         string         `db:"field_name"`
	OriginalValue     sql.NullString `db:"original_value"`
	NewValue          string         `db:"new_value"`
	RowIdentifier     string         `db:"row_identifier"`
	CleaningOperation string         `db:"cleaning_operation"`
	CleaningReason    string         `db:"cleaning_reason"`
	CleanedAt         time.Time      `db:"cleaned_at"`
}

func newRunRow(r *model.SyncResult) runRow {
	row := runRow{
		RunID:     r.RunID,
		Dataset:   r.Dataset,
		DryRun:    r.DryRun,
		StartedAt: r.StartTime,
		Total:     r.Total,
		Created:   r.Created,
		Updated:   r.Updated,
		Unchanged: r.Unchanged,
		Skipped:   r.Skipped,
		Failed:    r.Failed,
		Warnings:  pq.StringArray(r.Warnings),
	}
	if !r.EndTime.IsZero() {
		row.FinishedAt = sql.NullTime{Time: r.EndTime, Valid: true}
	}
	return row
}

func outcomeRows(r *model.SyncResult) []outcomeRow {
	rows := make([]outcomeRow, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		rows = append(rows, outcomeRow{
			RunID:         r.RunID,
			Key:           o.Key,
			RemoteName:    nullable(o.RemoteName),
			Outcome:       string(o.Outcome),
			ChangedFields: pq.StringArray(o.ChangedFields),
			Message:       nullable(o.Message),
		})
	}
	return rows
}

func cleaningRows(r *model.SyncResult) []cleaningRow {
	rows := make([]cleaningRow, 0, len(r.Operations))
	for _, op := range r.Operations {
		rows = append(rows, cleaningRow{
			RunID:             r.RunID,
			Dataset:           op.Dataset,
			Sheet:             op.Sheet,
			FieldName:         op.FieldName,
			OriginalValue:     nullable(op.OriginalValue),
			NewValue:          op.NewValue,
			RowIdentifier:     op.RowIdentifier,
			CleaningOperation: op.CleaningOperation,
			CleaningReason:    op.CleaningReason,
			CleanedAt:         op.CleanedAt,
		})
	}
	return rows
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// RecordRun writes a finished run in one transaction
func (l *Ledger) RecordRun(ctx context.Context, result *model.SyncResult) (err error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				l.logger.Error("Failed to rollback transaction",
					zap.Error(rbErr),
					zap.Error(err))
			}
		}
	}()

	_, err = tx.NamedExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.sync_runs
		(run_id, dataset, dry_run, started_at, finished_at, total_records,
		 created, updated, unchanged, skipped, failed, warnings)
		VALUES (:run_id, :dataset, :dry_run, :started_at, :finished_at, :total_records,
		 :created, :updated, :unchanged, :skipped, :failed, :warnings)
	`, l.schema), newRunRow(result))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	outcomes := outcomeRows(result)
	if err = insertAll(ctx, tx, fmt.Sprintf(`
		INSERT INTO %s.sync_record_outcomes
		(run_id, record_key, remote_name, outcome, changed_fields, message)
		VALUES (:run_id, :record_key, :remote_name, :outcome, :changed_fields, :message)
	`, l.schema), outcomes); err != nil {
		return fmt.Errorf("failed to insert record outcomes: %w", err)
	}

	ops := cleaningRows(result)
	if err = insertAll(ctx, tx, fmt.Sprintf(`
		INSERT INTO %s.cleaned_on_ingress
		(run_id, dataset, sheet_name, field_name, original_value, new_value,
		 row_identifier, cleaning_operation, cleaning_reason, cleaned_at)
		VALUES (:run_id, :dataset, :sheet_name, :field_name, :original_value, :new_value,
		 :row_identifier, :cleaning_operation, :cleaning_reason, :cleaned_at)
	`, l.schema), ops); err != nil {
		return fmt.Errorf("failed to insert cleaning operations: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	l.logger.Info("Recorded run",
		zap.String("run_id", result.RunID),
		zap.String("dataset", result.Dataset),
		zap.Int("outcomes", len(outcomes)),
		zap.Int("cleaning_operations", len(ops)))
	return nil
}

// insertAll runs a named insert once per row through one prepared statement
func insertAll[T any](ctx context.Context, tx *sqlx.Tx, query string, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]); err != nil {
			return err
		}
	}
	return nil
}
