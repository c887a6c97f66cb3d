package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/docuflow/pkg/docuflow"
)

// Schema holds the run ledger DDL. Every statement is safe to apply repeatedly.
var Schema = []string{`
CREATE TABLE IF NOT EXISTS processing_runs (
	id           TEXT PRIMARY KEY,
	blob_key     TEXT NOT NULL,
	job_id       TEXT NOT NULL DEFAULT '',
	outcome      VARCHAR(16) NOT NULL,
	failure_kind VARCHAR(32) NOT NULL DEFAULT '',
	message      TEXT NOT NULL DEFAULT '',
	output_key   TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS processing_runs_blob_key_idx ON processing_runs (blob_key, started_at DESC)`,
}

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements docuflow.RunRepository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL run repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL run repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate applies Schema.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return r.handlePostgresError("migrate", err)
		}
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

const runColumns = `id, blob_key, job_id, outcome, failure_kind, message, output_key, started_at, finished_at`

func (r *Repository) RecordRun(ctx context.Context, run *docuflow.Run) error {
	query := `
		INSERT INTO processing_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			outcome = EXCLUDED.outcome,
			failure_kind = EXCLUDED.failure_kind,
			message = EXCLUDED.message,
			output_key = EXCLUDED.output_key,
			finished_at = EXCLUDED.finished_at`

	var finishedAt any
	if !run.FinishedAt.IsZero() {
		finishedAt = run.FinishedAt
	}
	_, err := r.db.Exec(ctx, query,
		run.ID, run.BlobKey, run.JobID, string(run.Outcome), string(run.FailureKind),
		run.Message, run.OutputKey, run.StartedAt, finishedAt)
	if err != nil {
		return r.handlePostgresError("record run", err)
	}
	return nil
}

func (r *Repository) GetRun(ctx context.Context, id string) (*docuflow.Run, error) {
	query := `SELECT ` + runColumns + ` FROM processing_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, docuflow.ErrRunNotFound
		}
		return nil, r.handlePostgresError("get run", err)
	}
	return run, nil
}

// ListRuns returns runs newest first. An empty blobKey lists every run; a
// non-positive limit means no limit.
func (r *Repository) ListRuns(ctx context.Context, blobKey string, limit int) ([]*docuflow.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM processing_runs
		WHERE ($1::text = '' OR blob_key = $1)
		ORDER BY started_at DESC, id DESC`
	args := []interface{}{blobKey}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("list runs", err)
	}
	defer rows.Close()

	var runs []*docuflow.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, r.handlePostgresError("list runs", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list runs", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*docuflow.Run, error) {
	var (
		run         docuflow.Run
		outcome     string
		failureKind string
		finishedAt  *time.Time
	)
	if err := row.Scan(&run.ID, &run.BlobKey, &run.JobID, &outcome, &failureKind,
		&run.Message, &run.OutputKey, &run.StartedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.Outcome = docuflow.ProcessingOutcome(outcome)
	run.FailureKind = docuflow.FailureKind(failureKind)
	if finishedAt != nil {
		run.FinishedAt = *finishedAt
	}
	return &run, nil
}
