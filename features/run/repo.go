package run

import (
	"context"
	"database/sql"
	"encoding/json"

	"medichat/internal/document"
)

type Repository interface {
	Create(ctx context.Context, r *Run) error
	Start(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, files, chunks int, skipped []document.FileFailure) error
	Fail(ctx context.Context, id, reason string) error
	Requeue(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]Run, error)
	Count(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context, status Status) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const runColumns = `id, directory, index_name, status, files, chunks, skipped, error, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, run *Run) error {
	if run.Status == "" {
		run.Status = StatusPending
	}
	query := `INSERT INTO ingestion_runs (directory, index_name, status) VALUES ($1, $2, $3) RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, run.Directory, run.IndexName, run.Status).Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt)
}

func (r *PostgresRepo) setStatus(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepo) Start(ctx context.Context, id string) error {
	query := `UPDATE ingestion_runs SET status = 'running', error = '', updated_at = NOW() WHERE id = $1`
	return r.setStatus(ctx, query, id)
}

func (r *PostgresRepo) Complete(ctx context.Context, id string, files, chunks int, skipped []document.FileFailure) error {
	if skipped == nil {
		skipped = []document.FileFailure{}
	}
	payload, err := json.Marshal(skipped)
	if err != nil {
		return err
	}
	query := `UPDATE ingestion_runs SET status = 'succeeded', files = $2, chunks = $3, skipped = $4, error = '', updated_at = NOW() WHERE id = $1`
	return r.setStatus(ctx, query, id, files, chunks, payload)
}

func (r *PostgresRepo) Fail(ctx context.Context, id, reason string) error {
	query := `UPDATE ingestion_runs SET status = 'failed', error = $2, updated_at = NOW() WHERE id = $1`
	return r.setStatus(ctx, query, id, reason)
}

// Requeue moves a failed run back to pending.
func (r *PostgresRepo) Requeue(ctx context.Context, id string) error {
	query := `UPDATE ingestion_runs SET status = 'pending', error = '', updated_at = NOW() WHERE id = $1 AND status = 'failed'`
	return r.setStatus(ctx, query, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var skipped []byte
	if err := s.Scan(&run.ID, &run.Directory, &run.IndexName, &run.Status, &run.Files, &run.Chunks,
		&skipped, &run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Skipped = []document.FileFailure{}
	if len(skipped) > 0 {
		if err := json.Unmarshal(skipped, &run.Skipped); err != nil {
			return nil, err
		}
	}
	return &run, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM ingestion_runs WHERE id = $1`
	return scanRun(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM ingestion_runs ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM ingestion_runs`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

func (r *PostgresRepo) CountByStatus(ctx context.Context, status Status) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM ingestion_runs WHERE status = $1`
	err := r.db.QueryRowContext(ctx, query, status).Scan(&count)
	return count, err
}

// ChunksIndexed sums the chunks of all succeeded runs.
func (r *PostgresRepo) ChunksIndexed(ctx context.Context) (int, error) {
	var total int
	query := `SELECT COALESCE(SUM(chunks), 0) FROM ingestion_runs WHERE status = 'succeeded'`
	err := r.db.QueryRowContext(ctx, query).Scan(&total)
	return total, err
}
