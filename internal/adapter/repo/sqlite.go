package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"productocr/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	source_key     TEXT NOT NULL,
	content_type   TEXT NOT NULL,
	extracted_json BLOB,
	error_message  TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);
`

// JobRepositorySQLite implements domain.JobRepository on a local SQLite
// database. Pass ":memory:" as the DSN for an in-memory database (used by
// tests and throwaway environments).
type JobRepositorySQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and bootstraps the schema.
func OpenSQLite(dsn string) (*JobRepositorySQLite, error) {
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("ensure data directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &JobRepositorySQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (r *JobRepositorySQLite) Close() error {
	return r.db.Close()
}

// Create inserts a new job record.
func (r *JobRepositorySQLite) Create(ctx context.Context, job *domain.Job) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx, `
INSERT INTO jobs (id, status, source_key, content_type, extracted_json, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Status, job.SourceKey, job.ContentType, nullableBytes(job.ExtractedJSON), job.ErrorMessage, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositorySQLite) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, status, source_key, content_type, extracted_json, error_message, created_at, updated_at
FROM jobs WHERE id = ?`, jobID)

	var job domain.Job
	var createdAt, updatedAt string
	err := row.Scan(&job.ID, &job.Status, &job.SourceKey, &job.ContentType, &job.ExtractedJSON, &job.ErrorMessage, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &job, nil
}

// UpdateStatus applies a conditional transition keyed on the current status.
func (r *JobRepositorySQLite) UpdateStatus(ctx context.Context, jobID string, upd domain.StatusUpdate) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET status = ?,
    error_message = COALESCE(?, error_message),
    extracted_json = COALESCE(?, extracted_json),
    updated_at = ?
WHERE id = ? AND status = ?`,
		upd.To, upd.ErrorMessage, nullableBytes(upd.ExtractedJSON), now, jobID, upd.From,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, jobID); err != nil {
			return err
		}
		return domain.ErrInvalidTransition
	}
	return nil
}
