package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"productocr/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepositoryPG creates a new job repository backed by PostgreSQL.
func NewJobRepositoryPG(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const pgUniqueViolation = "23505"

const pgSchema = `
CREATE TABLE IF NOT EXISTS jobs (
    id             TEXT PRIMARY KEY,
    status         TEXT NOT NULL,
    source_key     TEXT NOT NULL,
    content_type   TEXT NOT NULL,
    extracted_json BYTEA,
    error_message  TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates the jobs table if it does not exist yet.
func (r *JobRepositoryPG) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, status, source_key, content_type, extracted_json, error_message)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		job.SourceKey,
		job.ContentType,
		nullableBytes(job.ExtractedJSON),
		job.ErrorMessage,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT id, status, source_key, content_type, extracted_json, error_message, created_at, updated_at
FROM jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.SourceKey,
		&job.ContentType,
		&job.ExtractedJSON,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	return &job, nil
}

// UpdateStatus applies a conditional transition. The status predicate in the
// WHERE clause makes the read-modify-write a single compare-and-set; a zero
// row count is disambiguated with a follow-up point lookup.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, upd domain.StatusUpdate) error {
	query := `
UPDATE jobs
SET status = $3,
    error_message = COALESCE($4, error_message),
    extracted_json = COALESCE($5, extracted_json),
    updated_at = NOW()
WHERE id = $1 AND status = $2;
`
	tag, err := r.pool.Exec(ctx, query, jobID, upd.From, upd.To, upd.ErrorMessage, nullableBytes(upd.ExtractedJSON))
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, jobID); err != nil {
			return err
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
