package repo

import (
	"context"
	"sync"
	"time"

	"productocr/internal/domain"
)

// JobRepositoryMemory is an in-process domain.JobRepository. It backs the
// "memory" store driver and the test suites; the mutex gives each update the
// same per-job atomicity the SQL stores get from their conditional UPDATE.
type JobRepositoryMemory struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

// NewJobRepositoryMemory creates an empty in-memory job repository.
func NewJobRepositoryMemory() *JobRepositoryMemory {
	return &JobRepositoryMemory{jobs: make(map[string]*domain.Job)}
}

// Create inserts a new job record.
func (r *JobRepositoryMemory) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return domain.ErrConflict
	}
	stored := *job
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.jobs[job.ID] = &stored
	return nil
}

// GetByID fetches a copy of the job record.
func (r *JobRepositoryMemory) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// UpdateStatus applies a conditional transition keyed on the current status.
func (r *JobRepositoryMemory) UpdateStatus(ctx context.Context, jobID string, upd domain.StatusUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != upd.From {
		return domain.ErrInvalidTransition
	}
	job.Status = upd.To
	if upd.ErrorMessage != nil {
		job.ErrorMessage = *upd.ErrorMessage
	}
	if len(upd.ExtractedJSON) > 0 {
		job.ExtractedJSON = append([]byte(nil), upd.ExtractedJSON...)
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}
