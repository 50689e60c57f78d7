package domain

import "context"

// StatusUpdate carries one conditional transition for a job record. The store
// applies it only when the job's current status equals From; the whole update
// is a single atomic operation per job.
type StatusUpdate struct {
	From          JobStatus
	To            JobStatus
	ErrorMessage  *string
	ExtractedJSON []byte
}

// JobRepository defines persistence for job records.
//
// Create returns ErrConflict when the id already exists. GetByID returns
// ErrNotFound for unknown ids. UpdateStatus applies the conditional update and
// returns ErrNotFound when the job is absent or ErrInvalidTransition when the
// current status does not match upd.From; concurrent writers therefore race
// safely, with exactly one winner per precondition.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	UpdateStatus(ctx context.Context, jobID string, upd StatusUpdate) error
}
