// Package lifecycle is the sole authority for job status transitions. Every
// write goes through the repository's conditional update, so two racing
// callers resolve to exactly one effective transition.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"productocr/internal/domain"
)

// Manager owns legal state transitions and result attachment.
type Manager struct {
	jobs domain.JobRepository
}

// NewManager creates a transition manager over the given repository.
func NewManager(jobs domain.JobRepository) *Manager {
	return &Manager{jobs: jobs}
}

// Begin moves a job from pending to processing. Duplicate triggers are
// expected from at-least-once delivery: when the job has already left pending,
// Begin reports started=false with a nil error so callers can drop the
// duplicate without treating it as a failure. ErrNotFound still propagates.
func (m *Manager) Begin(ctx context.Context, jobID string) (started bool, err error) {
	err = m.jobs.UpdateStatus(ctx, jobID, domain.StatusUpdate{
		From: domain.JobStatusPending,
		To:   domain.JobStatusProcessing,
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("begin job %s: %w", jobID, err)
	}
	return true, nil
}

// Complete moves a job from processing to completed and attaches the
// extracted document. A job already in a terminal state yields
// ErrInvalidTransition and the stored outcome is left untouched.
func (m *Manager) Complete(ctx context.Context, jobID string, extractedJSON []byte) error {
	if len(extractedJSON) == 0 {
		return fmt.Errorf("complete job %s: %w: empty result", jobID, domain.ErrInvalidRequest)
	}
	return m.jobs.UpdateStatus(ctx, jobID, domain.StatusUpdate{
		From:          domain.JobStatusProcessing,
		To:            domain.JobStatusCompleted,
		ExtractedJSON: extractedJSON,
	})
}

// Fail moves a job from processing to failed and records the reason.
func (m *Manager) Fail(ctx context.Context, jobID, reason string) error {
	if reason == "" {
		reason = "processing failed"
	}
	return m.jobs.UpdateStatus(ctx, jobID, domain.StatusUpdate{
		From:         domain.JobStatusProcessing,
		To:           domain.JobStatusFailed,
		ErrorMessage: &reason,
	})
}
