package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job encapsulates the lifecycle of one image extraction request. Status moves
// along pending -> processing -> {completed | failed} and never backward.
// ExtractedJSON and ErrorMessage are mutually exclusive; each is written at
// most once, during the transition into its terminal state.
type Job struct {
	ID            string
	Status        JobStatus
	SourceKey     string
	ContentType   string
	ExtractedJSON []byte
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
