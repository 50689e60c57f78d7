package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("job id already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotReady          = errors.New("results not ready")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrCapabilityFailure = errors.New("extraction failed")
)
