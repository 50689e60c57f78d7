// Package worker consumes upload-completed events and drives jobs to a
// terminal state through the lifecycle manager.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"productocr/internal/domain"
	"productocr/internal/extract"
	"productocr/internal/infra"
	"productocr/internal/lifecycle"
	"productocr/internal/storage"
)

// ObjectReader is the slice of the object store the worker needs.
type ObjectReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// Worker processes one upload event at a time. Run several against the same
// notifier for parallelism; the lifecycle CAS keeps duplicate or racing
// deliveries harmless.
type Worker struct {
	lifecycle *lifecycle.Manager
	jobs      domain.JobRepository
	objects   ObjectReader
	extractor extract.Extractor
	timeout   time.Duration
	logger    infra.Logger
}

// New creates a worker. timeout bounds a single extraction call and is
// independent of any client-side polling deadline.
func New(lc *lifecycle.Manager, jobs domain.JobRepository, objects ObjectReader, extractor extract.Extractor, timeout time.Duration, logger infra.Logger) *Worker {
	if timeout <= 0 {
		timeout = 4 * time.Minute
	}
	return &Worker{
		lifecycle: lc,
		jobs:      jobs,
		objects:   objects,
		extractor: extractor,
		timeout:   timeout,
		logger:    logger,
	}
}

// Run consumes events until ctx is done.
func (w *Worker) Run(ctx context.Context, events <-chan storage.ObjectCreated) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			w.Handle(ctx, ev)
		}
	}
}

// Handle processes a single upload event. The event source is at-least-once;
// every path through here is safe to repeat.
func (w *Worker) Handle(ctx context.Context, ev storage.ObjectCreated) {
	jobID, ok := storage.JobIDFromKey(ev.Key)
	if !ok {
		w.logger.Debug().Str("key", ev.Key).Msg("worker: ignoring object outside job prefix")
		return
	}

	started, err := w.lifecycle.Begin(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn().Str("job_id", jobID).Str("key", ev.Key).Msg("worker: object has no job record")
			return
		}
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("worker: begin failed")
		return
	}
	if !started {
		w.logger.Debug().Str("job_id", jobID).Msg("worker: duplicate delivery suppressed")
		return
	}

	if err := w.process(ctx, jobID, ev.Key); err != nil {
		w.fail(ctx, jobID, err)
	}
}

func (w *Worker) process(ctx context.Context, jobID, key string) error {
	job, err := w.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	data, err := w.objects.Read(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch object: %w", err)
	}

	extractCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	doc, err := w.extractor.Extract(extractCtx, data, job.ContentType)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	if err := w.lifecycle.Complete(ctx, jobID, payload); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			w.logger.Debug().Str("job_id", jobID).Msg("worker: job already terminal, dropping result")
			return nil
		}
		return fmt.Errorf("record result: %w", err)
	}

	w.logger.Info().Str("job_id", jobID).Int("fields", len(doc)).Msg("worker: extraction completed")
	return nil
}

// fail records the failure on the job. Extraction is never retried here;
// redelivery policy belongs to the event source, and a redelivered event for
// an already-failed job dies at Begin.
func (w *Worker) fail(ctx context.Context, jobID string, cause error) {
	w.logger.Warn().Err(cause).Str("job_id", jobID).Msg("worker: processing failed")
	if err := w.lifecycle.Fail(ctx, jobID, cause.Error()); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			w.logger.Debug().Str("job_id", jobID).Msg("worker: job already terminal, dropping failure")
			return
		}
		w.logger.Error().Err(err).Str("job_id", jobID).Msg("worker: failed to record failure")
	}
}
