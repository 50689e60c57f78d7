// Package poller implements the client side of the job protocol: wait for the
// upload to land, then query status on a fixed interval until the job reaches
// a terminal state or the attempt budget runs out.
package poller

import (
	"context"
	"sync"
	"time"
)

// State enumerates the session's client-side lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateUploading State = "uploading"
	StateWaiting   State = "waiting"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed-out"
)

// Status is one observation of a job's server-side state.
type Status struct {
	Status       string
	ErrorMessage string
}

// API is the read surface the poller drives.
type API interface {
	JobStatus(ctx context.Context, jobID string) (Status, error)
	JobResults(ctx context.Context, jobID string) (map[string]any, error)
}

// Clock schedules the delay between checks. Tests inject a virtual clock so
// the protocol runs without wall-clock waits.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Reference protocol constants: one check every 2 seconds, 30 checks total.
const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 30
)

// Config tunes one polling session. Zero values take the defaults above.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	Clock       Clock
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	return c
}

// Outcome is the terminal result of a session.
type Outcome struct {
	State        State
	Data         map[string]any
	ErrorMessage string
	Attempts     int
}

// Session is one cancellable poll loop for one job. Create it through a
// Runner; a session never restarts.
type Session struct {
	jobID  string
	api    API
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	outcome Outcome
}

// JobID returns the job this session tracks.
func (s *Session) JobID() string { return s.jobID }

// State returns the session's current client-side state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Cancel stops the session. No further check fires after Cancel returns.
func (s *Session) Cancel() {
	s.cancel()
	<-s.done
}

// Wait blocks until the session reaches a terminal state or ctx is done.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (s *Session) finish(out Outcome) {
	s.mu.Lock()
	s.state = out.State
	s.outcome = out
	s.mu.Unlock()
}

// run drives the waiting loop. Each iteration is one discrete check: sleep one
// interval, then query. Transport failures consume an attempt like any other
// non-terminal observation; the budget is shared.
func (s *Session) run(ctx context.Context, upload func(context.Context) error) {
	defer close(s.done)

	if upload != nil {
		s.setState(StateUploading)
		if err := upload(ctx); err != nil {
			s.finish(Outcome{State: StateFailed, ErrorMessage: err.Error()})
			return
		}
	}
	s.setState(StateWaiting)

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			s.finish(Outcome{State: StateTimedOut, ErrorMessage: "polling cancelled", Attempts: attempt - 1})
			return
		case <-s.cfg.Clock.After(s.cfg.Interval):
		}

		st, err := s.api.JobStatus(ctx, s.jobID)
		if err != nil {
			if ctx.Err() != nil {
				s.finish(Outcome{State: StateTimedOut, ErrorMessage: "polling cancelled", Attempts: attempt})
				return
			}
			continue
		}

		switch st.Status {
		case "completed":
			data, err := s.api.JobResults(ctx, s.jobID)
			if err != nil {
				// The result fetch shares the budget; completed will be
				// observed again on the next check.
				continue
			}
			s.finish(Outcome{State: StateSucceeded, Data: data, Attempts: attempt})
			return
		case "failed":
			msg := st.ErrorMessage
			if msg == "" {
				msg = "processing failed"
			}
			s.finish(Outcome{State: StateFailed, ErrorMessage: msg, Attempts: attempt})
			return
		}
	}

	s.finish(Outcome{State: StateTimedOut, ErrorMessage: "processing timeout", Attempts: s.cfg.MaxAttempts})
}

// Runner owns at most one live session. Starting a new session cancels the
// previous one first, so a stale loop can never fire a check after its
// successor begins.
type Runner struct {
	api API
	cfg Config

	mu      sync.Mutex
	current *Session
}

// NewRunner creates a runner over the given API.
func NewRunner(api API, cfg Config) *Runner {
	return &Runner{api: api, cfg: cfg.withDefaults()}
}

// Start begins a session for jobID. When upload is non-nil it runs first and
// the session only enters waiting once the upload completes; an upload error
// terminates the session as failed without a single status check.
func (r *Runner) Start(ctx context.Context, jobID string, upload func(context.Context) error) *Session {
	r.mu.Lock()
	prev := r.current
	r.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		jobID:  jobID,
		api:    r.api,
		cfg:    r.cfg,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateIdle,
	}

	r.mu.Lock()
	r.current = s
	r.mu.Unlock()

	go s.run(ctx, upload)
	return s
}
