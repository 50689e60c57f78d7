package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock hands the test explicit control over every scheduled delay.
type fakeClock struct {
	mu      sync.Mutex
	waiters []chan time.Time
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()
	return ch
}

// tick releases the next pending delay, waiting for a loop to arrive at one.
func (c *fakeClock) tick(t *testing.T) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		if len(c.waiters) > 0 {
			ch := c.waiters[0]
			c.waiters = c.waiters[1:]
			c.mu.Unlock()
			ch <- time.Now()
			return
		}
		c.mu.Unlock()
		select {
		case <-deadline:
			t.Fatalf("no pending delay to release")
		case <-time.After(time.Millisecond):
		}
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("condition never reached")
		case <-time.After(time.Millisecond):
		}
	}
}

// scriptedAPI serves a fixed sequence of status observations per job.
type scriptedAPI struct {
	mu           sync.Mutex
	statuses     []Status
	statusErrs   []error
	results      map[string]any
	resultsErr   error
	statusCalls  map[string]int
	resultsCalls int
}

func (a *scriptedAPI) JobStatus(ctx context.Context, jobID string) (Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.statusCalls == nil {
		a.statusCalls = make(map[string]int)
	}
	i := a.statusCalls[jobID]
	a.statusCalls[jobID]++
	if i < len(a.statusErrs) && a.statusErrs[i] != nil {
		return Status{}, a.statusErrs[i]
	}
	if i < len(a.statuses) {
		return a.statuses[i], nil
	}
	if len(a.statuses) > 0 {
		return a.statuses[len(a.statuses)-1], nil
	}
	return Status{Status: "pending"}, nil
}

func (a *scriptedAPI) JobResults(ctx context.Context, jobID string) (map[string]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resultsCalls++
	if a.resultsErr != nil {
		return nil, a.resultsErr
	}
	return a.results, nil
}

func (a *scriptedAPI) statusCallCount(jobID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusCalls[jobID]
}

func (a *scriptedAPI) resultsCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resultsCalls
}

func runSession(t *testing.T, api *scriptedAPI, maxAttempts, ticks int) Outcome {
	t.Helper()
	clock := &fakeClock{}
	runner := NewRunner(api, Config{Interval: 2 * time.Second, MaxAttempts: maxAttempts, Clock: clock})
	s := runner.Start(context.Background(), "J1", nil)
	for i := 0; i < ticks; i++ {
		clock.tick(t)
	}
	out, err := s.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return out
}

func TestPollerSucceedsOnCompleted(t *testing.T) {
	api := &scriptedAPI{
		statuses: []Status{{Status: "pending"}, {Status: "processing"}, {Status: "completed"}},
		results:  map[string]any{"productName": "Widget"},
	}
	out := runSession(t, api, 30, 3)

	if out.State != StateSucceeded {
		t.Fatalf("state = %s, want succeeded", out.State)
	}
	if out.Data["productName"] != "Widget" {
		t.Fatalf("data = %+v", out.Data)
	}
	if out.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", out.Attempts)
	}
	if got := api.resultsCallCount(); got != 1 {
		t.Fatalf("results calls = %d, want 1", got)
	}
}

func TestPollerSurfacesServerFailure(t *testing.T) {
	api := &scriptedAPI{
		statuses: []Status{{Status: "processing"}, {Status: "failed", ErrorMessage: "blurry image"}},
	}
	out := runSession(t, api, 30, 2)

	if out.State != StateFailed {
		t.Fatalf("state = %s, want failed", out.State)
	}
	if out.ErrorMessage != "blurry image" {
		t.Fatalf("errorMessage = %q", out.ErrorMessage)
	}
	if got := api.resultsCallCount(); got != 0 {
		t.Fatalf("results must never be fetched for a failed job")
	}
}

func TestPollerTimesOutAfterAttemptCap(t *testing.T) {
	api := &scriptedAPI{statuses: []Status{{Status: "pending"}}}
	out := runSession(t, api, 3, 3)

	if out.State != StateTimedOut {
		t.Fatalf("state = %s, want timed-out", out.State)
	}
	if out.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", out.Attempts)
	}
	if got := api.statusCallCount("J1"); got != 3 {
		t.Fatalf("status calls = %d, want 3", got)
	}
	if got := api.resultsCallCount(); got != 0 {
		t.Fatalf("results must never be fetched on timeout")
	}
}

func TestTransientErrorsShareTheAttemptBudget(t *testing.T) {
	api := &scriptedAPI{
		statusErrs: []error{fmt.Errorf("connection refused"), fmt.Errorf("connection refused")},
		statuses:   []Status{{}, {}, {Status: "completed"}},
		results:    map[string]any{"productName": "Widget"},
	}
	out := runSession(t, api, 30, 3)

	if out.State != StateSucceeded {
		t.Fatalf("state = %s, want succeeded after transient errors", out.State)
	}
	if out.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (errors consume attempts)", out.Attempts)
	}
}

func TestTransientErrorsAloneExhaustTheBudget(t *testing.T) {
	api := &scriptedAPI{
		statusErrs: []error{errors.New("boom"), errors.New("boom")},
	}
	out := runSession(t, api, 2, 2)

	if out.State != StateTimedOut {
		t.Fatalf("state = %s, want timed-out", out.State)
	}
}

func TestResultsFetchFailureRetriesNextCheck(t *testing.T) {
	api := &scriptedAPI{
		statuses:   []Status{{Status: "completed"}},
		resultsErr: errors.New("bad gateway"),
	}
	clock := &fakeClock{}
	runner := NewRunner(api, Config{MaxAttempts: 30, Clock: clock})
	s := runner.Start(context.Background(), "J1", nil)

	clock.tick(t)
	waitUntil(t, func() bool { return api.resultsCallCount() == 1 })

	api.mu.Lock()
	api.resultsErr = nil
	api.results = map[string]any{"productName": "Widget"}
	api.mu.Unlock()
	clock.tick(t)

	out, err := s.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.State != StateSucceeded {
		t.Fatalf("state = %s, want succeeded", out.State)
	}
	if out.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", out.Attempts)
	}
}

func TestStartingNewSessionCancelsPrevious(t *testing.T) {
	api := &scriptedAPI{statuses: []Status{{Status: "pending"}}}
	clock := &fakeClock{}
	runner := NewRunner(api, Config{MaxAttempts: 30, Clock: clock})

	first := runner.Start(context.Background(), "J1", nil)
	clock.tick(t)
	waitUntil(t, func() bool { return api.statusCallCount("J1") == 1 })

	second := runner.Start(context.Background(), "J2", nil)
	if state := first.State(); state == StateWaiting || state == StateIdle {
		t.Fatalf("superseded session still live, state = %s", state)
	}
	firstCalls := api.statusCallCount("J1")

	// The cancelled loop may have left one abandoned delay behind; keep
	// ticking until the live session polls.
	waitUntil(t, func() bool {
		clock.tick(t)
		return api.statusCallCount("J2") >= 1
	})
	if got := api.statusCallCount("J1"); got != firstCalls {
		t.Fatalf("cancelled session kept polling: %d -> %d", firstCalls, got)
	}
	second.Cancel()
}

func TestUploadRunsBeforePolling(t *testing.T) {
	api := &scriptedAPI{statuses: []Status{{Status: "completed"}}, results: map[string]any{"productName": "Widget"}}
	clock := &fakeClock{}
	runner := NewRunner(api, Config{MaxAttempts: 30, Clock: clock})

	uploaded := make(chan struct{})
	s := runner.Start(context.Background(), "J1", func(ctx context.Context) error {
		close(uploaded)
		return nil
	})
	clock.tick(t)
	out, err := s.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	select {
	case <-uploaded:
	default:
		t.Fatalf("upload step never ran")
	}
	if out.State != StateSucceeded {
		t.Fatalf("state = %s, want succeeded", out.State)
	}
}

func TestUploadFailureSkipsPolling(t *testing.T) {
	api := &scriptedAPI{}
	runner := NewRunner(api, Config{MaxAttempts: 30, Clock: &fakeClock{}})

	s := runner.Start(context.Background(), "J1", func(ctx context.Context) error {
		return errors.New("disk ate the file")
	})
	out, err := s.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if out.State != StateFailed {
		t.Fatalf("state = %s, want failed", out.State)
	}
	if got := api.statusCallCount("J1"); got != 0 {
		t.Fatalf("no status check may run after a failed upload, got %d", got)
	}
}
