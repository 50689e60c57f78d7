package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"productocr/internal/adapter/repo"
	"productocr/internal/domain"
	"productocr/internal/extract"
	"productocr/internal/http/handlers"
	"productocr/internal/http/httpapi"
	"productocr/internal/infra"
	"productocr/internal/lifecycle"
	"productocr/internal/storage"
	"productocr/internal/worker"
)

type env struct {
	jobs     *repo.JobRepositoryMemory
	store    *storage.FileStore
	notifier *storage.Notifier
	logger   infra.Logger
	server   *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	jobs := repo.NewJobRepositoryMemory()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	notifier := storage.NewNotifier(16)
	logger := infra.NewLogger("test")

	// The upload broker needs the server's URL, which only exists after the
	// server starts; route through a late-bound app pointer.
	var app *handlers.App
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpapi.NewRouter(app).ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	uploads := storage.NewUploadBroker(ts.URL, time.Minute)
	app = handlers.NewApp(jobs, store, uploads, notifier, logger)
	return &env{jobs: jobs, store: store, notifier: notifier, logger: logger, server: ts}
}

// startWorker runs a processing worker against the env's notifier for the
// duration of the test.
func (e *env) startWorker(t *testing.T, ex extract.Extractor) {
	t.Helper()
	lc := lifecycle.NewManager(e.jobs)
	w := worker.New(lc, e.jobs, e.store, ex, time.Minute, e.logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx, e.notifier.Events())
}

func (e *env) postUpload(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.server.URL+"/upload", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	return resp
}

func (e *env) putObject(t *testing.T, uploadURL string, data []byte) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build PUT: %v", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

type uploadResp struct {
	JobID     string `json:"jobId"`
	UploadURL string `json:"uploadUrl"`
}

type fixedExtractor struct {
	doc extract.Document
	err error
}

func (f fixedExtractor) Extract(ctx context.Context, data []byte, contentType string) (extract.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

func awaitStatus(t *testing.T, baseURL, jobID, want string) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		resp, err := http.Get(baseURL + "/status/" + jobID)
		if err != nil {
			t.Fatalf("GET status: %v", err)
		}
		body := decode[map[string]any](t, resp)
		if body["status"] == want {
			return body
		}
		select {
		case <-deadline:
			t.Fatalf("job never reached %s, last = %+v", want, body)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestUploadCreatesPendingJob(t *testing.T) {
	e := newEnv(t)
	resp := e.postUpload(t, `{"fileName":"a.jpg","fileType":"image/jpeg"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	out := decode[uploadResp](t, resp)
	if out.JobID == "" || out.UploadURL == "" {
		t.Fatalf("incomplete response: %+v", out)
	}

	job, err := e.jobs.GetByID(context.Background(), out.JobID)
	if err != nil {
		t.Fatalf("job record missing: %v", err)
	}
	if job.Status != domain.JobStatusPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}
	if !strings.HasPrefix(job.SourceKey, "jobs/"+out.JobID+"/") {
		t.Fatalf("sourceKey = %q", job.SourceKey)
	}
}

func TestUploadValidatesFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing fileName", `{"fileType":"image/jpeg"}`},
		{"missing fileType", `{"fileName":"a.jpg"}`},
		{"blank fileName", `{"fileName":"  ","fileType":"image/jpeg"}`},
		{"not json", `fileName=a.jpg`},
	}
	e := newEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.postUpload(t, tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestPutObjectRejectsBadTokens(t *testing.T) {
	e := newEnv(t)
	if code := e.putObject(t, e.server.URL+"/uploads/bogus", []byte("data")); code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
}

func TestPutObjectIsSingleUse(t *testing.T) {
	e := newEnv(t)
	out := decode[uploadResp](t, e.postUpload(t, `{"fileName":"a.jpg","fileType":"image/jpeg"}`))

	if code := e.putObject(t, out.UploadURL, []byte("image-bytes")); code != http.StatusOK {
		t.Fatalf("first PUT = %d, want 200", code)
	}
	if code := e.putObject(t, out.UploadURL, []byte("image-bytes-again")); code != http.StatusNotFound {
		t.Fatalf("second PUT = %d, want 404", code)
	}
}

func TestPutObjectRejectsEmptyBody(t *testing.T) {
	e := newEnv(t)
	out := decode[uploadResp](t, e.postUpload(t, `{"fileName":"a.jpg","fileType":"image/jpeg"}`))
	if code := e.putObject(t, out.UploadURL, nil); code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.server.URL + "/status/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestResultsNotReadyAndUnknown(t *testing.T) {
	e := newEnv(t)
	out := decode[uploadResp](t, e.postUpload(t, `{"fileName":"a.jpg","fileType":"image/jpeg"}`))

	resp, err := http.Get(e.server.URL + "/results/" + out.JobID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		resp.Body.Close()
		t.Fatalf("status = %d, want 409 for a pending job", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "pending" {
		t.Fatalf("body = %+v", body)
	}

	resp2, err := http.Get(e.server.URL + "/results/unknown")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp2.StatusCode)
	}
}

func TestHappyPathEndToEnd(t *testing.T) {
	e := newEnv(t)
	e.startWorker(t, fixedExtractor{doc: extract.Document{"productName": "Widget"}})

	out := decode[uploadResp](t, e.postUpload(t, `{"fileName":"a.jpg","fileType":"image/jpeg"}`))
	if code := e.putObject(t, out.UploadURL, []byte("jpeg-bytes")); code != http.StatusOK {
		t.Fatalf("PUT status = %d", code)
	}

	awaitStatus(t, e.server.URL, out.JobID, "completed")

	resultsResp, err := http.Get(e.server.URL + "/results/" + out.JobID)
	if err != nil {
		t.Fatalf("GET results: %v", err)
	}
	if resultsResp.StatusCode != http.StatusOK {
		resultsResp.Body.Close()
		t.Fatalf("results status = %d", resultsResp.StatusCode)
	}
	results := decode[map[string]any](t, resultsResp)
	data, ok := results["extractedData"].(map[string]any)
	if !ok || data["productName"] != "Widget" {
		t.Fatalf("results = %+v", results)
	}
}

func TestFailurePathEndToEnd(t *testing.T) {
	e := newEnv(t)
	capErr := fmt.Errorf("%w: unreadable label", domain.ErrCapabilityFailure)
	e.startWorker(t, fixedExtractor{err: capErr})

	out := decode[uploadResp](t, e.postUpload(t, `{"fileName":"b.jpg","fileType":"image/jpeg"}`))
	if code := e.putObject(t, out.UploadURL, []byte("jpeg-bytes")); code != http.StatusOK {
		t.Fatalf("PUT status = %d", code)
	}

	body := awaitStatus(t, e.server.URL, out.JobID, "failed")
	msg, _ := body["errorMessage"].(string)
	if msg == "" {
		t.Fatalf("failed status must carry an errorMessage, body = %+v", body)
	}

	resultsResp, err := http.Get(e.server.URL + "/results/" + out.JobID)
	if err != nil {
		t.Fatalf("GET results: %v", err)
	}
	defer resultsResp.Body.Close()
	if resultsResp.StatusCode != http.StatusConflict {
		t.Fatalf("results status = %d, want 409 for a failed job", resultsResp.StatusCode)
	}
}
