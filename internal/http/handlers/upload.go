package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"productocr/internal/domain"
	"productocr/internal/storage"
)

type uploadRequest struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

type uploadResponse struct {
	JobID     string `json:"jobId"`
	UploadURL string `json:"uploadUrl"`
}

// Upload accepts a new extraction request, creates the pending job record and
// hands the client a direct-upload URL. The object itself is written by the
// client through PutObject, never by this endpoint.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.FileName = strings.TrimSpace(req.FileName)
	req.FileType = strings.TrimSpace(req.FileType)
	if req.FileName == "" || req.FileType == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "fileName and fileType are required")
		return
	}

	jobID := uuid.NewString()
	key := storage.MakeObjectKey(jobID, req.FileName)
	handle, uploadURL := a.Uploads.Issue(key, req.FileType)

	job := &domain.Job{
		ID:          jobID,
		Status:      domain.JobStatusPending,
		SourceKey:   key,
		ContentType: req.FileType,
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		// A uuid collision would mean something is badly wrong; never retried.
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("upload: failed to create job record")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}

	a.Logger.Info().
		Str("job_id", jobID).
		Str("key", key).
		Time("upload_expires", handle.ExpiresAt).
		Msg("upload: job created")
	a.json(w, http.StatusCreated, uploadResponse{JobID: jobID, UploadURL: uploadURL})
}

// PutObject receives the client's direct upload. It is the local stand-in for
// the object store's signed-URL write: the token authorizes exactly one PUT of
// one key within the TTL. A successful write publishes the upload-completed
// event that triggers processing.
func (a *App) PutObject(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	handle, err := a.Uploads.Redeem(token)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown or expired upload url")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read body")
		return
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "empty upload")
		return
	}

	key, err := a.Objects.Write(r.Context(), handle.Key, data)
	if err != nil {
		a.Logger.Error().Err(err).Str("key", handle.Key).Msg("upload: object write failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store object")
		return
	}

	if err := a.Notifier.Publish(r.Context(), storage.ObjectCreated{Key: key}); err != nil {
		a.Logger.Error().Err(err).Str("key", key).Msg("upload: failed to publish object event")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue processing")
		return
	}

	a.json(w, http.StatusOK, map[string]string{"key": key})
}
