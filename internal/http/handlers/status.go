package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"productocr/internal/domain"
)

type statusResponse struct {
	Status       domain.JobStatus `json:"status"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
}

// Status reports a job's lifecycle state. Pure read.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("status: lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, statusResponse{Status: job.Status, ErrorMessage: job.ErrorMessage})
}

// Results returns the extracted document of a completed job. A known but
// unfinished job answers 409 with its current status so clients can keep
// polling; only completed jobs ever expose data.
func (a *App) Results(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("results: lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if job.Status != domain.JobStatusCompleted {
		a.json(w, http.StatusConflict, statusResponse{Status: job.Status, ErrorMessage: job.ErrorMessage})
		return
	}
	a.json(w, http.StatusOK, map[string]any{"extractedData": json.RawMessage(job.ExtractedJSON)})
}
