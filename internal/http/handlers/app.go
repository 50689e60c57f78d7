package handlers

import (
	"encoding/json"
	"net/http"

	"productocr/internal/domain"
	"productocr/internal/infra"
	"productocr/internal/storage"
)

// App bundles the collaborators the HTTP handlers need.
type App struct {
	Jobs     domain.JobRepository
	Objects  *storage.FileStore
	Uploads  *storage.UploadBroker
	Notifier *storage.Notifier
	Logger   infra.Logger
}

// NewApp creates the handler container.
func NewApp(jobs domain.JobRepository, objects *storage.FileStore, uploads *storage.UploadBroker, notifier *storage.Notifier, logger infra.Logger) *App {
	return &App{
		Jobs:     jobs,
		Objects:  objects,
		Uploads:  uploads,
		Notifier: notifier,
		Logger:   logger,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]any{
		"error": map[string]string{"code": slug, "message": message},
	})
}
