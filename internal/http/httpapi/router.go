package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"productocr/internal/http/handlers"
	"productocr/internal/middleware"
)

// NewRouter wires the HTTP surface onto a chi router.
func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer, middleware.Logger(app.Logger))

	r.Get("/healthz", app.Health)

	r.Post("/upload", app.Upload)
	r.Put("/uploads/{token}", app.PutObject)

	r.Get("/status/{id}", app.Status)
	r.Get("/results/{id}", app.Results)

	return r
}
