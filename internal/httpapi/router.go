package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"compliance/backend/internal/config"
	"compliance/backend/internal/orchestrator"
)

func NewRouter(cfg config.Config, pipeline Pipeline, status *orchestrator.Status, collection CollectionInspector) http.Handler {
	h := NewHandler(cfg, pipeline, status, collection)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/debug", h.Debug)
	r.Post("/query", h.Query)
	r.Post("/chat", h.Chat)

	return r
}
