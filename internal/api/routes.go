package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes. health may be nil, in which case
// /health only reports that the process is up.
func SetupRoutes(h *Handlers, health *HealthChecker, origins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", AccountHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if health != nil {
		r.Get("/health", health.HandleHealth)
		r.Get("/health/live", health.HandleLiveness)
		r.Get("/health/ready", health.HandleReadiness)
	} else {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"healthy"}`))
		})
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(requireAccount)

		r.Route("/campaigns/{id}", func(r chi.Router) {
			r.Post("/send", h.SendCampaign)
			r.Post("/retry-failed", h.RetryFailed)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/status", h.JobStatus)
			r.Post("/{jobId}/pause", h.PauseJob)
			r.Post("/{jobId}/resume", h.ResumeJob)
		})

		r.Post("/segments", h.CreateSegment)
		r.Get("/quota", h.QuotaStats)
	})

	return r
}
