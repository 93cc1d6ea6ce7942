package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api/campaigns", func(r chi.Router) {
		r.Post("/{campaignID}/queue", h.QueueCampaign)
		r.Post("/{campaignID}/stop", h.StopCampaign)
		r.Get("/{campaignID}/progress", h.CampaignProgress)
	})

	// ESP bounce webhooks (no auth; verified by shape, see webhooks.go)
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/ses", h.SESWebhook)
		r.Post("/mailgun", h.MailgunWebhook)
	})

	return r
}
