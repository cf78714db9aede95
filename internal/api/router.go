package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(webhook *WebhookHandler, devices *DeviceHandler, authHandler *AuthHandler, sessionState func() string) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// Upstream delivery endpoint
	r.Post("/webhook/{webhookID}", webhook.Receive)

	// Read-side for the sensor/entity layer
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(sessionState))

		if authHandler != nil {
			r.Post("/auth/code", authHandler.Exchange)
		}

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", devices.List)
			r.Get("/{id}", devices.Get)
			r.Get("/{id}/status", devices.Status)
		})
	})

	return r
}
