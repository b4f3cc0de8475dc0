// Package api wires the HTTP surface: router, middleware, and handlers.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/kmfinlay/tripwatch/internal/api/handler"
	"github.com/kmfinlay/tripwatch/internal/config"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(pool *pgxpool.Pool, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "Cache-Control"},
		ExposedHeaders:   []string{"X-Process-Time"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(pool, cfg)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
	})

	// Swagger UI
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/trips/{tripID}", func(r chi.Router) {
			r.Get("/", h.GetTrip)
			r.Get("/schedule", h.GetSchedulePreview)
			r.Put("/times", h.UpdateTimes)
			r.Put("/location", h.UpdateLocation)
			r.Post("/checkins", h.CreateCheckIn)
			r.Post("/checkout", h.CheckOut)
			r.Post("/cancel", h.Cancel)
			r.Post("/votes", h.CastEndVote)
		})
	})

	return r
}
