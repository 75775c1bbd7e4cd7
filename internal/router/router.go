// Package router wires the HTTP routes and middleware.
package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peteski22/creatorsync/internal/handler"
	"github.com/peteski22/creatorsync/internal/middleware"
	"github.com/peteski22/creatorsync/pkg/apierror"
	"github.com/peteski22/creatorsync/pkg/response"
)

// Config holds the configuration for creating a router.
type Config struct {
	// AllowedOrigins are the CORS origins. Defaults to all.
	AllowedOrigins []string

	// HealthHandler serves the health and readiness probes.
	HealthHandler *handler.HealthHandler

	// Logger is used by the request logging and recovery middleware.
	Logger *slog.Logger

	// SyncHandler serves the sync endpoints.
	SyncHandler *handler.SyncHandler

	// SyncRateLimit is the number of sync starts allowed per IP per minute. Zero disables the limit.
	SyncRateLimit int
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	if cfg.HealthHandler != nil {
		r.Get("/health", cfg.HealthHandler.Health)
		r.Get("/ready", cfg.HealthHandler.Ready)
	}
	r.Handle("/metrics", promhttp.Handler())

	if cfg.SyncHandler != nil {
		r.Route("/creators/{creatorId}", func(r chi.Router) {
			r.Get("/sync-status", cfg.SyncHandler.SyncStatus)

			r.Group(func(r chi.Router) {
				if cfg.SyncRateLimit > 0 {
					r.Use(httprate.Limit(
						cfg.SyncRateLimit,
						time.Minute,
						httprate.WithKeyFuncs(httprate.KeyByRealIP),
						httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
							response.Error(w, apierror.TooManyRequests(""))
						}),
					))
				}
				r.Post("/sync", cfg.SyncHandler.StartSync)
			})
		})
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, apierror.NotFound(""))
	})

	return r
}
