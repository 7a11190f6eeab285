package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/therapy-scheduling/internal/availability"
	httpmiddleware "github.com/wolfman30/therapy-scheduling/internal/http/middleware"
	"github.com/wolfman30/therapy-scheduling/internal/http/respond"
	"github.com/wolfman30/therapy-scheduling/internal/rules"
	"github.com/wolfman30/therapy-scheduling/internal/scheduler"
	"github.com/wolfman30/therapy-scheduling/internal/templates"
	"github.com/wolfman30/therapy-scheduling/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Availability   *availability.Handler
	Rules          *rules.Handler
	Templates      *templates.Handler
	Scheduling     *scheduler.Handler
	MetricsHandler http.Handler

	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready func(ctx context.Context) error

	CORSAllowedOrigins []string
	RateLimiter        *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.Ready))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		if cfg.Availability != nil {
			api.Mount("/therapists", cfg.Availability.Routes())
		}
		if cfg.Rules != nil {
			api.Mount("/rules", cfg.Rules.Routes())
		}
		if cfg.Templates != nil {
			api.Mount("/templates", cfg.Templates.Routes())
		}
		if cfg.Scheduling != nil {
			api.Mount("/scheduling", cfg.Scheduling.Routes())
		}
	})

	return r
}

func healthHandler(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				respond.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
