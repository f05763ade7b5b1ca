// Package httptransport composes the HTTP surface: global middleware, public
// routes, authenticated routes and the admin group.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bluecarbon/internal/platform/metrics"
	"bluecarbon/internal/platform/middleware"
	ratelimit "bluecarbon/internal/ratelimit/middleware"
	ratelimitmodels "bluecarbon/internal/ratelimit/models"
	"bluecarbon/pkg/platform/httputil"
	"bluecarbon/pkg/platform/middleware/admin"
	"bluecarbon/pkg/platform/middleware/auth"
	"bluecarbon/pkg/platform/middleware/metadata"
	"bluecarbon/pkg/platform/middleware/request"
	"bluecarbon/pkg/platform/middleware/requesttime"
)

// PublicRegistrar mounts routes that need no session.
type PublicRegistrar interface {
	RegisterPublic(r chi.Router)
}

// AuthRegistrar mounts routes open to any authenticated account.
type AuthRegistrar interface {
	Register(r chi.Router)
}

// AdminRegistrar mounts routes restricted to administrators.
type AdminRegistrar interface {
	RegisterAdmin(r chi.Router)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Config struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Validator      auth.JWTValidator
	RequestTimeout time.Duration
	AllowedOrigins []string
	HealthChecks   []HealthCheck
	// RateLimiter throttles the public routes per client IP. Nil disables it.
	RateLimiter *ratelimit.Middleware
}

// NewRouter builds the chi router. Each handler is mounted through whichever
// registrar interfaces it implements.
func NewRouter(cfg Config, handlers ...any) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger, cfg.Metrics))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins(cfg.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", request.HeaderRequestID},
		ExposedHeaders: []string{request.HeaderRequestID},
		MaxAge:         300,
	}))
	if cfg.Metrics != nil {
		r.Use(middleware.Latency(cfg.Metrics))
	}

	r.Get("/healthz", healthHandler(cfg.HealthChecks))
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(middleware.ContentTypeJSON)

		r.Group(func(r chi.Router) {
			if cfg.RateLimiter != nil {
				r.Use(cfg.RateLimiter.RateLimit(ratelimitmodels.ClassAuth))
			}
			for _, h := range handlers {
				if p, ok := h.(PublicRegistrar); ok {
					p.RegisterPublic(r)
				}
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(cfg.Validator, cfg.Logger))
			for _, h := range handlers {
				if a, ok := h.(AuthRegistrar); ok {
					a.Register(r)
				}
			}

			r.Group(func(r chi.Router) {
				r.Use(admin.RequireAdmin(cfg.Logger))
				for _, h := range handlers {
					if a, ok := h.(AdminRegistrar); ok {
						a.RegisterAdmin(r)
					}
				}
			})
		})
	})
	return r
}

func origins(configured []string) []string {
	if len(configured) == 0 {
		return []string{"*"}
	}
	return configured
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				resp.Checks[c.Name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[c.Name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
