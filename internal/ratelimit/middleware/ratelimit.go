package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"bluecarbon/internal/ratelimit/models"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/platform/circuit"
	"bluecarbon/pkg/platform/httputil"
	"bluecarbon/pkg/requestcontext"
)

// Store is one sliding-window backend.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

// Limit is the request budget for one endpoint class.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Middleware enforces per-IP budgets. With a fallback configured, repeated
// primary errors trip the breaker and checks run against the fallback until
// the primary recovers; without one, errors fail open.
type Middleware struct {
	primary  Store
	fallback Store
	breaker  *circuit.Breaker
	limits   map[models.EndpointClass]Limit
	logger   *slog.Logger
}

type Option func(*Middleware)

func WithFallback(store Store, breaker *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.fallback = store
		m.breaker = breaker
	}
}

func WithLimit(class models.EndpointClass, limit Limit) Option {
	return func(m *Middleware) {
		m.limits[class] = limit
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		m.logger = logger
	}
}

func New(primary Store, opts ...Option) *Middleware {
	m := &Middleware{
		primary: primary,
		limits: map[models.EndpointClass]Limit{
			models.ClassAuth: {Requests: 20, Window: time.Minute},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RateLimit limits requests per client IP within class.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	limit := m.limits[class]
	return func(next http.Handler) http.Handler {
		if limit.Requests <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := models.IPKey(class, requestcontext.ClientIP(ctx))

			result, degraded, err := m.check(ctx, key, limit)
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed; allowing request",
					"class", class,
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			setHeaders(w, result)
			if degraded {
				w.Header().Set("X-RateLimit-Status", "degraded")
			}
			if !result.Allowed {
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"class", class,
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfterSeconds()))
				httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests; please try again later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) check(ctx context.Context, key string, limit Limit) (*models.Result, bool, error) {
	if m.fallback == nil {
		res, err := m.primary.Allow(ctx, key, limit.Requests, limit.Window)
		return res, false, err
	}

	if m.breaker.Allow() {
		res, err := m.primary.Allow(ctx, key, limit.Requests, limit.Window)
		if err == nil {
			if _, change := m.breaker.RecordSuccess(); change.Closed {
				m.logger.InfoContext(ctx, "rate limit store recovered", "breaker", m.breaker.Name())
			}
			return res, false, nil
		}
		if _, change := m.breaker.RecordFailure(); change.Opened {
			m.logger.WarnContext(ctx, "rate limit store failing; using in-process fallback",
				"breaker", m.breaker.Name(),
				"error", err,
			)
		}
	}
	res, err := m.fallback.Allow(ctx, key, limit.Requests, limit.Window)
	return res, true, err
}

func setHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
