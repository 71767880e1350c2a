package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/socio/backend/internal/metrics"
	"github.com/socio/backend/internal/ratelimit"
)

// UserHeader optionally carries the caller's user id. It only selects the
// rate limit bucket; it is not an authentication mechanism.
const UserHeader = "X-User-ID"

// MiddlewareConfig holds CORS and the coarse per-IP limit applied to the
// whole API. Per-action limits are Redis rules on individual routes.
type MiddlewareConfig struct {
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int // seconds

	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
}

// DefaultMiddlewareConfig allows the local frontend dev server.
func DefaultMiddlewareConfig() *MiddlewareConfig {
	return &MiddlewareConfig{
		CORSAllowedOrigins: []string{"http://localhost:5173"},
		CORSAllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization", UserHeader},
		CORSMaxAge:         86400,

		RateLimitRequests: 300,
		RateLimitWindow:   time.Minute,
	}
}

// Middleware builds the chi middleware stack shared by every route.
type Middleware struct {
	config  *MiddlewareConfig
	cors    func(http.Handler) http.Handler
	limiter *ratelimit.Limiter
}

// NewMiddleware builds the factories. limiter may be nil, which disables
// the per-action Redis rules.
func NewMiddleware(config *MiddlewareConfig, limiter *ratelimit.Limiter) *Middleware {
	if config == nil {
		config = DefaultMiddlewareConfig()
	}
	return &Middleware{
		config: config,
		cors: cors.Handler(cors.Options{
			AllowedOrigins: config.CORSAllowedOrigins,
			AllowedMethods: config.CORSAllowedMethods,
			AllowedHeaders: config.CORSAllowedHeaders,
			MaxAge:         config.CORSMaxAge,
		}),
		limiter: limiter,
	}
}

func (m *Middleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimit is the in-process per-IP limit over the whole API.
func (m *Middleware) RateLimit() func(http.Handler) http.Handler {
	if m.config.RateLimitDisabled || m.config.RateLimitRequests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		m.config.RateLimitRequests,
		m.config.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

// Limit applies a Redis rule keyed by key. It fails open with the limiter.
func (m *Middleware) Limit(rule ratelimit.Rule, key ratelimit.KeyFunc) func(http.Handler) http.Handler {
	return ratelimit.Middleware(m.limiter, rule, key, tooManyRequests)
}

// byUserOrIP keys by UserHeader when present, by client IP otherwise.
func byUserOrIP(r *http.Request) string {
	if id := r.Header.Get(UserHeader); id != "" {
		return "u:" + id
	}
	return "ip:" + ratelimit.ByIP(r)
}

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	respondError(w, http.StatusTooManyRequests, "Too many requests")
}

// Metrics records request latency labeled with the matched route pattern,
// so path parameters do not explode label cardinality.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status/100)+"xx").
			Observe(time.Since(start).Seconds())
	})
}
