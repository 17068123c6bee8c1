package httpserver

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries optional hooks for SetupRouter.
type RouterConfig struct {
	// ReadyFunc backs /readyz. A non-nil error answers 503.
	ReadyFunc func() error
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	// Middlewares run after request id and panic recovery, before CORS.
	Middlewares []func(http.Handler) http.Handler
}

// SetupRouter attaches base middlewares and common endpoints.
// IMPORTANT: must be called before registering any routes.
func SetupRouter(r chi.Router, cfg ...RouterConfig) {
	var c RouterConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}

	// Correlation / request id
	r.Use(RequestIDMiddleware("X-Request-Id"))
	r.Use(middleware.Recoverer)
	for _, mw := range c.Middlewares {
		r.Use(mw)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   parseCORSOrigins(os.Getenv("CORS_ALLOWED_ORIGINS")),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Event-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if c.ReadyFunc != nil {
			if err := c.ReadyFunc(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("not ready: " + err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if c.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", c.Metrics)
	}
}

// parseCORSOrigins splits a comma separated origin list. Empty means "*".
func parseCORSOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
