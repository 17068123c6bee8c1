// Package http assembles the BFF route tree.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/course-platform/internal/platform/auth"
	"github.com/example/course-platform/internal/platform/httpserver"
	"github.com/example/course-platform/internal/platform/metrics"
	"github.com/example/course-platform/internal/platform/ratelimit"
	"github.com/example/course-platform/services/bff/internal/handlers"
)

type Deps struct {
	Verifier  auth.JWTVerifier
	Progress  *handlers.ProgressHandlers
	Limiter   *ratelimit.Limiter
	ReadyFunc func() error
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter mounts the progress routes behind bearer auth. Requests are rate
// limited per user once authenticated.
func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{
		ReadyFunc:   d.ReadyFunc,
		Metrics:     d.Metrics,
		Middlewares: []func(http.Handler) http.Handler{metrics.Middleware},
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("course-platform bff"))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(d.Verifier, httpserver.RequestIDFromContext))
		if d.Limiter != nil {
			r.Use(d.Limiter.Middleware(userKey))
		}
		r.Get("/v1/progress", d.Progress.ListProgress)
		r.Get("/v1/progress/{video_id}", d.Progress.GetProgress)
		r.Post("/v1/progress/{video_id}", d.Progress.CommitProgress)
		r.Post("/v1/progress/{video_id}/beacon", d.Progress.BeaconProgress)
	})
	return r
}

func userKey(r *http.Request) string {
	if uid, ok := auth.UserIDFromContext(r.Context()); ok {
		return "user:" + uid
	}
	return "ip:" + ratelimit.ClientIP(r)
}
