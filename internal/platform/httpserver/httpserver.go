package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type Server struct {
	HTTP *http.Server
}

type Options struct {
	Addr        string
	ServiceName string
	Logger      *zap.Logger
	Router      chi.Router
}

// New wraps the router in an otelhttp handler named after the service.
func New(opts Options) *Server {
	if opts.Router == nil {
		opts.Router = chi.NewRouter()
	}
	name := opts.ServiceName
	if name == "" {
		name = "http"
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           otelhttp.NewHandler(opts.Router, name),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return &Server{HTTP: srv}
}

func (s *Server) Start(log *zap.Logger) error {
	log.Info("http server starting", zap.String("addr", s.HTTP.Addr))
	return s.HTTP.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.HTTP.Shutdown(ctx)
}
