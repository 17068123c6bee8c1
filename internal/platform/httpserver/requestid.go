package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// maxRequestIDLen bounds client-supplied ids echoed back in headers and logs.
const maxRequestIDLen = 128

type ctxKeyRequestID struct{}

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return v
}

// WithRequestID stores rid in ctx. Outbound clients forward it.
func WithRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, rid)
}

func RequestIDMiddleware(headerName string) func(next http.Handler) http.Handler {
	if strings.TrimSpace(headerName) == "" {
		headerName = "X-Request-Id"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := strings.TrimSpace(r.Header.Get(headerName))
			if rid == "" || len(rid) > maxRequestIDLen {
				rid = uuid.NewString()
			}
			w.Header().Set(headerName, rid)
			next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), rid)))
		})
	}
}
