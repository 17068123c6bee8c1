// Package ratelimit keys a token bucket per client.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/course-platform/internal/platform/api"
	"github.com/example/course-platform/internal/platform/httpserver"
)

// idleTTL is how long an unused bucket is kept.
const idleTTL = 10 * time.Minute

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter hands out one rate.Limiter per key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*entry
	rps     rate.Limit
	burst   int
	now     func() time.Time
	lastGC  time.Time
}

// New returns a limiter allowing rps requests per second per key with the
// given burst. rps <= 0 disables limiting.
func New(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets: make(map[string]*entry),
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow reports whether key may proceed now.
func (l *Limiter) Allow(key string) bool {
	if l.rps <= 0 {
		return true
	}
	l.mu.Lock()
	now := l.now()
	e, ok := l.buckets[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = e
	}
	e.seen = now
	if now.Sub(l.lastGC) > idleTTL {
		for k, v := range l.buckets {
			if now.Sub(v.seen) > idleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastGC = now
	}
	lim := e.lim
	l.mu.Unlock()
	return lim.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// KeyFunc derives the bucket key for a request.
type KeyFunc func(*http.Request) string

// Middleware rejects requests over the limit with 429 and Retry-After.
func (l *Limiter) Middleware(key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	retry := strconv.Itoa(retryAfterSeconds(l.rps))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(key(r)) {
				w.Header().Set("Retry-After", retry)
				api.RateLimited(w, "Too many requests", httpserver.RequestIDFromContext(r.Context()), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(rps rate.Limit) int {
	if rps <= 0 || rps >= 1 {
		return 1
	}
	return int(1/float64(rps) + 0.5)
}

// ClientIP takes the first X-Forwarded-For hop, then X-Real-IP, then the peer address.
func ClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if xRealIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); xRealIP != "" {
		return xRealIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
