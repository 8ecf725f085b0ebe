package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/airlock-labs/airlock/pkg/observability"
)

// rateLimitConfig holds the rate limiter settings.
type rateLimitConfig struct {
	rps   rate.Limit
	burst int
}

// GlobalRateLimiter manages per-IP rate limiters.
type GlobalRateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	config   rateLimitConfig
}

// visitor tracks the rate limiter and last seen time for an IP.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewGlobalRateLimiter creates a per-IP limiter allowing rps requests per
// second with the given burst.
func NewGlobalRateLimiter(rps int, burst int) *GlobalRateLimiter {
	rl := &GlobalRateLimiter{
		visitors: make(map[string]*visitor),
		config: rateLimitConfig{
			rps:   rate.Limit(rps),
			burst: burst,
		},
	}
	go rl.cleanupVisitors()
	return rl
}

func (rl *GlobalRateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.config.rps, rl.config.burst)
		rl.visitors[ip] = &visitor{limiter, time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors removes stale visitor entries every minute so the map
// cannot grow without bound.
func (rl *GlobalRateLimiter) cleanupVisitors() {
	for {
		time.Sleep(1 * time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware returns a Handler that enforces the per-IP limit.
func (rl *GlobalRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			// No port or odd format. Strip IPv6 brackets and use as-is.
			ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
		}

		limiter := rl.getVisitor(ip)
		if !limiter.Allow() {
			WriteTooManyRequests(w, 5)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequestID assigns each request an X-Request-ID response header unless the
// caller supplied one. Problem responses pick it up as trace_id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Instrument wraps the handler with a span, RED metrics, an SLO observation,
// and one slog line per request. Route labels come from routeLabel so
// parameterized paths do not explode metric cardinality.
func Instrument(provider *observability.Provider, slos *observability.SLOTracker, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeLabel(r.URL.Path)
		start := time.Now()

		ctx, done := provider.TrackOperation(r.Context(), "http "+r.Method+" "+route,
			observability.RequestAttrs(r.Method, route)...)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		var opErr error
		if rec.status >= http.StatusInternalServerError {
			opErr = &ProblemDetail{Title: http.StatusText(rec.status), Status: rec.status}
		}
		done(opErr)

		elapsed := time.Since(start)
		if slos != nil {
			slos.Record(observability.SLOObservation{
				Operation: route,
				Latency:   elapsed,
				Success:   rec.status < http.StatusInternalServerError,
			})
		}

		slog.Info("api: request",
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed.Round(time.Microsecond),
			"remote", r.RemoteAddr,
		)
	})
}

// routeLabel collapses identifier path segments into placeholders.
func routeLabel(path string) string {
	switch {
	case path == "/v1/intents" || path == "/v1/intents/":
		return "/v1/intents"
	case strings.HasPrefix(path, "/v1/intents/"):
		rest := strings.TrimPrefix(path, "/v1/intents/")
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return "/v1/intents/{id}" + rest[i:]
		}
		return "/v1/intents/{id}"
	case strings.HasPrefix(path, "/v1/sessions/"):
		rest := strings.TrimPrefix(path, "/v1/sessions/")
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return "/v1/sessions/{id}" + rest[i:]
		}
		return "/v1/sessions/{id}"
	case strings.HasPrefix(path, "/v1/slo/"):
		return "/v1/slo/{operation}"
	}
	return path
}
