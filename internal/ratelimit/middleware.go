package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"authgate/internal/observability"
)

// Classify maps a request path to the class it is counted under.
func Classify(path string) Class {
	switch {
	case path == "/auth/login":
		return Login
	case strings.HasPrefix(path, "/api/"):
		return API
	default:
		return General
	}
}

// Middleware counts every request per client IP. Store failures let the
// request through.
func Middleware(limiter *Limiter, logger *observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := Classify(r.URL.Path)
		ip := observability.ClientIP(r)

		decision, err := limiter.Check(r.Context(), class, ip)
		if err != nil {
			logger.Error("rate_limit_check_failed", map[string]any{
				"class": string(class),
				"ip":    ip,
				"error": err.Error(),
			})
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		if !decision.Allowed {
			logger.Warn("rate_limit_exceeded", map[string]any{
				"class": string(class),
				"ip":    ip,
				"path":  r.URL.Path,
				"count": decision.Count,
			})

			w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
