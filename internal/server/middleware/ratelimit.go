package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// RateLimit caps each client IP at limit requests per window. Reads and
// state-changing requests count against separate buckets so that polling
// an auction never starves a bidder's POSTs. Limiter errors fail open.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	limitHeader := strconv.Itoa(limit)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ratelimit:" + bucketFor(r) + ":" + clientIP(r)

			allowed, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", limitHeader)
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				writeStatus(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bucketFor(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "read"
	default:
		return "write"
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
