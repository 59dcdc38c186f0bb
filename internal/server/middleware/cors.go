package middleware

import (
	"net/http"
	"strings"
)

var (
	corsMethods = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")
	corsHeaders = strings.Join([]string{
		"Content-Type", "Authorization", "X-API-Key",
		HeaderCaller, HeaderSignature, HeaderTimestamp, HeaderRequestID,
	}, ", ")
)

// CORS answers preflight requests and sets CORS headers for allowed
// origins. An empty list or a "*" entry allows every origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 0
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[strings.ToLower(o)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || origins[strings.ToLower(origin)]) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				h.Set("Access-Control-Expose-Headers", HeaderRequestID+", X-RateLimit-Limit, Retry-After")
				h.Set("Access-Control-Max-Age", "86400")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
