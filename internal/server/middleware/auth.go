package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth gates the API behind a shared key, accepted either as a Bearer token
// or in X-API-Key. An empty apiKey disables the check. Paths listed in
// public are always let through.
//
// The key only admits a client to the API. Which account a request acts
// for is decided separately by Caller.
func Auth(apiKey string, public ...string) func(http.Handler) http.Handler {
	open := make(map[string]bool, len(public))
	for _, p := range public {
		open[p] = true
	}
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token := presentedKey(r)
			switch {
			case token == "":
				writeStatus(w, http.StatusUnauthorized, "missing api key")
			case subtle.ConstantTimeCompare([]byte(token), want) != 1:
				writeStatus(w, http.StatusUnauthorized, "invalid api key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func presentedKey(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
