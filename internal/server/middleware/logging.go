package middleware

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HeaderRequestID carries the request correlation id in both directions.
const HeaderRequestID = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFrom returns the correlation id assigned by Logging.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Logging assigns every request a correlation id (reusing an inbound
// X-Request-ID when present) and logs one structured line per request once
// the handler returns. Failed requests log at warn, server errors at error.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get(HeaderRequestID)
			if id == "" || len(id) > 64 {
				id = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, id)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}

			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("request_id", id),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("query", r.URL.RawQuery),
				slog.Int("status", rec.status),
				slog.Int("bytes", rec.bytes),
				slog.Duration("duration", time.Since(start)),
				slog.String("caller", r.Header.Get(HeaderCaller)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// statusRecorder remembers the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Hijack lets the websocket upgrade pass through.
func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("middleware: response writer cannot hijack")
	}
	rw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
