package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-alarms/internal/logger"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack supports WebSocket upgrades through the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T does not support hijacking", rw.ResponseWriter)
	}
	rw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// RequestLogger generates a req_id, puts a request-scoped logger in the
// context and logs the outcome.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		start := time.Now()

		// Inject req_id into header for client debugging
		w.Header().Set("X-Request-ID", reqID)

		ctx := logger.WithKV(r.Context(), "req_id", reqID)
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r.WithContext(ctx))

		kvs := []any{"method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr,
			"status", rw.status, "duration", time.Since(start)}
		if rw.status == http.StatusUnauthorized || rw.status == http.StatusForbidden || rw.status >= 500 {
			logger.WarnKV(ctx, "request completed", kvs...)
			return
		}
		logger.DebugKV(ctx, "request completed", kvs...)
	})
}
