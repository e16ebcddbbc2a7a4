package util

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	if r.status == 0 {
		r.status = statusCode
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

type requestFieldsKey struct{}

// requestFields collects attributes inner handlers learn while serving, such
// as the matched route or the signed-in user.
type requestFields struct {
	mu    sync.Mutex
	attrs []any
}

// AnnotateRequest adds key=value to the access log line of the request
// carried by ctx. Outside WithRequestLog it does nothing.
func AnnotateRequest(ctx context.Context, key string, value any) {
	fields, ok := ctx.Value(requestFieldsKey{}).(*requestFields)
	if !ok {
		return
	}
	fields.mu.Lock()
	fields.attrs = append(fields.attrs, key, value)
	fields.mu.Unlock()
}

// WithRequestLog writes one access log line per request through logger.
// Server errors are logged at warn level.
func WithRequestLog(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		fields := &requestFields{}
		r = r.WithContext(context.WithValue(r.Context(), requestFieldsKey{}, fields))
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestIDFromRequest(r),
		}
		fields.mu.Lock()
		attrs = append(attrs, fields.attrs...)
		fields.mu.Unlock()
		logger.Log(r.Context(), level, "http_request", attrs...)
	})
}
