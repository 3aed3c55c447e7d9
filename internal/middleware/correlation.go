package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type key int

const (
	CorrelationKey key = iota
	RunKey
)

const HeaderCorrelationID = "X-Correlation-ID"

// CorrelationID tags every request with an id (taken from X-Correlation-ID when the
// caller sends one) and logs request start and completion.
func CorrelationID(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderCorrelationID)
			if id == "" {
				id = uuid.New().String()
			}

			ctx := WithCorrelationID(r.Context(), id)
			w.Header().Set(HeaderCorrelationID, id)

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			logger.InfoContext(ctx, "request received", "method", r.Method, "path", r.URL.Path) // #nosec G706 -- r.URL.Path is parsed by Go's net/http
			start := time.Now()

			next.ServeHTTP(sw, r.WithContext(ctx))

			logger.InfoContext(ctx, "request completed", "method", r.Method, "path", r.URL.Path, "status", sw.status, "duration", time.Since(start)) // #nosec G706
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationKey).(string); ok {
		return id
	}
	return "unknown"
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationKey, id)
}

// WithRunID marks ctx as belonging to an ingestion run.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunKey, id)
}

func GetRunID(ctx context.Context) string {
	id, _ := ctx.Value(RunKey).(string)
	return id
}
