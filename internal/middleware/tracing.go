package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const requestIDHeader = "X-Request-ID"

type traceIDKey struct{}

// Tracing assigns every request an id: the caller's X-Request-ID, else the
// active OpenTelemetry trace id, else a fresh UUID.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
				id = sc.TraceID().String()
			} else {
				id = uuid.New().String()
			}
		}

		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), traceIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}
