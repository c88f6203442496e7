package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// TraceHeader carries the request trace id between services.
const TraceHeader = "X-Trace-Id"

const traceIDContextKey contextKey = "trace_id"

// TraceMiddleware reuses the caller's trace id or generates one.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}

		w.Header().Set(TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(WithTraceID(r.Context(), traceID)))
	})
}

// WithTraceID stores traceID in ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDContextKey, traceID)
}

// TraceIDFromContext returns the trace id, or "".
func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDContextKey).(string); ok {
		return traceID
	}
	return ""
}

// GetTraceID retrieves the trace ID from the request context.
func GetTraceID(r *http.Request) string {
	return TraceIDFromContext(r.Context())
}

// PropagateTraceID copies the trace id of ctx onto an outgoing request.
func PropagateTraceID(ctx context.Context, req *http.Request) {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		req.Header.Set(TraceHeader, traceID)
	}
}
