package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Service   string `json:"service,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	Status    int    `json:"status,omitempty"`
	Duration  string `json:"duration,omitempty"`
	Error     string `json:"error,omitempty"`
}

// serviceName is stamped on every JSON log line.
var serviceName string

// SetServiceName sets the service field of log lines.
func SetServiceName(name string) {
	serviceName = name
}

// LoggerMiddleware writes one JSON line per request.
func LoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		// handlers below may attach the user to the request they see; the
		// holder lets us read it back here.
		holder := &userHolder{}
		next.ServeHTTP(rw, r.WithContext(withUserHolder(r.Context(), holder)))

		entry := LogEntry{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Service:   serviceName,
			TraceID:   GetTraceID(r),
			UserID:    holder.userID,
			Level:     "INFO",
			Message:   "HTTP Request",
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    rw.statusCode,
			Duration:  time.Since(start).String(),
		}
		if rw.statusCode >= http.StatusInternalServerError {
			entry.Level = "ERROR"
		}
		logJSON(entry)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush keeps streaming responses working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func LogError(traceID, message string, err error) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   serviceName,
		TraceID:   traceID,
		Level:     "ERROR",
		Message:   message,
	}

	if err != nil {
		entry.Error = err.Error()
	}

	logJSON(entry)
}

func LogInfo(traceID, message string) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   serviceName,
		TraceID:   traceID,
		Level:     "INFO",
		Message:   message,
	}

	logJSON(entry)
}

func logJSON(entry LogEntry) {
	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		log.Printf("Error marshaling log entry: %v", err)
		return
	}
	log.Println(string(jsonBytes))
}

const userHolderKey contextKey = "user_holder"

type userHolder struct {
	userID string
}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, userHolderKey, h)
}

func recordUser(ctx context.Context, userID string) {
	if h, ok := ctx.Value(userHolderKey).(*userHolder); ok {
		h.userID = userID
	}
}
