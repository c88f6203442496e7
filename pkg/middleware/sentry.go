package middleware

import (
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
)

// InitSentry enables error tracking when dsn is set. The returned func flushes
// buffered events and must run on shutdown.
func InitSentry(dsn, service, environment string) func() {
	if dsn == "" {
		return func() {}
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		ServerName:       service,
		Environment:      environment,
		EnableTracing:    true,
		TracesSampleRate: 0.2,
	})
	if err != nil {
		log.Printf("[WARN] Sentry init failed: %v", err)
		return func() {}
	}
	log.Println("[INFO] Sentry error tracking enabled")
	return func() { sentry.Flush(2 * time.Second) }
}

// SentryMiddleware reports panics to Sentry and re-panics so the server's
// recovery still answers the request.
func SentryMiddleware(next http.Handler) http.Handler {
	return sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle(next)
}

// CaptureError forwards err to Sentry when it is enabled.
func CaptureError(err error) {
	if err != nil && sentry.CurrentHub().Client() != nil {
		sentry.CaptureException(err)
	}
}

// Chain wraps h in the standard middleware stack, outermost first.
func Chain(h http.Handler) http.Handler {
	return SentryMiddleware(TraceMiddleware(MetricsMiddleware(LoggerMiddleware(h))))
}
