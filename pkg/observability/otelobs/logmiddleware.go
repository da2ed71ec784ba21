package otelobs

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// HTTPTraceLogMiddleware logs one access line per request with
// trace_id/span_id when a span is active, and mirrors the ids into
// response headers for correlation. Non-invasive: it never alters the
// response body or status.
func HTTPTraceLogMiddleware(logger zerolog.Logger, next http.Handler) http.Handler {
	if next == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		sc := trace.SpanContextFromContext(r.Context())
		if sc.IsValid() {
			// Headers must go out before the handler writes the body.
			sr.Header().Set("Trace-Id", sc.TraceID().String())
			sr.Header().Set("Span-Id", sc.SpanID().String())
		}
		next.ServeHTTP(sr, r)

		evt := logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sr.status).
			Int64("dur_ms", time.Since(start).Milliseconds())
		if sc.IsValid() {
			evt = evt.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
		}
		evt.Msg("access")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}
