//go:build !otelotlp

// Package otelobs provides opt-in OpenTelemetry tracing. The default
// build compiles to no-ops; build with -tags otelotlp and set
// OTEL_EXPORTER_OTLP_ENDPOINT to enable span export.
package otelobs

import (
	"context"
	"net/http"
)

// InitTracer is a no-op by default. Build with -tags otelotlp to enable
// OTLP export.
func InitTracer(serviceName string) func(context.Context) error {
	return func(context.Context) error { return nil }
}

// WrapHTTPHandler is a no-op by default.
func WrapHTTPHandler(serviceName string, h http.Handler) http.Handler { return h }
