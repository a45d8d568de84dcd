package handlers

import (
	"net/http"

	"battlescope/pkg/config"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

// TracingMiddleware wraps the router in otelhttp server spans. With
// telemetry disabled it is a no-op. Health probes are filtered out so
// liveness polling does not dominate the trace volume.
func TracingMiddleware(serviceName string) func(http.Handler) http.Handler {
	if !config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return otelhttp.NewMiddleware(
		serviceName,
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
		otelhttp.WithPropagators(otel.GetTextMapPropagator()),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/ready"
		}),
	)
}
