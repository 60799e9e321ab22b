package obs

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPMiddleware wraps next with span creation for every HTTP request,
// kept as-is from CodeForge's own otel middleware: a one-line
// otelhttp.NewHandler wrapper needs no domain adaptation.
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName)
	}
}
