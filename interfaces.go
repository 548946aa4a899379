package vitals

import (
	"context"
	"net/http"
)

// PublishHook receives a report each time a newly closed window has been
// aggregated and published to the read API.
// Hook methods run in goroutines; they must not block indefinitely.
// Failures are logged and never affect aggregation or the read API.
type PublishHook interface {
	OnWindowPublished(ctx context.Context, report WindowReport) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Extra routes share the middleware chain and OTEL instrumentation with the
// built-in routes. The function is called once during New().
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including /health.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
