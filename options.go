package vitals

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	sqlitePath      string
	thresholdsFile  string
	logger          *slog.Logger
	version         string
	publishHooks    []PublishHook
	routeRegistrars []RouteRegistrar
	middlewares     []Middleware
}

// WithPort overrides the TCP port from config (VITALS_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var). Setting it selects the Postgres sample store.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the embedded store's file (VITALS_SQLITE_PATH).
// It is used only when no database URL is configured.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithThresholdsFile loads threshold overrides from a YAML file
// (VITALS_THRESHOLDS_FILE env var).
func WithThresholdsFile(path string) Option {
	return func(o *resolvedOptions) { o.thresholdsFile = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithPublishHook registers a hook notified after every published window.
// Multiple hooks may be registered; all receive every report.
func WithPublishHook(hook PublishHook) Option {
	return func(o *resolvedOptions) { o.publishHooks = append(o.publishHooks, hook) }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Multiple registrars may be registered; all are called in registration order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, fn) }
}

// WithMiddleware registers an outermost HTTP middleware.
// Multiple middlewares may be registered. Applied in registration order:
// the first-registered middleware is outermost (called first by every request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
