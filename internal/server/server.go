package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/vitals/internal/ratelimit"
	"github.com/ashita-ai/vitals/internal/readmodel"
	"github.com/ashita-ai/vitals/internal/service/ingest"
)

// Server is the vitals HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Buffer, Store, Limiter, MCPServer, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	Ingest *ingest.Service
	Query  *readmodel.Query
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Buffer    *ingest.Buffer
	Store     Pinger
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// OpenAPISpec is served at GET /openapi.yaml when non-empty.
	OpenAPISpec []byte

	// ExtraRoutes are registered on the mux after the built-in routes.
	ExtraRoutes []func(mux *http.ServeMux)
	// Middlewares wrap the whole chain; the first one is outermost.
	Middlewares []func(http.Handler) http.Handler

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Ingest:              cfg.Ingest,
		Buffer:              cfg.Buffer,
		Query:               cfg.Query,
		Store:               cfg.Store,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	ingestRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc, cfg.Logger)

	mux := http.NewServeMux()

	// Beacon ingestion (public, rate limited by client IP).
	mux.Handle("POST /api/vitals", ingestRL(http.HandlerFunc(h.HandleIngest)))

	// Read model.
	mux.HandleFunc("GET /api/vitals/summary", h.HandleSummary)
	mux.HandleFunc("GET /api/vitals/pages", h.HandlePages)
	mux.HandleFunc("GET /api/vitals/score", h.HandleScore)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	for _, register := range cfg.ExtraRoutes {
		register(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(routeName, handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// routeName collapses request paths to the registered routes for span names
// and metric labels.
func routeName(r *http.Request) string {
	switch p := r.URL.Path; {
	case strings.HasPrefix(p, "/api/vitals"), p == "/health", p == "/openapi.yaml":
		return p
	case strings.HasPrefix(p, "/mcp"):
		return "/mcp"
	default:
		return "other"
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
