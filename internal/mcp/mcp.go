// Package mcp exposes the Web Vitals read model over the Model Context
// Protocol, so MCP-compatible agents can ask the same questions as the
// dashboard API.
package mcp

import (
	"encoding/json"
	"errors"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/vitals/internal/readmodel"
	"github.com/ashita-ai/vitals/internal/thresholds"
)

// Server wraps the MCP server with the vitals read model.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	query      *readmodel.Query
	thresholds *thresholds.Table
	logger     *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(query *readmodel.Query, table *thresholds.Table, logger *slog.Logger, version string) *Server {
	s := &Server{
		query:      query,
		thresholds: table,
		logger:     logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"vitals",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(false),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to encode result: " + err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

// queryErrorResult maps read-model errors to agent-readable messages.
func queryErrorResult(err error) *mcplib.CallToolResult {
	switch {
	case errors.Is(err, readmodel.ErrNoSnapshot):
		return errorResult("no aggregated window is available yet; samples are aggregated once a window closes")
	case errors.Is(err, readmodel.ErrNotFound):
		return errorResult("no data for the requested page")
	default:
		return errorResult("query failed: " + err.Error())
	}
}
