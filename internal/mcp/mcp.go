// Package mcp implements the Model Context Protocol server for Quorum.
//
// The MCP server exposes the decision aggregation engine through MCP tools,
// so MCP-compatible AI agents can open decision requests, cast votes, and
// inspect results without speaking the HTTP API.
package mcp

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/quorumlab/quorum/internal/engine"
)

// Server wraps the MCP server around the aggregation engine.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    *engine.Engine
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(eng *engine.Engine, version string, logger *slog.Logger) *Server {
	s := &Server{
		engine: eng,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"quorum",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// errorResult builds a tool error payload without failing the MCP call.
func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
	}
}
