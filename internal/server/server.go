package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/quorumlab/quorum/internal/auth"
	"github.com/quorumlab/quorum/internal/engine"
	"github.com/quorumlab/quorum/internal/model"
	"github.com/quorumlab/quorum/internal/ratelimit"
)

// Server is the Quorum HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Engine *engine.Engine
	JWTMgr *auth.JWTManager
	Creds  *auth.Credentials
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Engine:              cfg.Engine,
		JWTMgr:              cfg.JWTMgr,
		Creds:               cfg.Creds,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Authenticated traffic is limited per agent; the unauthenticated token
	// endpoint is limited by client IP.
	agentRL := ratelimit.Middleware(cfg.Limiter, agentKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Agent management (admin-only, exempt from rate limits).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/agents", adminOnly(http.HandlerFunc(h.HandleCreateAgent)))
	mux.Handle("PUT /v1/agents/{agent_id}/weight", adminOnly(http.HandlerFunc(h.HandleSetWeight)))
	mux.Handle("PUT /v1/agents/{agent_id}/expertise", adminOnly(http.HandlerFunc(h.HandleSetExpertise)))

	// Decision lifecycle (agent+, rate limited).
	writeRole := requireRole(model.RoleAgent)
	mux.Handle("POST /v1/requests", agentRL(writeRole(http.HandlerFunc(h.HandleCreateRequest))))
	mux.Handle("POST /v1/requests/{request_id}/decisions", agentRL(writeRole(http.HandlerFunc(h.HandleSubmitDecision))))
	mux.Handle("POST /v1/requests/{request_id}/force", adminOnly(http.HandlerFunc(h.HandleForceAggregation)))

	// Query endpoints (reader+, rate limited).
	readRole := requireRole(model.RoleReader)
	mux.Handle("GET /v1/requests/{request_id}", agentRL(readRole(http.HandlerFunc(h.HandleGetRequest))))
	mux.Handle("GET /v1/requests/{request_id}/result", agentRL(readRole(http.HandlerFunc(h.HandleGetResult))))
	mux.Handle("GET /v1/statistics", agentRL(readRole(http.HandlerFunc(h.HandleStatistics))))

	// MCP StreamableHTTP transport (auth required, reader+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readRole(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// agentKeyFunc extracts the agent ID from the request context for rate
// limiting. Returns empty string for admins (exempt) and for requests with
// no claims.
func agentKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return "agent:" + claims.AgentID
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
