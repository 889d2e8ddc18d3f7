// Package mcp exposes the approval gate to MCP clients: pending requests,
// decisions, policies and turns.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/domain/policy"
	"github.com/Strob0t/deskgate/internal/domain/turn"
	"github.com/Strob0t/deskgate/internal/service"
)

// TurnReader reads turns and the requests waiting inside them.
type TurnReader interface {
	Get(ctx context.Context, turnID string) (*turn.Turn, error)
	Pending(sessionID string) []service.PendingRequest
}

// Decider resolves a pending desktop request.
type Decider interface {
	Decide(ctx context.Context, requestID string, approved bool, src approval.Source, decidedBy, note string) (bool, error)
}

// PolicyReader reads the approval policy settings.
type PolicyReader interface {
	Settings() policy.Settings
	Evaluate(tool string, input map[string]any) policy.Evaluation
}

// ServerConfig holds the MCP server settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	// APIKey returns the bearer key clients must present. Nil disables auth.
	APIKey  func() string
}

// ServerDeps are the services the tools call. Nil entries make the
// corresponding tools answer with an error result.
type ServerDeps struct {
	Turns    TurnReader
	Decider  Decider
	Policies PolicyReader
}

// Server is an MCP server over streamable HTTP.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	http      *http.Server
}

// NewServer creates a server with every tool and resource registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithResourceCapabilities(false, true),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the authenticated streamable HTTP handler.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	slog.Info("mcp server started", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the listener down, waiting for in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
