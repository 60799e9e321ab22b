// Package mcp exposes a read-only view of the fleet over the Model
// Context Protocol: item status and pending approvals, so a
// supervising LLM can observe the fleet without going through the
// HTTP request surface. Adapted from CodeForge's own MCP adapter,
// whose server.go shipped as a Phase 2 stub while tools.go/resources.go
// already assumed a real mcpServer/deps-carrying Server — this
// package finishes that shape for the fleet domain.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/fleetforge/orchestrator/internal/domain/orch"
)

// ServerConfig holds the MCP server's listen address and identity. If
// APIKey is set, every request must carry it as a Bearer token or raw
// Authorization header value.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// ItemStatusView is the read-only projection of an item this package
// exposes: its persisted configuration plus its derived status.
type ItemStatusView struct {
	orch.Item
	Status string `json:"status"`
}

// ItemReader supplies the item-status views this server's resources
// and tools read. Implemented in production by an adapter over
// item.Manager + internal/orch/deriver; swapped for a fake in tests.
type ItemReader interface {
	ListItems(ctx context.Context) ([]ItemStatusView, error)
	GetItem(ctx context.Context, itemID string) (ItemStatusView, error)
}

// ApprovalReader supplies an item's pending approval_requested events.
type ApprovalReader interface {
	ListPendingApprovals(ctx context.Context, itemID string) ([]orch.Event, error)
}

// ServerDeps wires the read-only data sources. A nil field disables
// the resources/tools that depend on it rather than panicking.
type ServerDeps struct {
	Items     ItemReader
	Approvals ApprovalReader
}

// Server is the MCP endpoint over the fleet's read-only state.
type Server struct {
	cfg  ServerConfig
	deps ServerDeps

	mcpServer *mcpserver.MCPServer
	streaming *mcpserver.StreamableHTTPServer
	http      *http.Server
	listener  net.Listener
}

// NewServer builds a Server with every resource and tool registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	mcpSrv := mcpserver.NewMCPServer(cfg.Name, cfg.Version)
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		mcpServer: mcpSrv,
	}
	s.registerResources()
	s.registerTools()
	s.streaming = mcpserver.NewStreamableHTTPServer(mcpSrv)
	s.http = &http.Server{Handler: AuthMiddleware(cfg.APIKey, s.streaming)}
	return s
}

// MCPServer returns the underlying mcp-go server, mainly for tests
// that want to inspect registered tools/resources directly.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start binds the configured address and serves in the background.
// A nil return does not mean the listener is live yet; callers that
// need the bound port (e.g. addr ":0" in tests) should use Addr().
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp: listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server stopped unexpectedly", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, valid only after Start
// succeeds.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
