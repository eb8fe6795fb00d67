// Package mcpserver exposes the dispatcher as an MCP (Model Context Protocol)
// server over stdio, so MCP-speaking orchestrators can discover and call the
// operations directly.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Jazzman94/agentai/internal/audit"
	"github.com/Jazzman94/agentai/internal/dispatch"
	"github.com/Jazzman94/agentai/internal/gateway"
)

var _ gateway.Gateway = (*Server)(nil)

// callerID tags MCP calls in the audit trail.
const callerID = "mcp"

// Config configures the MCP server.
type Config struct {
	Name    string    // Server name announced during initialize.
	Version string    // Server version announced during initialize.
	In      io.Reader // Default os.Stdin.
	Out     io.Writer // Default os.Stdout.
}

// Server serves dispatcher operations as MCP tools.
type Server struct {
	config     Config
	dispatcher *dispatch.Dispatcher
	root       string
	mcp        *server.MCPServer
	logger     *slog.Logger
	done       chan struct{} // closed by Stop
	stopOnce   sync.Once
}

// New creates an MCP server that registers one tool per dispatcher
// operation. Every call runs against root.
func New(cfg Config, d *dispatch.Dispatcher, root string, logger *slog.Logger) (*Server, error) {
	if cfg.Name == "" {
		cfg.Name = "agentai"
	}
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	s := &Server{
		config:     cfg,
		dispatcher: d,
		root:       root,
		logger:     logger,
		done:       make(chan struct{}),
		mcp: server.NewMCPServer(cfg.Name, cfg.Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}

	for _, def := range d.Definitions() {
		schema, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("encoding schema for %s: %w", def.Name, err)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(def.Name, def.Description, schema), s.handleCall)
	}
	return s, nil
}

// Start serves JSON-RPC over the configured streams until ctx is canceled,
// Stop is called, or the input stream closes.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(io.Discard, "", 0))

	s.logger.Info("mcp server starting",
		slog.String("name", s.config.Name),
		slog.String("root", s.root),
	)
	err := stdio.Listen(ctx, s.config.In, s.config.Out)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Stop ends the serve loop.
func (s *Server) Stop(_ context.Context) error {
	s.stopOnce.Do(func() {
		s.logger.Info("mcp server stopping")
		close(s.done)
	})
	return nil
}

// handleCall dispatches a tools/call request. Operation failures come back
// as tool results flagged IsError, never as protocol errors.
func (s *Server) handleCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	call := dispatch.Call{
		ID:   uuid.NewString(),
		Name: req.Params.Name,
		Args: req.GetArguments(),
	}
	result := s.dispatcher.Dispatch(audit.WithCaller(ctx, callerID), s.root, &call)
	if !result.Success {
		return mcp.NewToolResultError(result.Output), nil
	}
	return mcp.NewToolResultText(result.Output), nil
}
