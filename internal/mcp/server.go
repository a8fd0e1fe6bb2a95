package mcp

import (
	"context"
	"io"
	"log/slog"
	"sort"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codevec/internal/manager"
)

const (
	// ServerName is the MCP server name
	ServerName = "codevec"
	// ServerVersion is the current server version
	ServerVersion = "0.3.0"
)

// Server exposes a Manager over the MCP stdio transport
type Server struct {
	mcp     *server.MCPServer
	manager *manager.Manager
	logger  *slog.Logger
}

// NewServer creates a server backed by m. The caller owns m and is
// responsible for starting and stopping it.
func NewServer(m *manager.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		manager: m,
		logger:  logger,
	}
	s.registerTools()
	return s
}

// Serve reads MCP messages from in and writes responses to out until ctx
// is cancelled or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

// ToolNames returns the registered tool names in sorted order
func (s *Server) ToolNames() []string {
	tools := s.mcp.ListTools()
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexProjectTool(), s.handleIndexProject)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(listProjectsTool(), s.handleListProjects)
}
