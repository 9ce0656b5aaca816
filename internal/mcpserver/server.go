// Package mcpserver exposes the planning tools over the Model Context
// Protocol so editors and other agents can call them directly. MCP has no
// human approval step, so calls that would need approval are refused.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/nfugallo/terna/internal/llm"
	"github.com/nfugallo/terna/internal/tool"
)

// Tools is the tool surface served over MCP. *tool.Registry implements it.
type Tools interface {
	Schemas(names ...string) []llm.ToolSchema
	NeedsApproval(name string, input json.RawMessage) bool
	Execute(ctx context.Context, name string, input json.RawMessage) (string, error)
}

var _ Tools = (*tool.Registry)(nil)

// Server adapts Tools to MCP tool handlers.
type Server struct {
	tools  Tools
	logger zerolog.Logger
}

// New creates a Server.
func New(tools Tools, logger zerolog.Logger) *Server {
	return &Server{
		tools:  tools,
		logger: logger.With().Str("component", "mcp").Logger(),
	}
}

// Definitions returns one MCP tool per registered tool.
func (s *Server) Definitions() []server.ServerTool {
	schemas := s.tools.Schemas()
	defs := make([]server.ServerTool, 0, len(schemas))
	for _, sc := range schemas {
		defs = append(defs, server.ServerTool{
			Tool:    mcp.NewToolWithRawSchema(sc.Name, sc.Description, sc.InputSchema),
			Handler: s.handler(sc.Name),
		})
	}
	return defs
}

// MCPServer builds the protocol server with every tool registered.
func (s *Server) MCPServer(version string) *server.MCPServer {
	m := server.NewMCPServer(
		"terna",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Tracker planning tools for projects, milestones and issues. "+
			"Tools that create or change tracker records, or commit code, need human approval "+
			"and are only available through the terna chat API."),
	)
	m.AddTools(s.Definitions()...)
	return m
}

// ServeStdio serves MCP over stdin and stdout until the client disconnects.
func (s *Server) ServeStdio(version string) error {
	s.logger.Info().Str("version", version).Msg("serving MCP over stdio")
	return server.ServeStdio(s.MCPServer(version))
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		input, err := json.Marshal(args)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		if s.tools.NeedsApproval(name, input) {
			s.logger.Info().Str("tool", name).Msg("refused call that needs approval")
			return mcp.NewToolResultError(fmt.Sprintf(
				"%s needs human approval and cannot run over MCP; use the terna chat API instead", name)), nil
		}

		out, err := s.tools.Execute(ctx, name, input)
		if err != nil {
			s.logger.Warn().Err(err).Str("tool", name).Msg("tool call failed")
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}
