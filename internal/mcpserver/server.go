// Package mcpserver exposes the command intelligence engine as MCP tools
// so coding agents can ask for predictions, workflows and error recovery.
//
// Each tool follows the same shape:
//   - a struct holding the ipc.Backend it queries
//   - Definition() returns the mcp.Tool schema
//   - Handle() validates arguments, calls the backend and renders a
//     markdown summary alongside the structured result
package mcpserver

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rinawarp/cmdintel/internal/ipc"
)

// Name is the MCP server name reported during initialization.
const Name = "cmdintel"

// Tool is one MCP tool backed by the engine.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Options configures New.
type Options struct {
	Version string
	Logger  *slog.Logger
}

// Tools returns every engine tool over backend.
func Tools(backend ipc.Backend) []Tool {
	return []Tool{
		NewPredictTool(backend),
		NewTimingTool(backend),
		NewImpactTool(backend),
		NewNextCommandsTool(backend),
		NewSuggestWorkflowTool(backend),
		NewDetectWorkflowTool(backend),
		NewProjectTypeTool(backend),
		NewAnalyzeErrorTool(backend),
		NewRecoveryTool(backend),
		NewErrorStatsTool(backend),
		NewRecordTool(backend),
		NewStatsTool(backend),
	}
}

// New creates an MCP server with every engine tool registered.
func New(backend ipc.Backend, opts Options) *server.MCPServer {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := server.NewMCPServer(
		Name,
		opts.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
		server.WithHooks(loggingHooks(logger)),
	)
	for _, t := range Tools(backend) {
		s.AddTool(t.Definition(), t.Handle)
	}
	return s
}

// Serve runs s over the given streams until ctx is canceled or in is
// closed. Protocol errors go to logger since out carries JSON-RPC.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

func loggingHooks(logger *slog.Logger) *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddAfterCallTool(func(_ context.Context, _ any, req *mcp.CallToolRequest, res any) {
		failed := false
		if r, ok := res.(*mcp.CallToolResult); ok && r != nil {
			failed = r.IsError
		}
		logger.Debug("tool call", "tool", req.Params.Name, "failed", failed)
	})
	return hooks
}

const instructions = `cmdintel learns from the shell commands a user runs.
Use predict_next_commands or suggest_next_commands before proposing a follow-up command,
suggest_timing and predict_impact before running something expensive,
and analyze_error after a command fails. Report the outcome of a suggested fix
with record_recovery so future suggestions improve.`

// result pairs the structured value with its markdown rendering.
func result(structured any, text string) *mcp.CallToolResult {
	return mcp.NewToolResultStructured(structured, text)
}

// backendError renders a backend failure as a tool error. Tool errors are
// reported in the result, not as protocol errors, so the agent sees them.
func backendError(op string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultErrorf("%s failed: %v", op, err)
}

// cleanList trims entries and drops empty ones.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
