package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rinawarp/cmdintel/internal/engine"
	"github.com/rinawarp/cmdintel/internal/ipc"
)

// RecordTool handles the record_execution MCP tool.
type RecordTool struct {
	backend ipc.Backend
}

// NewRecordTool creates a RecordTool.
func NewRecordTool(backend ipc.Backend) *RecordTool {
	return &RecordTool{backend: backend}
}

// Definition returns the MCP tool definition for record_execution.
func (t *RecordTool) Definition() mcp.Tool {
	return mcp.NewTool("record_execution",
		mcp.WithDescription(
			"Record a command the agent ran so its patterns, workflows and timings are learned "+
				"alongside the user's own shell history.",
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command that was run"),
		),
		mcp.WithNumber("exit_code",
			mcp.Description("Exit code (default: 0)"),
		),
		mcp.WithNumber("duration_ms",
			mcp.Description("Wall-clock duration in milliseconds"),
		),
		mcp.WithString("dir",
			mcp.Description("Working directory"),
		),
		mcp.WithString("session",
			mcp.Description("Session id grouping commands into workflows (default: \"agent\")"),
		),
		mcp.WithIdempotentHintAnnotation(false),
	)
}

// Handle processes the record_execution tool call.
func (t *RecordTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command := strings.TrimSpace(req.GetString("command", ""))
	if command == "" {
		return mcp.NewToolResultError("'command' is required"), nil
	}

	ex := engine.Execution{
		Session:  req.GetString("session", "agent"),
		Command:  command,
		Dir:      req.GetString("dir", ""),
		ExitCode: req.GetInt("exit_code", 0),
		Duration: time.Duration(req.GetFloat("duration_ms", 0) * float64(time.Millisecond)),
	}
	accepted, err := t.backend.Record(ctx, ex)
	if err != nil {
		return backendError("record", err), nil
	}

	text := fmt.Sprintf("Recorded `%s`.", command)
	if !accepted {
		text = fmt.Sprintf("Skipped `%s`: ingestion is shedding load.", command)
	}
	return result(map[string]any{"accepted": accepted}, text), nil
}

// StatsTool handles the engine_stats MCP tool.
type StatsTool struct {
	backend ipc.Backend
}

// NewStatsTool creates a StatsTool.
func NewStatsTool(backend ipc.Backend) *StatsTool {
	return &StatsTool{backend: backend}
}

// Definition returns the MCP tool definition for engine_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("engine_stats",
		mcp.WithDescription(
			"Show how much the engine has learned and the state of its ingestion queue.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the engine_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.backend.Stats(ctx)
	if err != nil {
		return backendError("stats", err), nil
	}

	var b strings.Builder
	b.WriteString("## Engine statistics\n\n")
	fmt.Fprintf(&b, "- **Command patterns**: %d\n", stats.Patterns)
	fmt.Fprintf(&b, "- **Workflow nodes**: %d\n", stats.WorkflowNodes)
	fmt.Fprintf(&b, "- **Workflows**: %d\n", stats.WorkflowPatterns)
	fmt.Fprintf(&b, "- **Error patterns**: %d\n", stats.ErrorPatterns)
	fmt.Fprintf(&b, "- **Queue**: %d/%d (%d dropped)\n", stats.Queue.CurrentSize, stats.Queue.MaxSize, stats.Queue.TotalDropped)
	fmt.Fprintf(&b, "- **Breaker**: %s (%d rejected)\n", stats.Breaker.State, stats.Breaker.TotalRejected)
	return result(stats, b.String()), nil
}
