package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rinawarp/cmdintel/internal/engine"
	"github.com/rinawarp/cmdintel/internal/ipc"
)

// AnalyzeErrorTool handles the analyze_error MCP tool.
type AnalyzeErrorTool struct {
	backend ipc.Backend
}

// NewAnalyzeErrorTool creates an AnalyzeErrorTool.
func NewAnalyzeErrorTool(backend ipc.Backend) *AnalyzeErrorTool {
	return &AnalyzeErrorTool{backend: backend}
}

// Definition returns the MCP tool definition for analyze_error.
func (t *AnalyzeErrorTool) Definition() mcp.Tool {
	return mcp.NewTool("analyze_error",
		mcp.WithDescription(
			"Explain a failed command and rank recovery commands, combining fixes that worked "+
				"before with the configured AI provider when one is enabled. Each call is recorded "+
				"so repeated failures are recognized.",
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command that failed"),
		),
		mcp.WithString("error",
			mcp.Description("Error output (stderr); may be empty"),
		),
		mcp.WithNumber("exit_code",
			mcp.Description("Exit code of the failed command (default: 1)"),
		),
		mcp.WithString("dir",
			mcp.Description("Working directory, used to detect the project type and dependencies"),
		),
	)
}

// Handle processes the analyze_error tool call.
func (t *AnalyzeErrorTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command := strings.TrimSpace(req.GetString("command", ""))
	if command == "" {
		return mcp.NewToolResultError("'command' is required"), nil
	}

	a, err := t.backend.AnalyzeError(ctx, engine.Failure{
		Command:  command,
		Error:    req.GetString("error", ""),
		ExitCode: req.GetInt("exit_code", 1),
		Dir:      req.GetString("dir", ""),
	})
	if err != nil {
		return backendError("analyze error", err), nil
	}

	var b strings.Builder
	b.WriteString("## Error analysis\n\n")
	if a.Analysis != "" {
		b.WriteString(a.Analysis)
		b.WriteString("\n\n")
	}
	if a.FailureClass != "" {
		fmt.Fprintf(&b, "- **Failure class**: %s\n", a.FailureClass)
	}
	if a.PatternID != "" {
		fmt.Fprintf(&b, "- **Pattern**: %s\n", a.PatternID)
	}
	if len(a.Suggestions) == 0 {
		b.WriteString("\nNo recovery suggestions yet.\n")
	} else {
		b.WriteString("\n### Suggested recoveries\n\n")
		for i, s := range a.Suggestions {
			warn := ""
			if s.Destructive {
				warn = " **destructive**"
			}
			fmt.Fprintf(&b, "%d. `%s` (%s, %.2f)%s\n", i+1, s.Command, s.Source, s.Confidence, warn)
		}
	}
	return result(a, b.String()), nil
}

// RecoveryTool handles the record_recovery MCP tool.
type RecoveryTool struct {
	backend ipc.Backend
}

// NewRecoveryTool creates a RecoveryTool.
func NewRecoveryTool(backend ipc.Backend) *RecoveryTool {
	return &RecoveryTool{backend: backend}
}

// Definition returns the MCP tool definition for record_recovery.
func (t *RecoveryTool) Definition() mcp.Tool {
	return mcp.NewTool("record_recovery",
		mcp.WithDescription(
			"Report whether a recovery command fixed a failure previously passed to analyze_error. "+
				"Successful recoveries rank higher next time.",
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command that originally failed"),
		),
		mcp.WithString("recovery",
			mcp.Required(),
			mcp.Description("The recovery command that was run"),
		),
		mcp.WithBoolean("success",
			mcp.Required(),
			mcp.Description("Whether the recovery fixed the failure"),
		),
		mcp.WithString("error",
			mcp.Description("The original error output, as given to analyze_error"),
		),
		mcp.WithNumber("exit_code",
			mcp.Description("The original exit code, used when no error output was captured (default: 1)"),
		),
		mcp.WithIdempotentHintAnnotation(false),
	)
}

// Handle processes the record_recovery tool call.
func (t *RecoveryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command := strings.TrimSpace(req.GetString("command", ""))
	recovery := strings.TrimSpace(req.GetString("recovery", ""))
	if command == "" || recovery == "" {
		return mcp.NewToolResultError("'command' and 'recovery' are required"), nil
	}
	success, err := req.RequireBool("success")
	if err != nil {
		return mcp.NewToolResultError("'success' is required"), nil
	}

	rr := ipc.RecoveryRequest{
		Command:  command,
		Error:    req.GetString("error", ""),
		ExitCode: req.GetInt("exit_code", 1),
		Recovery: recovery,
		Success:  success,
	}
	if err := t.backend.RecordRecoveryAttempt(ctx, rr); err != nil {
		return backendError("record recovery", err), nil
	}

	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	return result(rr, fmt.Sprintf("Recorded that `%s` %s for `%s`.", recovery, outcome, command)), nil
}

// ErrorStatsTool handles the error_stats MCP tool.
type ErrorStatsTool struct {
	backend ipc.Backend
}

// NewErrorStatsTool creates an ErrorStatsTool.
func NewErrorStatsTool(backend ipc.Backend) *ErrorStatsTool {
	return &ErrorStatsTool{backend: backend}
}

// Definition returns the MCP tool definition for error_stats.
func (t *ErrorStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("error_stats",
		mcp.WithDescription(
			"Show the most frequent failures with their best recovery commands and the overall recovery success rate.",
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the error_stats tool call.
func (t *ErrorStatsTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.backend.ErrorStats(ctx)
	if err != nil {
		return backendError("error stats", err), nil
	}

	var b strings.Builder
	b.WriteString("## Error statistics\n\n")
	fmt.Fprintf(&b, "- **Patterns**: %d\n", stats.TotalPatterns)
	fmt.Fprintf(&b, "- **Recovery success rate**: %.0f%%\n", stats.RecoverySuccessRate*100)
	for _, p := range stats.TopPatterns {
		fmt.Fprintf(&b, "\n### `%s` x%d\n\n%s\n", p.CommandPattern, p.Frequency, p.ErrorPattern)
		for _, a := range p.RecoveryActions {
			fmt.Fprintf(&b, "- `%s` (%.0f%% of %d attempts)\n", a.Command, a.SuccessRate*100, a.Attempts)
		}
	}
	return result(stats, b.String()), nil
}
