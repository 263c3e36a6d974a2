package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rinawarp/cmdintel/internal/ipc"
)

// PredictTool handles the predict_next_commands MCP tool.
type PredictTool struct {
	backend ipc.Backend
}

// NewPredictTool creates a PredictTool.
func NewPredictTool(backend ipc.Backend) *PredictTool {
	return &PredictTool{backend: backend}
}

// Definition returns the MCP tool definition for predict_next_commands.
func (t *PredictTool) Definition() mcp.Tool {
	return mcp.NewTool("predict_next_commands",
		mcp.WithDescription(
			"Predict the commands the user is most likely to run next, ranked by how often they "+
				"follow the recent commands, the time of day and the current system load.",
		),
		mcp.WithArray("recent",
			mcp.WithStringItems(),
			mcp.Description("Most recent commands, oldest first. Omit to use the session's own history."),
		),
		mcp.WithString("session",
			mcp.Description("Shell session id whose history is used when 'recent' is omitted"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the predict_next_commands tool call.
func (t *PredictTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recent := cleanList(req.GetStringSlice("recent", nil))
	session := req.GetString("session", "")

	preds, err := t.backend.PredictNextCommands(ctx, session, recent)
	if err != nil {
		return backendError("predict", err), nil
	}
	if len(preds) == 0 {
		return result(map[string]any{"predictions": preds}, "No predictions yet. Not enough command history."), nil
	}

	var b strings.Builder
	b.WriteString("## Predicted next commands\n\n")
	for i, p := range preds {
		fmt.Fprintf(&b, "%d. `%s` (score %.2f)\n", i+1, p.Command, p.Score)
	}
	return result(map[string]any{"predictions": preds}, b.String()), nil
}

// TimingTool handles the suggest_timing MCP tool.
type TimingTool struct {
	backend ipc.Backend
}

// NewTimingTool creates a TimingTool.
func NewTimingTool(backend ipc.Backend) *TimingTool {
	return &TimingTool{backend: backend}
}

// Definition returns the MCP tool definition for suggest_timing.
func (t *TimingTool) Definition() mcp.Tool {
	return mcp.NewTool("suggest_timing",
		mcp.WithDescription(
			"Advise whether to run a command now or wait, based on current system load and the "+
				"hours this command is usually run.",
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command to evaluate"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the suggest_timing tool call.
func (t *TimingTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command := strings.TrimSpace(req.GetString("command", ""))
	if command == "" {
		return mcp.NewToolResultError("'command' is required"), nil
	}

	timing, err := t.backend.SuggestTiming(ctx, command)
	if err != nil {
		return backendError("suggest timing", err), nil
	}

	verdict := "Run it now"
	if timing.ShouldWait {
		verdict = "Consider waiting"
	}
	text := fmt.Sprintf("%s (%s).", verdict, timing.Reason)
	if len(timing.PeakHours) > 0 {
		hours := make([]string, len(timing.PeakHours))
		for i, h := range timing.PeakHours {
			hours[i] = fmt.Sprintf("%02d:00", h)
		}
		text += " Usually run at " + strings.Join(hours, ", ") + "."
	}
	return result(timing, text), nil
}

// ImpactTool handles the predict_impact MCP tool.
type ImpactTool struct {
	backend ipc.Backend
}

// NewImpactTool creates an ImpactTool.
func NewImpactTool(backend ipc.Backend) *ImpactTool {
	return &ImpactTool{backend: backend}
}

// Definition returns the MCP tool definition for predict_impact.
func (t *ImpactTool) Definition() mcp.Tool {
	return mcp.NewTool("predict_impact",
		mcp.WithDescription(
			"Estimate how running a command will change CPU, memory, disk and network load, "+
				"and how long it usually takes.",
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command to evaluate"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the predict_impact tool call.
func (t *ImpactTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command := strings.TrimSpace(req.GetString("command", ""))
	if command == "" {
		return mcp.NewToolResultError("'command' is required"), nil
	}

	imp, err := t.backend.PredictImpact(ctx, command)
	if err != nil {
		return backendError("predict impact", err), nil
	}
	if imp.Samples == 0 {
		return result(imp, fmt.Sprintf("No history for `%s`.", command)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Impact of `%s`\n\n", command)
	fmt.Fprintf(&b, "- **CPU**: %+.1f%%\n", imp.CPU)
	fmt.Fprintf(&b, "- **Memory**: %+.1f%%\n", imp.Memory)
	fmt.Fprintf(&b, "- **Disk IO**: %+.1f\n", imp.IO)
	fmt.Fprintf(&b, "- **Network IO**: %+.1f\n", imp.Network)
	fmt.Fprintf(&b, "- **Duration**: %.0fms\n", imp.DurationMs)
	fmt.Fprintf(&b, "- **Confidence**: %.2f (%d samples)\n", imp.Confidence, imp.Samples)
	return result(imp, b.String()), nil
}
