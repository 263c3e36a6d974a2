package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rinawarp/cmdintel/internal/ipc"
	"github.com/rinawarp/cmdintel/internal/workflow"
)

// NextCommandsTool handles the suggest_next_commands MCP tool.
type NextCommandsTool struct {
	backend ipc.Backend
}

// NewNextCommandsTool creates a NextCommandsTool.
func NewNextCommandsTool(backend ipc.Backend) *NextCommandsTool {
	return &NextCommandsTool{backend: backend}
}

// Definition returns the MCP tool definition for suggest_next_commands.
func (t *NextCommandsTool) Definition() mcp.Tool {
	return mcp.NewTool("suggest_next_commands",
		mcp.WithDescription(
			"Suggest commands that usually follow a given command, weighted by how often the "+
				"transition succeeded and how similar the current directory is to where it was seen.",
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command just run"),
		),
		mcp.WithString("dir",
			mcp.Description("Working directory used to compare workspace context"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max suggestions (default: 5)"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the suggest_next_commands tool call.
func (t *NextCommandsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command := strings.TrimSpace(req.GetString("command", ""))
	if command == "" {
		return mcp.NewToolResultError("'command' is required"), nil
	}

	suggestions, err := t.backend.SuggestNextCommands(ctx, command, req.GetString("dir", ""), req.GetInt("limit", 0))
	if err != nil {
		return backendError("suggest next commands", err), nil
	}
	if len(suggestions) == 0 {
		return result(map[string]any{"suggestions": suggestions}, fmt.Sprintf("Nothing recorded after `%s` yet.", command)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## After `%s`\n\n", command)
	for i, s := range suggestions {
		fmt.Fprintf(&b, "%d. `%s` (confidence %.2f)\n", i+1, s.Command, s.Confidence)
	}
	return result(map[string]any{"suggestions": suggestions}, b.String()), nil
}

// SuggestWorkflowTool handles the suggest_workflow MCP tool.
type SuggestWorkflowTool struct {
	backend ipc.Backend
}

// NewSuggestWorkflowTool creates a SuggestWorkflowTool.
func NewSuggestWorkflowTool(backend ipc.Backend) *SuggestWorkflowTool {
	return &SuggestWorkflowTool{backend: backend}
}

// Definition returns the MCP tool definition for suggest_workflow.
func (t *SuggestWorkflowTool) Definition() mcp.Tool {
	return mcp.NewTool("suggest_workflow",
		mcp.WithDescription(
			"Find the best learned multi-step workflow that contains a command, preferring "+
				"workflows seen in projects like the current one.",
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("A command in the workflow"),
		),
		mcp.WithString("dir",
			mcp.Description("Working directory used to match project type and tech stack"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the suggest_workflow tool call.
func (t *SuggestWorkflowTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command := strings.TrimSpace(req.GetString("command", ""))
	if command == "" {
		return mcp.NewToolResultError("'command' is required"), nil
	}

	wf, err := t.backend.SuggestWorkflow(ctx, command, req.GetString("dir", ""))
	if err != nil {
		return backendError("suggest workflow", err), nil
	}
	if wf == nil {
		return result(map[string]any{"workflow": nil}, fmt.Sprintf("No learned workflow contains `%s`.", command)), nil
	}

	var b strings.Builder
	b.WriteString("## Suggested workflow\n\n")
	writeWorkflow(&b, *wf)
	return result(map[string]any{"workflow": wf}, b.String()), nil
}

// DetectWorkflowTool handles the detect_workflow MCP tool.
type DetectWorkflowTool struct {
	backend ipc.Backend
}

// NewDetectWorkflowTool creates a DetectWorkflowTool.
func NewDetectWorkflowTool(backend ipc.Backend) *DetectWorkflowTool {
	return &DetectWorkflowTool{backend: backend}
}

// Definition returns the MCP tool definition for detect_workflow.
func (t *DetectWorkflowTool) Definition() mcp.Tool {
	return mcp.NewTool("detect_workflow",
		mcp.WithDescription(
			"Identify which learned workflows a sequence of commands belongs to.",
		),
		mcp.WithArray("commands",
			mcp.Required(),
			mcp.WithStringItems(),
			mcp.Description("Commands in the order they were run"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the detect_workflow tool call.
func (t *DetectWorkflowTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	commands := cleanList(req.GetStringSlice("commands", nil))
	if len(commands) == 0 {
		return mcp.NewToolResultError("'commands' must contain at least one command"), nil
	}

	found, err := t.backend.DetectWorkflow(ctx, commands)
	if err != nil {
		return backendError("detect workflow", err), nil
	}
	if len(found) == 0 {
		return result(map[string]any{"workflows": found}, "No learned workflow matches these commands."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %d matching workflows\n\n", len(found))
	for _, wf := range found {
		writeWorkflow(&b, wf)
		b.WriteString("\n")
	}
	return result(map[string]any{"workflows": found}, b.String()), nil
}

// ProjectTypeTool handles the detect_project_type MCP tool.
type ProjectTypeTool struct {
	backend ipc.Backend
}

// NewProjectTypeTool creates a ProjectTypeTool.
func NewProjectTypeTool(backend ipc.Backend) *ProjectTypeTool {
	return &ProjectTypeTool{backend: backend}
}

// Definition returns the MCP tool definition for detect_project_type.
func (t *ProjectTypeTool) Definition() mcp.Tool {
	return mcp.NewTool("detect_project_type",
		mcp.WithDescription(
			"Infer the project type of a directory from its manifests and list the workflows "+
				"learned in projects of that type.",
		),
		mcp.WithString("dir",
			mcp.Required(),
			mcp.Description("Project directory"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

// Handle processes the detect_project_type tool call.
func (t *ProjectTypeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir := strings.TrimSpace(req.GetString("dir", ""))
	if dir == "" {
		return mcp.NewToolResultError("'dir' is required"), nil
	}

	info, err := t.backend.DetectProjectType(ctx, dir)
	if err != nil {
		return backendError("detect project type", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Project type: %s\n\n", info.Type)
	fmt.Fprintf(&b, "- **Confidence**: %.2f\n", info.Confidence)
	if info.Signal != "" {
		fmt.Fprintf(&b, "- **Signal**: %s\n", info.Signal)
	}
	if len(info.Patterns) > 0 {
		fmt.Fprintf(&b, "\n### Workflows (%d)\n\n", len(info.Patterns))
		for _, p := range info.Patterns {
			fmt.Fprintf(&b, "- %s (seen %d times)\n", p.Name(), p.Frequency)
		}
	}
	return result(info, b.String()), nil
}

func writeWorkflow(b *strings.Builder, wf workflow.ScoredPattern) {
	fmt.Fprintf(b, "**%s** (score %.2f, seen %d times)\n\n", wf.Name(), wf.Score, wf.Frequency)
	for i, s := range wf.Steps {
		fmt.Fprintf(b, "%d. `%s` (%.0f%% success)\n", i+1, s.Command, s.SuccessRate*100)
	}
}
