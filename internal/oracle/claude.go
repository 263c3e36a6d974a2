package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// runner executes the CLI with the prompt on stdin and returns stdout.
type runner func(ctx context.Context, path string, args []string, stdin string) (string, error)

// ClaudeCLI asks the Claude CLI (`claude --print`) for a diagnosis.
type ClaudeCLI struct {
	model    string
	redactor *Redactor
	lookPath func(string) (string, error)
	run      runner
}

// ClaudeOptions configures ClaudeCLI.
type ClaudeOptions struct {
	Model string
	// Redact strips secrets from commands and error text before they
	// leave the process.
	Redact bool
}

// NewClaudeCLI creates a Claude CLI oracle.
func NewClaudeCLI(opts ClaudeOptions) *ClaudeCLI {
	c := &ClaudeCLI{
		model:    opts.Model,
		lookPath: exec.LookPath,
		run:      runCLI,
	}
	if opts.Redact {
		c.redactor = NewRedactor()
	}
	return c
}

// Available reports whether the claude binary is on PATH.
func (c *ClaudeCLI) Available() bool {
	_, err := c.lookPath("claude")
	return err == nil
}

// ExplainError implements Oracle.
func (c *ClaudeCLI) ExplainError(ctx context.Context, req Request) (*Explanation, error) {
	path, err := c.lookPath("claude")
	if err != nil {
		return nil, fmt.Errorf("%w: claude CLI not found", ErrUnavailable)
	}

	if c.redactor != nil {
		req.Command = c.redactor.Redact(req.Command)
		req.Error = c.redactor.Redact(req.Error)
	}

	args := []string{"--print"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}

	out, err := c.run(ctx, path, args, buildPrompt(req))
	if err != nil {
		return nil, err
	}

	analysis, suggestions := ParseDiagnosis(out)
	return &Explanation{Analysis: analysis, Suggestions: suggestions}, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("A shell command failed. Explain the cause in one or two sentences, ")
	b.WriteString("then list up to 3 fix commands, one per line, each prefixed with \"$ \".\n\n")
	if req.OS != "" {
		fmt.Fprintf(&b, "OS: %s\n", req.OS)
	}
	if req.Directory != "" {
		fmt.Fprintf(&b, "Directory: %s\n", req.Directory)
	}
	if req.ProjectType != "" {
		fmt.Fprintf(&b, "Project type: %s\n", req.ProjectType)
	}
	if len(req.Dependencies) > 0 {
		deps := req.Dependencies
		if len(deps) > 20 {
			deps = deps[:20]
		}
		fmt.Fprintf(&b, "Dependencies: %s\n", strings.Join(deps, ", "))
	}
	fmt.Fprintf(&b, "Command: %s\n", req.Command)
	if req.ExitCode != 0 {
		fmt.Fprintf(&b, "Exit code: %d\n", req.ExitCode)
	}
	if req.Error != "" {
		fmt.Fprintf(&b, "Error output:\n%s\n", req.Error)
	}
	return b.String()
}

func runCLI(ctx context.Context, path string, args []string, stdin string) (string, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", fmt.Errorf("interrupted: %w", ctx.Err())
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("timeout: %w", ctx.Err())
		}
		if stderr.Len() > 0 {
			return "", fmt.Errorf("claude error: %s", strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("failed to get response from claude: %w", err)
	}

	return strings.TrimSpace(stdout.String()), nil
}
