package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/rinawarp/cmdintel/internal/ipc"
	"github.com/rinawarp/cmdintel/internal/picker"
)

// Picker exit codes, as expected by shell key bindings:
//
//	0 = selection made (use the result)
//	1 = cancelled by user (keep original input)
//	2 = fallback (no TTY, error)
const (
	exitCancelled = 1
	exitFallback  = 2
)

// maxQueryLen is the maximum length of a query string in bytes.
const maxQueryLen = 4096

var (
	pickQuery   string
	pickSession string
	pickLast    string
	pickDir     string
)

var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Interactively pick a suggested command",
	Long: `Open a picker with predicted next commands, commands that usually
follow the last one and the next steps of the matching workflow. The
chosen command is printed to stdout for the shell to insert.

The picker draws on /dev/tty so it can be used inside $(...).

Exit codes:
  0  Selection made
  1  Cancelled
  2  No usable terminal

Examples:
  cmdintel pick --last "$(fc -ln -1)"`,
	GroupID: groupEngine,
	Args:    cobra.NoArgs,
	RunE:    runPick,
}

func init() {
	pickCmd.Flags().StringVar(&pickQuery, "query", "", "initial filter (max 4096 bytes)")
	pickCmd.Flags().StringVar(&pickSession, "session", "", "shell session id (default: $CMDINTEL_SESSION_ID)")
	pickCmd.Flags().StringVar(&pickLast, "last", "", "the last command run")
	pickCmd.Flags().StringVar(&pickDir, "dir", "", "working directory (default: current)")
	rootCmd.AddCommand(pickCmd)
}

func runPick(cmd *cobra.Command, args []string) error {
	query, err := sanitizeQuery(pickQuery)
	if err != nil {
		return fmt.Errorf("--query: %w", err)
	}
	if os.Getenv("TERM") == "dumb" {
		fmt.Fprintln(os.Stderr, "cmdintel pick: TERM=dumb is not supported")
		return &exitError{code: exitFallback}
	}

	// stdout carries the result, so the UI talks to the terminal directly.
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cmdintel pick: no TTY available: %v\n", err)
		return &exitError{code: exitFallback}
	}
	defer tty.Close()

	// lipgloss would detect from the piped stdout and drop all color.
	lipgloss.SetColorProfile(termenv.NewOutput(tty).ColorProfile())

	ctx := commandContext(cmd)
	return withBackend(ctx, func(b ipc.Backend) error {
		tabs := picker.DefaultTabs(
			firstNonEmpty(pickSession, os.Getenv("CMDINTEL_SESSION_ID")),
			firstNonEmpty(pickDir, workingDir()),
			strings.TrimSpace(pickLast),
		)
		model := picker.NewModel(tabs, picker.NewEngineProvider(b))
		if query != "" {
			model = model.WithQuery(query)
		}

		p := tea.NewProgram(model,
			tea.WithAltScreen(),
			tea.WithInput(tty),
			tea.WithOutput(tty),
			tea.WithContext(ctx),
		)
		final, err := p.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cmdintel pick: TUI error: %v\n", err)
			return &exitError{code: exitFallback}
		}

		m, ok := final.(picker.Model)
		if !ok {
			return &exitError{code: exitFallback}
		}
		if m.IsCancelled() {
			return &exitError{code: exitCancelled}
		}
		if result := m.Result(); result != "" {
			fmt.Println(result)
		}
		return nil
	})
}

// sanitizeQuery strips control characters and validates the query string.
func sanitizeQuery(q string) (string, error) {
	if q == "" {
		return "", nil
	}
	if strings.ContainsAny(q, "\n\r") {
		return "", errors.New("query must not contain newlines")
	}

	// Strip control characters except tab.
	var b strings.Builder
	b.Grow(len(q))
	for _, r := range q {
		if r <= 0x1F && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	result := b.String()

	if len(result) > maxQueryLen {
		result = strings.ToValidUTF8(result[:maxQueryLen], "")
	}
	return result, nil
}
