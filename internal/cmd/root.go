// Package cmd implements the cmdintel command line.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Command groups shown in help output.
const (
	groupEngine = "engine"
	groupDaemon = "daemon"
	groupSetup  = "setup"
)

var (
	// localMode runs the engine in-process instead of asking the daemon.
	localMode bool

	// jsonOutput prints raw results as JSON.
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "cmdintel",
	Short: "adaptive command intelligence for any shell",
	Long: `cmdintel - learns from the commands you run
  - predicts what you will run next and when to run it
  - recognizes recurring workflows and project types
  - remembers how you recovered from errors`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		applyColorMode()
	},
}

// exitError carries a process exit code without a message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command
func Execute() error {
	err := rootCmd.Execute()
	var exitErr *exitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	if err != nil {
		return 1
	}
	return 0
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupEngine, Title: "Engine Commands:"},
		&cobra.Group{ID: groupDaemon, Title: "Daemon Commands:"},
		&cobra.Group{ID: groupSetup, Title: "Setup Commands:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&localMode, "local", false, "run the engine in-process instead of using the daemon")
	pf.BoolVar(&jsonOutput, "json", false, "print results as JSON")
	pf.StringVar(&colorMode, "color", "auto", "color output: auto, always, or never")
}
