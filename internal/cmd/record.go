package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rinawarp/cmdintel/internal/engine"
	"github.com/rinawarp/cmdintel/internal/ipc"
)

// maxCommandLen bounds a recorded command in bytes.
const maxCommandLen = 16 * 1024

var (
	recordExit       int
	recordDurationMs int64
	recordDir        string
	recordSession    string
	recordStdin      bool
)

var recordCmd = &cobra.Command{
	Use:   "record [flags] -- <command...>",
	Short: "Record a finished command",
	Long: `Record a finished command so it can shape future predictions.

Designed to be called from a shell hook after every command. Recording
never fails the hook: when the engine cannot be reached the event is
dropped with a warning on stderr.

The session defaults to $CMDINTEL_SESSION_ID and the directory to the
current working directory.

Examples:
  cmdintel record --exit 0 --duration-ms 1200 -- go test ./...
  printf '%s' "$cmd" | cmdintel record --stdin --exit $?`,
	GroupID: groupEngine,
	RunE:    runRecord,
}

func init() {
	recordCmd.Flags().IntVar(&recordExit, "exit", 0, "exit code of the command")
	recordCmd.Flags().Int64Var(&recordDurationMs, "duration-ms", 0, "run time in milliseconds")
	recordCmd.Flags().StringVar(&recordDir, "dir", "", "working directory (default: current)")
	recordCmd.Flags().StringVar(&recordSession, "session", "", "shell session id (default: $CMDINTEL_SESSION_ID)")
	recordCmd.Flags().BoolVar(&recordStdin, "stdin", false, "read the command from stdin")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	command, err := recordedCommand(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	if recordDurationMs < 0 {
		return fmt.Errorf("--duration-ms must be >= 0")
	}

	ex := engine.Execution{
		Session:  firstNonEmpty(recordSession, os.Getenv("CMDINTEL_SESSION_ID")),
		Command:  command,
		Dir:      firstNonEmpty(recordDir, workingDir()),
		ExitCode: recordExit,
		Duration: time.Duration(recordDurationMs) * time.Millisecond,
	}

	ctx := commandContext(cmd)
	err = withBackend(ctx, func(b ipc.Backend) error {
		accepted, err := b.Record(ctx, ex)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, ipc.RecordResponse{Accepted: accepted})
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cmdintel: record skipped: %v\n", err)
	}
	return nil
}

// recordedCommand returns the command from stdin or the positional args.
func recordedCommand(stdin io.Reader, args []string) (string, error) {
	var command string
	if recordStdin {
		data, err := io.ReadAll(io.LimitReader(stdin, maxCommandLen+1))
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		command = string(data)
	} else {
		command = joinArgs(args)
	}

	command = strings.TrimSpace(command)
	if command == "" {
		return "", fmt.Errorf("no command given")
	}
	if len(command) > maxCommandLen {
		return "", fmt.Errorf("command exceeds %d bytes", maxCommandLen)
	}
	return command, nil
}

// joinArgs rebuilds a command line from positional arguments.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func workingDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return dir
}
