package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rinawarp/cmdintel/internal/engine"
	"github.com/rinawarp/cmdintel/internal/errorpattern"
	"github.com/rinawarp/cmdintel/internal/ipc"
)

// maxErrorLen bounds error text read from a file or stdin.
const maxErrorLen = 64 * 1024

var (
	errorExit   int
	errorText   string
	errorFile   string
	errorDir    string
	recoverFail bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [flags] -- <command...>",
	Short: "Suggest recoveries for a failed command",
	Long: `Analyze a failed command and suggest how to recover, from recoveries
that worked before and, when enabled, the AI oracle.

Error text comes from --error, or from --error-file ("-" reads stdin).
Without error text the failure is described by its exit code.

Examples:
  cmdintel analyze --exit 127 -- gti status
  make 2>&1 >/dev/null | cmdintel analyze --exit 2 --error-file - -- make`,
	GroupID: groupEngine,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runAnalyze,
}

var recoverCmd = &cobra.Command{
	Use:   "recover [flags] <failed-command> <recovery-command>",
	Short: "Record how a failure was recovered",
	Long: `Record that recovery-command was run to fix failed-command, and
whether it worked. Successful recoveries are suggested first the next
time the same error occurs.

Examples:
  cmdintel recover --exit 1 --error "Cannot find module 'x'" "npm test" "npm install"
  cmdintel recover --failed --exit 2 make "make clean"`,
	GroupID: groupEngine,
	Args:    cobra.ExactArgs(2),
	RunE:    runRecover,
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, recoverCmd} {
		c.Flags().IntVar(&errorExit, "exit", 1, "exit code of the failed command")
		c.Flags().StringVar(&errorText, "error", "", "error output of the failed command")
		c.Flags().StringVar(&errorFile, "error-file", "", `read error output from a file ("-" for stdin)`)
	}
	analyzeCmd.Flags().StringVar(&errorDir, "dir", "", "working directory (default: current)")
	recoverCmd.Flags().BoolVar(&recoverFail, "failed", false, "the recovery did not fix the error")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(recoverCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	text, err := readErrorText(cmd.InOrStdin())
	if err != nil {
		return err
	}
	f := engine.Failure{
		Command:  joinArgs(args),
		Error:    text,
		ExitCode: errorExit,
		Dir:      firstNonEmpty(errorDir, workingDir()),
	}

	return withBackend(ctx, func(b ipc.Backend) error {
		a, err := b.AnalyzeError(ctx, f)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, a)
		}
		printAnalysis(a)
		return nil
	})
}

func runRecover(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	text, err := readErrorText(cmd.InOrStdin())
	if err != nil {
		return err
	}
	req := ipc.RecoveryRequest{
		Command:  strings.TrimSpace(args[0]),
		Error:    text,
		ExitCode: errorExit,
		Recovery: strings.TrimSpace(args[1]),
		Success:  !recoverFail,
	}

	return withBackend(ctx, func(b ipc.Backend) error {
		if err := b.RecordRecoveryAttempt(ctx, req); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, req)
		}

		outcome := colorGreen + "succeeded" + colorReset
		if recoverFail {
			outcome = colorRed + "failed" + colorReset
		}
		fmt.Printf("Recorded: %s %s for %s\n", req.Recovery, outcome, req.Command)
		return nil
	})
}

// readErrorText returns --error, or the contents of --error-file.
func readErrorText(stdin io.Reader) (string, error) {
	if errorFile == "" {
		return errorText, nil
	}
	if errorText != "" {
		return "", fmt.Errorf("--error and --error-file are mutually exclusive")
	}

	r := stdin
	if errorFile != "-" {
		f, err := os.Open(errorFile)
		if err != nil {
			return "", fmt.Errorf("failed to open error file: %w", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, maxErrorLen))
	if err != nil {
		return "", fmt.Errorf("failed to read error text: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func printAnalysis(a *errorpattern.Analysis) {
	if a.Analysis != "" {
		fmt.Println(a.Analysis)
		fmt.Println()
	}
	if a.FailureClass != "" {
		fmt.Printf("Failure class: %s\n", a.FailureClass)
	}
	if len(a.Suggestions) == 0 {
		fmt.Printf("%sNo recovery suggestions yet.%s\n", colorDim, colorReset)
		return
	}

	fmt.Printf("\n%sSuggested recoveries%s\n", colorBold, colorReset)
	for i, s := range a.Suggestions {
		warn := ""
		if s.Destructive {
			warn = " " + colorRed + "[destructive]" + colorReset
		}
		fmt.Printf("%2d. %s %s(%s, %.2f)%s%s\n", i+1, fitWidth(s.Command, 32), colorDim, s.Source, s.Confidence, colorReset, warn)
	}
}
