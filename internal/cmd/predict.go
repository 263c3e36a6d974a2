package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rinawarp/cmdintel/internal/ipc"
)

var predictSession string

var predictCmd = &cobra.Command{
	Use:   "predict [recent-command...]",
	Short: "Predict the next commands",
	Long: `Predict the commands you are most likely to run next.

Each argument is one recent command, oldest first. Without arguments the
session's own recent history is used.

Examples:
  cmdintel predict
  cmdintel predict "git add ." "git commit -m wip"`,
	GroupID: groupEngine,
	RunE:    runPredict,
}

var timingCmd = &cobra.Command{
	Use:   "timing <command...>",
	Short: "Advise whether to run a command now",
	Long: `Advise whether to run a command now or wait, based on current
system load and the hours the command is usually run.

Examples:
  cmdintel timing make release`,
	GroupID: groupEngine,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runTiming,
}

var impactCmd = &cobra.Command{
	Use:   "impact <command...>",
	Short: "Estimate the resource impact of a command",
	Long: `Estimate how a command changes CPU, memory, disk and network load
and how long it usually takes, from its recorded runs.

Examples:
  cmdintel impact docker compose build`,
	GroupID: groupEngine,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runImpact,
}

func init() {
	predictCmd.Flags().StringVar(&predictSession, "session", "", "shell session id (default: $CMDINTEL_SESSION_ID)")
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(timingCmd)
	rootCmd.AddCommand(impactCmd)
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	session := firstNonEmpty(predictSession, os.Getenv("CMDINTEL_SESSION_ID"))

	return withBackend(ctx, func(b ipc.Backend) error {
		preds, err := b.PredictNextCommands(ctx, session, args)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, ipc.PredictResponse{Predictions: preds})
		}

		if len(preds) == 0 {
			fmt.Printf("%sNo predictions yet.%s\n", colorDim, colorReset)
			return nil
		}
		for i, p := range preds {
			fmt.Printf("%2d. %s %s(%.2f)%s\n", i+1, fitWidth(p.Command, 16), colorDim, p.Score, colorReset)
		}
		return nil
	})
}

func runTiming(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	command := joinArgs(args)

	return withBackend(ctx, func(b ipc.Backend) error {
		timing, err := b.SuggestTiming(ctx, command)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, timing)
		}

		if timing.ShouldWait {
			fmt.Printf("%swait%s  %s\n", colorYellow, colorReset, timing.Reason)
		} else {
			fmt.Printf("%snow%s   %s\n", colorGreen, colorReset, timing.Reason)
		}
		if len(timing.PeakHours) > 0 {
			hours := make([]string, len(timing.PeakHours))
			for i, h := range timing.PeakHours {
				hours[i] = fmt.Sprintf("%02d:00", h)
			}
			fmt.Printf("Usually run at: %s\n", strings.Join(hours, ", "))
		}
		return nil
	})
}

func runImpact(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	command := joinArgs(args)

	return withBackend(ctx, func(b ipc.Backend) error {
		imp, err := b.PredictImpact(ctx, command)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, imp)
		}

		if imp.Samples == 0 {
			fmt.Printf("%sNo history for %q.%s\n", colorDim, command, colorReset)
			return nil
		}
		fmt.Printf("%sImpact of %s%s\n", colorBold, command, colorReset)
		fmt.Println(strings.Repeat("-", 40))
		fmt.Printf("  CPU:        %+.1f%%\n", imp.CPU)
		fmt.Printf("  Memory:     %+.1f%%\n", imp.Memory)
		fmt.Printf("  Disk IO:    %+.1f\n", imp.IO)
		fmt.Printf("  Network IO: %+.1f\n", imp.Network)
		fmt.Printf("  Duration:   %.0fms\n", imp.DurationMs)
		fmt.Printf("  Confidence: %.2f (%d samples)\n", imp.Confidence, imp.Samples)
		return nil
	})
}
