package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rinawarp/cmdintel/internal/ipc"
	"github.com/rinawarp/cmdintel/internal/workflow"
)

var (
	workflowDir string
	nextLimit   int
)

var nextCmd = &cobra.Command{
	Use:   "next <command...>",
	Short: "Suggest commands that usually follow a command",
	Long: `Suggest commands that usually follow the given command, ranked by
how often the transition succeeded and how closely the current directory
matches where it was seen.

Examples:
  cmdintel next git add .
  cmdintel next --limit 3 npm install`,
	GroupID: groupEngine,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runNext,
}

var workflowCmd = &cobra.Command{
	Use:     "workflow",
	Short:   "Query learned workflows",
	GroupID: groupEngine,
	Long: `Query the multi-step workflows learned from recurring command
sequences.

Subcommands:
  suggest  - Best workflow containing a command
  detect   - Workflows matching a list of commands`,
}

var workflowSuggestCmd = &cobra.Command{
	Use:   "suggest <command...>",
	Short: "Show the best workflow containing a command",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWorkflowSuggest,
}

var workflowDetectCmd = &cobra.Command{
	Use:   "detect <command> [command...]",
	Short: "Show workflows matching the given commands",
	Long: `Show learned workflows similar to the given commands. Quote each
command as one argument.

Examples:
  cmdintel workflow detect "git add ." "git commit" "git push"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWorkflowDetect,
}

var projectCmd = &cobra.Command{
	Use:   "project [dir]",
	Short: "Detect the project type of a directory",
	Long: `Detect the project type of a directory (default: current) from its
dependencies, compose files and marker files, and list the workflows
recorded there.`,
	GroupID: groupEngine,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runProject,
}

func init() {
	nextCmd.Flags().StringVar(&workflowDir, "dir", "", "working directory (default: current)")
	nextCmd.Flags().IntVar(&nextLimit, "limit", 0, "max suggestions (default: configured)")
	workflowSuggestCmd.Flags().StringVar(&workflowDir, "dir", "", "working directory (default: current)")

	workflowCmd.AddCommand(workflowSuggestCmd)
	workflowCmd.AddCommand(workflowDetectCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(projectCmd)
}

func runNext(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	command := joinArgs(args)
	if nextLimit < 0 {
		return fmt.Errorf("--limit must be >= 0")
	}

	return withBackend(ctx, func(b ipc.Backend) error {
		suggestions, err := b.SuggestNextCommands(ctx, command, firstNonEmpty(workflowDir, workingDir()), nextLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, ipc.NextCommandsResponse{Suggestions: suggestions})
		}

		if len(suggestions) == 0 {
			fmt.Printf("%sNothing recorded after %q yet.%s\n", colorDim, command, colorReset)
			return nil
		}
		for i, s := range suggestions {
			fmt.Printf("%2d. %s %s(%.2f)%s\n", i+1, fitWidth(s.Command, 16), colorDim, s.Confidence, colorReset)
		}
		return nil
	})
}

func runWorkflowSuggest(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	command := joinArgs(args)

	return withBackend(ctx, func(b ipc.Backend) error {
		wf, err := b.SuggestWorkflow(ctx, command, firstNonEmpty(workflowDir, workingDir()))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, ipc.WorkflowResponse{Workflow: wf})
		}

		if wf == nil {
			fmt.Printf("%sNo learned workflow contains %q.%s\n", colorDim, command, colorReset)
			return nil
		}
		printWorkflow(*wf)
		return nil
	})
}

func runWorkflowDetect(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	return withBackend(ctx, func(b ipc.Backend) error {
		workflows, err := b.DetectWorkflow(ctx, args)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, ipc.DetectWorkflowResponse{Workflows: workflows})
		}

		if len(workflows) == 0 {
			fmt.Printf("%sNo learned workflow matches these commands.%s\n", colorDim, colorReset)
			return nil
		}
		for i, wf := range workflows {
			if i > 0 {
				fmt.Println()
			}
			printWorkflow(wf)
		}
		return nil
	})
}

func runProject(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	dir := workingDir()
	if len(args) == 1 {
		dir = args[0]
	}

	return withBackend(ctx, func(b ipc.Backend) error {
		info, err := b.DetectProjectType(ctx, dir)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, info)
		}

		fmt.Printf("Project:    %s%s%s\n", colorCyan, info.Type, colorReset)
		fmt.Printf("Confidence: %.2f\n", info.Confidence)
		if info.Signal != "" {
			fmt.Printf("Signal:     %s\n", info.Signal)
		}
		if len(info.Patterns) > 0 {
			fmt.Printf("\n%sWorkflows%s\n", colorBold, colorReset)
			for _, p := range info.Patterns {
				fmt.Printf("  - %s %s(seen %d times)%s\n", p.Name(), colorDim, p.Frequency, colorReset)
			}
		}
		return nil
	})
}

func printWorkflow(wf workflow.ScoredPattern) {
	fmt.Printf("%s%s%s %s(score %.2f, seen %d times)%s\n", colorBold, wf.Name(), colorReset, colorDim, wf.Score, wf.Frequency, colorReset)
	fmt.Println(strings.Repeat("-", 40))
	for i, s := range wf.Steps {
		fmt.Printf("%2d. %s %s(%.0f%% success)%s\n", i+1, fitWidth(s.Command, 24), colorDim, s.SuccessRate*100, colorReset)
	}
}
