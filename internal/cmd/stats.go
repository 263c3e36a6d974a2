package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rinawarp/cmdintel/internal/engine"
	"github.com/rinawarp/cmdintel/internal/errorpattern"
	"github.com/rinawarp/cmdintel/internal/ipc"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what the engine has learned",
	Long: `Show the number of learned command patterns, workflows and error
patterns, the most frequent errors with their best recoveries, and the
state of the ingestion queue.`,
	GroupID: groupEngine,
	Args:    cobra.NoArgs,
	RunE:    runStats,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Enforce store capacity limits now",
	Long: `Evict the least valuable patterns from every namespace that is over
its configured capacity. The daemon also does this periodically.`,
	GroupID: groupEngine,
	Args:    cobra.NoArgs,
	RunE:    runPrune,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(pruneCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	return withBackend(ctx, func(b ipc.Backend) error {
		stats, err := b.Stats(ctx)
		if err != nil {
			return err
		}
		errStats, err := b.ErrorStats(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, struct {
				Engine *engine.Stats       `json:"engine"`
				Errors *errorpattern.Stats `json:"errors"`
			}{stats, errStats})
		}
		printStats(stats, errStats)
		return nil
	})
}

func printStats(stats *engine.Stats, errStats *errorpattern.Stats) {
	fmt.Printf("%sEngine%s\n", colorBold, colorReset)
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("  Command patterns: %d\n", stats.Patterns)
	fmt.Printf("  Workflow nodes:   %d\n", stats.WorkflowNodes)
	fmt.Printf("  Workflows:        %d\n", stats.WorkflowPatterns)
	fmt.Printf("  Error patterns:   %d\n", stats.ErrorPatterns)
	fmt.Printf("  Queue:            %d/%d (%d dropped)\n", stats.Queue.CurrentSize, stats.Queue.MaxSize, stats.Queue.TotalDropped)
	fmt.Printf("  Breaker:          %s (%d rejected)\n", stats.Breaker.State, stats.Breaker.TotalRejected)

	fmt.Printf("\n%sErrors%s\n", colorBold, colorReset)
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("  Recovery success rate: %.0f%%\n", errStats.RecoverySuccessRate*100)
	for _, p := range errStats.TopPatterns {
		fmt.Printf("  %s %s(seen %d times)%s\n", fitWidth(p.CommandPattern+": "+p.ErrorPattern, 20), colorDim, p.Frequency, colorReset)
		for _, r := range p.RecoveryActions {
			fmt.Printf("    -> %s %s(%.0f%%)%s\n", r.Command, colorDim, r.SuccessRate*100, colorReset)
		}
	}
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	return withBackend(ctx, func(b ipc.Backend) error {
		deleted, err := b.Prune(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(os.Stdout, ipc.PruneResponse{Deleted: deleted})
		}

		namespaces := make([]string, 0, len(deleted))
		for ns := range deleted {
			namespaces = append(namespaces, ns)
		}
		sort.Strings(namespaces)
		for _, ns := range namespaces {
			fmt.Printf("  %-18s %d removed\n", ns+":", deleted[ns])
		}
		return nil
	})
}
