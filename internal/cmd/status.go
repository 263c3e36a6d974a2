package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rinawarp/cmdintel/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cmdintel status",
	Long: `Show the current status of cmdintel, including:
- Daemon status (running/stopped)
- Configuration file location
- Pattern store location and size
- AI oracle settings

Examples:
  cmdintel status`,
	GroupID: groupSetup,
	Args:    cobra.NoArgs,
	RunE:    runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	paths := config.DefaultPaths()
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("%sWarning:%s %v (using defaults)\n", colorYellow, colorReset, err)
		cfg = config.DefaultConfig()
	}

	fmt.Printf("%scmdintel Status%s\n", colorBold, colorReset)
	fmt.Println(strings.Repeat("-", 40))

	fmt.Println()
	printDaemonStatus(commandContext(cmd), cfg)

	fmt.Printf("\n%sConfiguration:%s\n", colorBold, colorReset)
	configFile := paths.ConfigFile()
	if _, err := os.Stat(configFile); err == nil {
		fmt.Printf("  File:     %s\n", configFile)
	} else {
		fmt.Printf("  File:     %s (not found, using defaults)\n", configFile)
	}
	fmt.Printf("  Oracle:   %s (%s)\n", formatBool(cfg.Oracle.Enabled), cfg.Oracle.Provider)
	fmt.Printf("  Redact:   %s\n", formatBool(cfg.Oracle.Redact))

	fmt.Printf("\n%sStorage:%s\n", colorBold, colorReset)
	if cfg.Store.Backend == "memory" {
		fmt.Printf("  Backend:  memory (nothing persisted)\n")
		return nil
	}
	dbFile, _, _ := paths.Resolve(cfg)
	if info, err := os.Stat(dbFile); err == nil {
		fmt.Printf("  Database: %s (%s)\n", dbFile, formatSize(info.Size()))
	} else {
		fmt.Printf("  Database: %s (not created)\n", dbFile)
	}

	return nil
}

func formatBool(b bool) string {
	if b {
		return colorGreen + "enabled" + colorReset
	}
	return colorDim + "disabled" + colorReset
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
