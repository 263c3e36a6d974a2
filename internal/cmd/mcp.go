package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rinawarp/cmdintel/internal/config"
	"github.com/rinawarp/cmdintel/internal/ipc"
	"github.com/rinawarp/cmdintel/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the engine to AI agents over MCP (stdio)",
	Long: `Run a Model Context Protocol server on stdin/stdout so coding agents
can ask for predictions, workflows and error recoveries, and report
the commands they run.

Register it with an agent as a stdio server:
  {"command": "cmdintel", "args": ["mcp"]}`,
	GroupID: groupSetup,
	Args:    cobra.NoArgs,
	RunE:    runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := "info"
	if cfg, err := config.Load(); err == nil {
		level = cfg.Daemon.LogLevel
	}
	// stdout carries JSON-RPC, so logs go to stderr.
	logger := NewLogger(os.Stderr, level).With("component", "mcp")

	return withBackend(ctx, func(b ipc.Backend) error {
		s := mcpserver.New(b, mcpserver.Options{Version: Version, Logger: logger})
		err := mcpserver.Serve(ctx, s, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}
