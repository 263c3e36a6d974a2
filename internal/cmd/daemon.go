package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rinawarp/cmdintel/internal/config"
	"github.com/rinawarp/cmdintel/internal/daemon"
	"github.com/rinawarp/cmdintel/internal/ipc"
)

// daemonStartTimeout bounds how long `daemon start` waits for the socket.
const daemonStartTimeout = 5 * time.Second

var daemonSocket string

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	Short:   "Manage the background engine daemon",
	GroupID: groupDaemon,
	Long: `Manage the cmdinteld daemon.

The daemon keeps the engine and its store open so shell hooks can record
commands without waiting, and predictions come from warm caches. The CLI
starts it on demand unless daemon.auto_start is false.

Subcommands:
  start  - Start the daemon (runs in background)
  stop   - Stop the daemon
  status - Check if daemon is running`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the background daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		socketPath, pidPath, runtimeDir := runtimeFiles(cfg)
		if daemon.IsRunning(pidPath, runtimeDir) && ipc.SocketExists(socketPath) {
			fmt.Printf("Daemon: %salready running%s\n", colorCyan, colorReset)
			return nil
		}

		fmt.Print("Starting daemon...")
		if err := ipc.SpawnAndWait(commandContext(cmd), socketPath, daemonStartTimeout); err != nil {
			fmt.Printf(" %sfailed%s\n", colorRed, colorReset)
			return err
		}
		fmt.Printf(" %sready%s\n", colorCyan, colorReset)
		if cfg.Daemon.IdleTimeoutMins > 0 {
			fmt.Printf("Daemon will auto-stop after %d minutes of inactivity.\n", cfg.Daemon.IdleTimeoutMins)
		}
		return nil
	},
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground (internal use)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunDaemon(commandContext(cmd), daemonSocket)
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		_, pidPath, runtimeDir := runtimeFiles(cfg)

		err = daemon.Stop(pidPath, runtimeDir, daemonStartTimeout)
		if errors.Is(err, daemon.ErrNotRunning) {
			fmt.Printf("Daemon: %snot running%s\n", colorDim, colorReset)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println("Daemon stopped.")
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		printDaemonStatus(commandContext(cmd), cfg)
		return nil
	},
}

func init() {
	daemonRunCmd.Flags().StringVar(&daemonSocket, "socket", "", "socket path (overrides config)")

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonRunCmd)
	rootCmd.AddCommand(daemonCmd)
}

// printDaemonStatus reports whether the daemon runs and, when it answers,
// its version and uptime.
func printDaemonStatus(ctx context.Context, cfg *config.Config) {
	socketPath, pidPath, runtimeDir := runtimeFiles(cfg)
	if !daemon.IsRunning(pidPath, runtimeDir) {
		fmt.Printf("Daemon: %snot running%s\n", colorDim, colorReset)
		return
	}

	client, err := ipc.NewClient(ipc.Options{SocketPath: socketPath, DialTimeout: millis(cfg.Daemon.ConnectTimeout)})
	if err != nil {
		fmt.Printf("Daemon: %srunning but not answering%s (%v)\n", colorYellow, colorReset, err)
		return
	}
	defer client.Close()

	ping, err := client.Ping(ctx)
	if err != nil {
		fmt.Printf("Daemon: %srunning but not answering%s (%v)\n", colorYellow, colorReset, err)
		return
	}
	fmt.Printf("Daemon: %srunning%s\n", colorGreen, colorReset)
	fmt.Printf("  PID:     %d\n", ping.PID)
	fmt.Printf("  Version: %s\n", ping.Version)
	fmt.Printf("  Uptime:  %s\n", time.Duration(ping.UptimeSeconds)*time.Second)
	fmt.Printf("  Socket:  %s\n", socketPath)
}

// RunDaemon loads the configuration, opens the engine and serves it on
// the daemon socket until a shutdown signal, the idle timeout or ctx ends
// it. socketOverride replaces the configured socket path when set.
func RunDaemon(ctx context.Context, socketOverride string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if socketOverride != "" {
		cfg.Daemon.SocketPath = socketOverride
	}

	paths := config.DefaultPaths()
	if err := paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Daemon.LogLevel))
	_, _, logPath := paths.Resolve(cfg)
	logOut, closeLog := openLogFile(logPath)
	defer closeLog()
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	rt, err := OpenEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("engine shutdown failed", "error", err)
		}
	}()

	socketPath, pidPath, _ := runtimeFiles(cfg)
	return daemon.Run(ctx, &daemon.ServerConfig{
		Engine:      rt.Engine,
		SocketPath:  socketPath,
		PIDPath:     pidPath,
		Logger:      logger,
		IdleTimeout: time.Duration(cfg.Daemon.IdleTimeoutMins) * time.Minute,
		ReloadFn: func() error {
			next, err := config.Load()
			if err != nil {
				return err
			}
			level.Set(ParseLevel(next.Daemon.LogLevel))
			return nil
		},
	})
}

// openLogFile appends to path, falling back to stderr.
func openLogFile(path string) (io.Writer, func()) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return os.Stderr, func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return os.Stderr, func() {}
	}
	return f, func() { _ = f.Close() }
}
