package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rinawarp/cmdintel/internal/config"
	"github.com/rinawarp/cmdintel/internal/ipc"
)

// openBackend returns the engine backend used by CLI commands and a
// function releasing it. Tests replace it.
var openBackend = defaultOpenBackend

// defaultOpenBackend prefers the daemon and falls back to an in-process
// engine over the same store when the daemon cannot be reached.
func defaultOpenBackend(ctx context.Context) (ipc.Backend, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if !localMode && cfg.Store.Backend != "memory" {
		socketPath, _, _ := runtimeFiles(cfg)
		client, err := ipc.NewClient(ipc.Options{
			SocketPath:  socketPath,
			DialTimeout: millis(cfg.Daemon.ConnectTimeout),
			Spawn:       cfg.Daemon.AutoStart,
		})
		if err == nil {
			return client, func() { _ = client.Close() }, nil
		}
	}

	// A one-shot process gains nothing from watching the workspace.
	local := *cfg
	local.Workspace.Watch = false
	rt, err := OpenEngine(&local, NewLogger(os.Stderr, cliLogLevel(cfg)))
	if err != nil {
		return nil, nil, err
	}
	return ipc.NewLocal(rt.Engine), func() { _ = rt.Close() }, nil
}

// cliLogLevel keeps the CLI quiet unless debug logging is configured.
func cliLogLevel(cfg *config.Config) string {
	if cfg.Daemon.LogLevel == "debug" {
		return "debug"
	}
	return "warn"
}

// runtimeFiles returns the daemon socket, PID file and runtime directory.
// The PID file lives next to the socket so an overridden socket path
// moves both.
func runtimeFiles(cfg *config.Config) (socketPath, pidPath, runtimeDir string) {
	_, socketPath, _ = config.DefaultPaths().Resolve(cfg)
	runtimeDir = filepath.Dir(socketPath)
	pidPath = filepath.Join(runtimeDir, "cmdintel.pid")
	return socketPath, pidPath, runtimeDir
}

// withBackend opens the backend, runs fn and releases the backend.
func withBackend(ctx context.Context, fn func(ipc.Backend) error) error {
	backend, release, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(backend)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
