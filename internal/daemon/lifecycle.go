package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ReloadFunc is a function called on SIGHUP to reload configuration.
type ReloadFunc func() error

// Run starts the daemon and blocks until shutdown.
// It handles signals for lifecycle management:
//   - SIGTERM/SIGINT: graceful shutdown (drain the ingestion queue, remove runtime files)
//   - SIGHUP: reload configuration
//   - SIGPIPE: ignored
func Run(ctx context.Context, cfg *ServerConfig) error {
	if err := CheckNotRoot(); err != nil {
		return err
	}
	if cfg == nil || cfg.SocketPath == "" {
		return fmt.Errorf("socket path is required")
	}

	runtimeDir := filepath.Dir(cfg.SocketPath)
	if err := EnsureSecureDirectory(runtimeDir); err != nil {
		return fmt.Errorf("failed to ensure secure runtime directory: %w", err)
	}

	lockFile := NewLockFile(LockFilePath(runtimeDir))
	if err := lockFile.Acquire(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lockFile.Release()

	server, err := NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signal.Ignore(syscall.SIGPIPE)

	sigChan := make(chan os.Signal, 4)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					server.logger.Info("received shutdown signal", "signal", sig)
					cancel()
					return
				case syscall.SIGHUP:
					if cfg.ReloadFn == nil {
						server.logger.Debug("no reload function configured, ignoring SIGHUP")
						continue
					}
					if err := cfg.ReloadFn(); err != nil {
						server.logger.Error("failed to reload configuration", "error", err)
					} else {
						server.logger.Info("configuration reloaded")
					}
				}
			case <-ctx.Done():
				return
			case <-server.Done():
				return
			}
		}
	}()

	return server.Start(ctx)
}

// IsRunning reports whether the daemon recorded in pidPath, or the
// holder of the lock in runtimeDir, is alive.
func IsRunning(pidPath, runtimeDir string) bool {
	return runningPID(pidPath, runtimeDir) > 0
}

// runningPID prefers the PID file and falls back to the lock holder,
// which covers a PID file overwritten by a failed spawn.
func runningPID(pidPath, runtimeDir string) int {
	if pid, err := ReadPID(pidPath); err == nil && isProcessAlive(pid) {
		return pid
	}
	lockPID, held, err := ReadHeldPID(LockFilePath(runtimeDir))
	if err != nil || !held || !isProcessAlive(lockPID) {
		return 0
	}
	return lockPID
}

// ReadPID reads the PID from the PID file.
func ReadPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID: %w", err)
	}
	return pid, nil
}

// ErrNotRunning is returned by Stop when no daemon is alive.
var ErrNotRunning = errors.New("daemon not running")

// Stop sends SIGTERM to the running daemon and waits up to timeout for
// it to exit before killing it.
func Stop(pidPath, runtimeDir string, timeout time.Duration) error {
	pid := runningPID(pidPath, runtimeDir)
	if pid <= 0 {
		return ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			// Graceful shutdown took too long.
			_ = process.Kill()
			return nil
		case <-ticker.C:
			if !isProcessAlive(pid) {
				return nil
			}
		}
	}
}

// CleanupStale removes the socket and PID file of a daemon that is no
// longer running.
func CleanupStale(socketPath, pidPath, runtimeDir string) error {
	if IsRunning(pidPath, runtimeDir) {
		return fmt.Errorf("daemon is still running")
	}
	for _, path := range []string{socketPath, pidPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

// WaitForSocket waits until socketPath exists, ctx is done or timeout
// elapses.
func WaitForSocket(ctx context.Context, socketPath string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(socketPath); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("socket not available after %v", timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
