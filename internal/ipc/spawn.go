package ipc

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sys/execabs"
)

// DaemonBinaryName is the name of the daemon executable
const DaemonBinaryName = "cmdinteld"

var (
	// Test seams for daemon spawn and socket probing behavior.
	quickDialFn = func(socketPath string, timeout time.Duration) (io.Closer, error) {
		return Dial(socketPath, timeout)
	}
	socketExistsFn = SocketExists
	removeFileFn   = os.Remove
	startFn        = func(cmd *exec.Cmd) error { return cmd.Start() }

	// Retry transient socket dial failures before deleting an existing socket.
	staleSocketDialAttempts = 3
	staleSocketRetryDelay   = 25 * time.Millisecond
)

// EnsureDaemon returns nil when a daemon answers on socketPath, and
// otherwise removes a stale socket and spawns one without waiting for it.
func EnsureDaemon(ctx context.Context, socketPath string, dialTimeout time.Duration) error {
	if socketExistsFn(socketPath) {
		conn, err := quickDialFn(socketPath, dialTimeout)
		if err == nil {
			if conn != nil {
				_ = conn.Close()
			}
			return nil
		}
	}
	return SpawnDaemon(ctx, socketPath, dialTimeout)
}

// SpawnDaemon starts the daemon process in the background.
// It does not wait for the daemon to be ready.
func SpawnDaemon(ctx context.Context, socketPath string, dialTimeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	runDir := filepath.Dir(socketPath)
	if err := os.MkdirAll(runDir, 0o700); err != nil {
		return fmt.Errorf("failed to create run dir: %w", err)
	}
	if err := removeStaleSocket(ctx, socketPath, dialTimeout); err != nil {
		return err
	}

	daemonPath, err := findDaemonBinary()
	if err != nil {
		return err
	}

	logFile, err := os.OpenFile(filepath.Join(runDir, "spawn.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		logFile, _ = os.Open(os.DevNull)
	}
	defer logFile.Close()

	// execabs prevents executing binaries resolved to relative paths.
	cmd := execabs.Command(daemonPath, "--socket", socketPath)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	detachDaemon(cmd)

	if err := startFn(cmd); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	// The child outlives us; never Wait on it.
	return nil
}

// SpawnAndWait spawns the daemon and waits until it accepts connections.
func SpawnAndWait(ctx context.Context, socketPath string, timeout time.Duration) error {
	if err := SpawnDaemon(ctx, socketPath, DialTimeout); err != nil {
		return err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("daemon did not start within %v", timeout)
		case <-ticker.C:
			if !socketExistsFn(socketPath) {
				continue
			}
			if conn, err := quickDialFn(socketPath, DialTimeout); err == nil {
				if conn != nil {
					_ = conn.Close()
				}
				return nil
			}
		}
	}
}

// findDaemonBinary looks at CMDINTEL_DAEMON_PATH, next to the running
// executable, then PATH.
func findDaemonBinary() (string, error) {
	if path := os.Getenv("CMDINTEL_DAEMON_PATH"); path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to resolve CMDINTEL_DAEMON_PATH: %w", err)
		}
		if _, err := os.Stat(absPath); err == nil {
			return absPath, nil
		}
	}

	if exe, err := os.Executable(); err == nil {
		daemonPath := filepath.Join(filepath.Dir(exe), DaemonBinaryName)
		if _, err := os.Stat(daemonPath); err == nil {
			return daemonPath, nil
		}
	}

	if path, err := exec.LookPath(DaemonBinaryName); err == nil {
		if absPath, absErr := filepath.Abs(path); absErr == nil {
			return absPath, nil
		}
		return path, nil
	}

	return "", fmt.Errorf("daemon binary '%s' not found", DaemonBinaryName)
}

// IsDaemonRunning reports whether a daemon answers on socketPath.
func IsDaemonRunning(socketPath string) bool {
	if !SocketExists(socketPath) {
		return false
	}
	conn, err := Dial(socketPath, DialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func removeStaleSocket(ctx context.Context, socketPath string, dialTimeout time.Duration) error {
	if !socketExistsFn(socketPath) {
		return nil
	}

	// Retry dial a few times to avoid deleting an active socket after
	// a transient connection failure.
	for attempt := 0; attempt < staleSocketDialAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := quickDialFn(socketPath, dialTimeout)
		if err == nil {
			if conn != nil {
				_ = conn.Close()
			}
			return nil
		}
		if attempt < staleSocketDialAttempts-1 {
			timer := time.NewTimer(staleSocketRetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	if err := removeFileFn(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return nil
}
