//go:build windows

package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/windows"
)

const windowsStillActive = 259

// LockFile is an exclusive lock that keeps a second daemon from serving
// the same store. Windows has no flock, so ownership is the atomic
// creation of the file.
type LockFile struct {
	path string
	file *os.File
}

// NewLockFile creates a new LockFile at the specified path.
func NewLockFile(path string) *LockFile {
	return &LockFile{path: path}
}

// LockFilePath returns the lock file path inside runtimeDir.
func LockFilePath(runtimeDir string) string {
	return filepath.Join(runtimeDir, "cmdinteld.lock")
}

// ReadHeldPID returns the PID recorded in lockPath when the file exists.
func ReadHeldPID(lockPath string) (pid int, held bool, err error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("open lock file: %w", err)
	}
	pid, _ = strconv.Atoi(strings.TrimSpace(string(data)))
	return pid, true, nil
}

// Acquire creates the lock file exclusively. A lock left behind by a
// dead process is removed and retried once.
func (l *LockFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err == nil {
			if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
				f.Close()
				_ = os.Remove(l.path)
				return fmt.Errorf("failed to write PID to lock file: %w", err)
			}
			l.file = f
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
		}

		holder, _, _ := ReadHeldPID(l.path)
		if attempt == 0 && holder > 0 && !isProcessAlive(holder) {
			if os.Remove(l.path) == nil {
				continue
			}
		}
		if holder > 0 {
			return fmt.Errorf("daemon already running (PID %d), lock file: %s", holder, l.path)
		}
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}
}

// Release closes and removes the lock file.
func (l *LockFile) Release() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	l.file = nil

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *LockFile) Path() string {
	return l.path
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == windowsStillActive
}
