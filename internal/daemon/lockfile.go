//go:build !windows

package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFile is an exclusive flock(2) lock that keeps a second daemon from
// serving the same store. The holder's PID is written into the file.
type LockFile struct {
	file *os.File
	path string
}

// NewLockFile creates a new LockFile at the specified path.
// The lock is not acquired until Acquire is called.
func NewLockFile(path string) *LockFile {
	return &LockFile{path: path}
}

// LockFilePath returns the lock file path inside runtimeDir.
func LockFilePath(runtimeDir string) string {
	return filepath.Join(runtimeDir, "cmdinteld.lock")
}

// ReadHeldPID returns the PID recorded in lockPath if the lock is
// currently held by another process. A missing or unheld file reports
// held=false.
func ReadHeldPID(lockPath string) (pid int, held bool, err error) {
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0) //nolint:gosec // G304: lock file path is from trusted config
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	err = flock(f, syscall.LOCK_EX|syscall.LOCK_NB)
	switch {
	case err == nil:
		_ = flock(f, syscall.LOCK_UN)
		return 0, false, nil
	case wouldBlock(err):
		return readPID(f), true, nil
	default:
		return 0, false, fmt.Errorf("flock: %w", err)
	}
}

// Acquire takes the lock without blocking. A lock left behind by a dead
// process is removed and retried once.
func (l *LockFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // G304: lock file path is from trusted config
		if err != nil {
			return fmt.Errorf("failed to open lock file: %w", err)
		}

		err = flock(f, syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			if err := writePID(f); err != nil {
				f.Close()
				return err
			}
			l.file = f
			return nil
		}

		holder := readPID(f)
		f.Close()
		if !wouldBlock(err) {
			return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
		}
		if attempt == 0 && holder > 0 && !isProcessAlive(holder) {
			os.Remove(l.path)
			continue
		}
		if holder > 0 {
			return fmt.Errorf("daemon already running (PID %d), lock file: %s", holder, l.path)
		}
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}
}

// Release unlocks and removes the lock file. It is safe to call more
// than once.
func (l *LockFile) Release() error {
	if l.file == nil {
		return nil
	}

	_ = flock(l.file, syscall.LOCK_UN)
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

func flock(f *os.File, how int) error {
	return syscall.Flock(int(f.Fd()), how) //nolint:gosec // G115: fd fits in int
}

func wouldBlock(err error) bool {
	return errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN)
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync lock file: %w", err)
	}
	return nil
}

// readPID reads a PID from an already-open file; 0 when unreadable.
func readPID(f *os.File) int {
	if _, err := f.Seek(0, 0); err != nil {
		return 0
	}
	buf := make([]byte, 32)
	n, err := f.Read(buf)
	if err != nil || n == 0 {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}

// isProcessAlive sends signal 0 to pid.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
