package daemon

import (
	"errors"
	"fmt"
	"os"
	"runtime"
)

// ErrRunningAsRoot is returned when the daemon detects it is running as root.
var ErrRunningAsRoot = errors.New("refusing to run as root: the daemon stores the invoking user's command history")

// geteuid is replaced in tests.
var geteuid = os.Geteuid

// CheckNotRoot returns ErrRunningAsRoot when the effective UID is 0.
// The check is skipped on Windows.
func CheckNotRoot() error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if geteuid() == 0 {
		return ErrRunningAsRoot
	}
	return nil
}

// EnsureSecureDirectory creates dirPath with mode 0700, or tightens an
// existing directory to 0700. The socket inside it is the only access
// control the daemon has.
func EnsureSecureDirectory(dirPath string) error {
	if runtime.GOOS == "windows" {
		return os.MkdirAll(dirPath, 0o700)
	}

	info, err := os.Stat(dirPath)
	if os.IsNotExist(err) {
		return os.MkdirAll(dirPath, 0o700)
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory %s: %w", dirPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists but is not a directory", dirPath)
	}

	if info.Mode().Perm() != 0o700 {
		if err := os.Chmod(dirPath, 0o700); err != nil { //nolint:gosec // G302: 0700 is appropriate for daemon runtime directory
			return fmt.Errorf("failed to fix permissions on %s: %w", dirPath, err)
		}
	}
	return nil
}
