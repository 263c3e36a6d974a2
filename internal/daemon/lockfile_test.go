//go:build !windows

package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- LockFile Tests ---

func TestLockFile_AcquireRelease(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "test.lock")
	lf := NewLockFile(lockPath)
	require.NoError(t, lf.Acquire())

	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(data))

	require.NoError(t, lf.Release())
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err), "lock file removed after Release")

	require.NoError(t, lf.Release(), "Release is idempotent")
}

func TestLockFile_DoubleAcquireBlocked(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "test.lock")
	first := NewLockFile(lockPath)
	require.NoError(t, first.Acquire())
	t.Cleanup(func() { first.Release() })

	err := NewLockFile(lockPath).Acquire()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestLockFile_AcquireAfterRelease(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "test.lock")
	first := NewLockFile(lockPath)
	require.NoError(t, first.Acquire())
	require.NoError(t, first.Release())

	second := NewLockFile(lockPath)
	require.NoError(t, second.Acquire())
	require.NoError(t, second.Release())
}

func TestLockFile_StaleFileIsTakenOver(t *testing.T) {
	t.Parallel()

	// An unlocked file with a dead PID is what a crashed daemon leaves.
	lockPath := filepath.Join(t.TempDir(), "test.lock")
	require.NoError(t, os.WriteFile(lockPath, []byte("999999999\n"), 0o600))

	lf := NewLockFile(lockPath)
	require.NoError(t, lf.Acquire())
	t.Cleanup(func() { lf.Release() })

	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", os.Getpid()), string(data))
}

func TestLockFile_CreatesDirectory(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "nested", "run", "test.lock")
	lf := NewLockFile(lockPath)
	require.NoError(t, lf.Acquire())
	t.Cleanup(func() { lf.Release() })

	info, err := os.Stat(filepath.Dir(lockPath))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
	assert.Equal(t, lockPath, lf.Path())
}

func TestReadHeldPID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lockPath := filepath.Join(dir, "test.lock")

	pid, held, err := ReadHeldPID(lockPath)
	require.NoError(t, err)
	assert.False(t, held)
	assert.Zero(t, pid)

	lf := NewLockFile(lockPath)
	require.NoError(t, lf.Acquire())
	t.Cleanup(func() { lf.Release() })

	// flock is per open file description, so a second open sees it held.
	pid, held, err = ReadHeldPID(lockPath)
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, os.Getpid(), pid)
}

func TestLockFilePath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, filepath.Join("/run/x", "cmdinteld.lock"), LockFilePath("/run/x"))
}

func TestIsProcessAlive(t *testing.T) {
	t.Parallel()

	assert.True(t, isProcessAlive(os.Getpid()))
	assert.False(t, isProcessAlive(999999999))
	assert.False(t, isProcessAlive(0))
}
