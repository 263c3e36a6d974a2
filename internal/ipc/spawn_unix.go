//go:build !windows

package ipc

import (
	"os/exec"
	"syscall"
)

// detachDaemon starts cmdinteld in its own session so it outlives the
// shell and terminal of the CLI invocation that spawned it.
func detachDaemon(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
