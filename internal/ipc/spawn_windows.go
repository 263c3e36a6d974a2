//go:build windows

package ipc

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// detachDaemon starts cmdinteld without a console and outside the CLI's
// process group, so Ctrl+C in the invoking console does not reach it.
func detachDaemon(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS,
		HideWindow:    true,
	}
}
