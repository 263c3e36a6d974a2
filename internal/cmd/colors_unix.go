//go:build !windows

package cmd

import (
	"os"

	"golang.org/x/sys/unix"
)

// ttyColumns reports the column count of the terminal behind f, or 0 when f
// is not a terminal.
func ttyColumns(f *os.File) int {
	ws, err := unix.IoctlGetWinsize(int(f.Fd()), unix.TIOCGWINSZ)
	if err != nil {
		return 0
	}
	return int(ws.Col)
}
