//go:build !windows

package ipc

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetachDaemon_NewSession(t *testing.T) {
	t.Parallel()
	cmd := exec.Command("cmdinteld")
	detachDaemon(cmd)

	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setsid)
	assert.False(t, cmd.SysProcAttr.Setpgid)
}
