//go:build linux

package sysstate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProc(t *testing.T, root, stat, netdev string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "net"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stat"), []byte(stat), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "net", "dev"), []byte(netdev), 0644))
}

const netHeader = "Inter-|   Receive                                                |  Transmit\n" +
	" face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed\n"

func TestSystem_Deltas(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	now := time.Unix(1700000000, 0)
	s := &System{procRoot: root, nowFunc: func() time.Time { return now }}

	// user nice system idle iowait irq softirq
	writeProc(t, root,
		"cpu  100 0 100 700 100 0 0\ncpu0 100 0 100 700 100 0 0\n",
		netHeader+"    lo: 999 0 0 0 0 0 0 0 999 0 0 0 0 0 0 0\n  eth0: 1024 0 0 0 0 0 0 0 1024 0 0 0 0 0 0 0\n")

	_, err := s.Sample(context.Background())
	require.NoError(t, err)

	// +1000 ticks: 500 busy, 300 idle, 200 iowait. +10 KiB over 2s.
	now = now.Add(2 * time.Second)
	writeProc(t, root,
		"cpu  400 0 300 1000 300 0 0\n",
		netHeader+"    lo: 5000 0 0 0 0 0 0 0 5000 0 0 0 0 0 0 0\n  eth0: 6144 0 0 0 0 0 0 0 6144 0 0 0 0 0 0 0\n")

	st, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 50.0, st.CPULoad, 1e-9)
	assert.InDelta(t, 20.0, st.DiskIO, 1e-9)
	assert.InDelta(t, 5.0, st.NetworkIO, 1e-9)
	assert.GreaterOrEqual(t, st.MemoryUsage, 0.0)
	assert.LessOrEqual(t, st.MemoryUsage, 100.0)
	assert.Equal(t, now, st.Timestamp)
}

func TestSystem_MissingProc(t *testing.T) {
	t.Parallel()

	s := &System{procRoot: filepath.Join(t.TempDir(), "absent"), nowFunc: time.Now}
	_, err := s.Sample(context.Background())
	require.Error(t, err)
}

func TestSystem_Live(t *testing.T) {
	t.Parallel()

	st, err := NewSystem().Sample(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, st.CPULoad, 0.0)
	assert.LessOrEqual(t, st.CPULoad, 100.0)
}
