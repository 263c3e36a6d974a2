//go:build linux

package sysstate

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// System reads /proc and sysinfo(2). CPU, disk wait and network values
// are deltas against the previous call, so the first call reports
// averages since boot.
type System struct {
	procRoot string
	nowFunc  func() time.Time

	mu       sync.Mutex
	prevCPU  cpuTimes
	prevNet  uint64
	prevTime time.Time
}

// NewSystem returns the platform provider.
func NewSystem() *System {
	return &System{procRoot: "/proc", nowFunc: time.Now}
}

type cpuTimes struct {
	total  uint64
	idle   uint64
	iowait uint64
}

// Sample implements Provider.
func (s *System) Sample(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}

	cpu, err := s.readCPU()
	if err != nil {
		return State{}, err
	}
	netBytes, err := s.readNet()
	if err != nil {
		return State{}, err
	}
	mem, err := memoryUsage()
	if err != nil {
		return State{}, err
	}

	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{MemoryUsage: mem, Timestamp: now}

	if cpu.total > s.prevCPU.total && cpu.idle >= s.prevCPU.idle && cpu.iowait >= s.prevCPU.iowait {
		dTotal := cpu.total - s.prevCPU.total
		dIdle := cpu.idle - s.prevCPU.idle
		dWait := cpu.iowait - s.prevCPU.iowait
		if dIdle+dWait > dTotal {
			dIdle, dWait = dTotal-min(dWait, dTotal), min(dWait, dTotal)
		}
		st.CPULoad = clamp(100*float64(dTotal-dIdle-dWait)/float64(dTotal), 0, 100)
		st.DiskIO = clamp(100*float64(dWait)/float64(dTotal), 0, 100)
	}

	if !s.prevTime.IsZero() && netBytes >= s.prevNet {
		if secs := now.Sub(s.prevTime).Seconds(); secs > 0 {
			st.NetworkIO = float64(netBytes-s.prevNet) / 1024 / secs
		}
	}

	s.prevCPU = cpu
	s.prevNet = netBytes
	s.prevTime = now
	return st, nil
}

// readCPU parses the aggregate "cpu" line of /proc/stat.
func (s *System) readCPU() (cpuTimes, error) {
	f, err := os.Open(s.procRoot + "/stat")
	if err != nil {
		return cpuTimes{}, fmt.Errorf("failed to read cpu stats: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 || fields[0] != "cpu" {
			continue
		}
		var t cpuTimes
		for i, v := range fields[1:] {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return cpuTimes{}, fmt.Errorf("malformed cpu stats: %w", err)
			}
			t.total += n
			switch i {
			case 3:
				t.idle = n
			case 4:
				t.iowait = n
			}
		}
		return t, nil
	}
	if err := sc.Err(); err != nil {
		return cpuTimes{}, fmt.Errorf("failed to read cpu stats: %w", err)
	}
	return cpuTimes{}, fmt.Errorf("no cpu line in %s/stat", s.procRoot)
}

// readNet sums received and transmitted bytes over non-loopback interfaces.
func (s *System) readNet() (uint64, error) {
	f, err := os.Open(s.procRoot + "/net/dev")
	if err != nil {
		return 0, fmt.Errorf("failed to read network stats: %w", err)
	}
	defer f.Close()

	var total uint64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok || strings.TrimSpace(name) == "lo" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 9 {
			continue
		}
		rx, err1 := strconv.ParseUint(fields[0], 10, 64)
		tx, err2 := strconv.ParseUint(fields[8], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		total += rx + tx
	}
	return total, sc.Err()
}

func memoryUsage() (float64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit
	if total == 0 {
		return 0, nil
	}
	avail := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	if avail > total {
		avail = total
	}
	return 100 * float64(total-avail) / float64(total), nil
}
