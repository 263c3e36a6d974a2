package tracker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rinawarp/cmdintel/internal/storage"
	"github.com/rinawarp/cmdintel/internal/sysstate"
)

func newTestTracker(t *testing.T, cfg Config) (*Tracker, *storage.MemoryStore) {
	t.Helper()

	s := storage.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	tr := New(s, Options{
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	tr.nowFunc = atHour(10)
	return tr, s
}

func atHour(h int) func() time.Time {
	return func() time.Time { return time.Date(2024, 3, 1, h, 30, 0, 0, time.Local) }
}

func record(t *testing.T, tr *Tracker, cmd string, success bool, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		tr.RecordExecution(context.Background(), Execution{Command: cmd, Success: success})
	}
}

// --- RecordExecution Tests ---

func TestRecordExecution_Statistics(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{})
	ctx := context.Background()

	tr.RecordExecution(ctx, Execution{Command: "go test ./...", Success: true, Duration: 100 * time.Millisecond})
	tr.RecordExecution(ctx, Execution{Command: "go test ./...", Success: false, Duration: 300 * time.Millisecond})
	tr.RecordExecution(ctx, Execution{Command: "go test ./...", Success: true, Duration: 200 * time.Millisecond})

	p, err := tr.Pattern(ctx, "go test ./...")
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Frequency)
	assert.InDelta(t, 2.0/3.0, p.SuccessRate, 1e-9)
	assert.InDelta(t, 200, p.AvgImpact, 1e-9)
	assert.Equal(t, []int{10}, p.PeakUsageHours)
	assert.Len(t, p.RecentSystemStates, 3)
}

func TestRecordExecution_Normalizes(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{})
	ctx := context.Background()

	record(t, tr, "kill 1234", true, 1)
	record(t, tr, "kill 99", true, 1)

	p, err := tr.Pattern(ctx, "kill <number>")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Frequency)
}

func TestRecordExecution_EmptyCommandIgnored(t *testing.T) {
	t.Parallel()
	tr, s := newTestTracker(t, Config{})

	record(t, tr, "   ", true, 1)

	n, err := s.Count(context.Background(), storage.NSPattern)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordExecution_SuccessRateBounded(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{})
	ctx := context.Background()

	outcomes := []bool{true, false, false, true, true, true, false, true, false, false, true}
	for _, ok := range outcomes {
		tr.RecordExecution(ctx, Execution{Command: "make", Success: ok})
		p, err := tr.Pattern(ctx, "make")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.SuccessRate, 0.0)
		assert.LessOrEqual(t, p.SuccessRate, 1.0)
	}
}

func TestRecordExecution_BoundedState(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{MaxRecentStates: 5})
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		tr.nowFunc = atHour(i)
		tr.RecordExecution(ctx, Execution{
			Command: "npm run build",
			Success: true,
			State:   sysstate.State{CPULoad: float64(i)},
		})
	}

	p, err := tr.Pattern(ctx, "npm run build")
	require.NoError(t, err)
	require.Len(t, p.RecentSystemStates, 5)
	assert.InDelta(t, 11, p.RecentSystemStates[4].CPULoad, 1e-9, "newest state is kept last")
	assert.InDelta(t, 7, p.RecentSystemStates[0].CPULoad, 1e-9)
	assert.Len(t, p.PeakUsageHours, 5)
}

func TestRecordExecution_PeakHoursOrder(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{})

	runs := map[int]int{9: 3, 14: 5, 20: 1, 2: 3}
	for h, n := range runs {
		tr.nowFunc = atHour(h)
		record(t, tr, "docker ps", true, n)
	}

	p, err := tr.Pattern(context.Background(), "docker ps")
	require.NoError(t, err)
	assert.Equal(t, []int{14, 2, 9, 20}, p.PeakUsageHours)
}

func TestRecordExecution_Eviction(t *testing.T) {
	t.Parallel()
	tr, s := newTestTracker(t, Config{MaxPatterns: 20})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		record(t, tr, fmt.Sprintf("hot%c", 'a'+i), true, 3)
	}
	for i := 0; i < 30; i++ {
		record(t, tr, fmt.Sprintf("cold%c", 'a'+i), true, 1)
	}

	n, err := s.Count(ctx, storage.NSPattern)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 20)

	for i := 0; i < 10; i++ {
		_, err := tr.Pattern(ctx, fmt.Sprintf("hot%c", 'a'+i))
		assert.NoError(t, err, "high-frequency patterns survive eviction")
	}
}

func TestRecordExecution_Neighbors(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{})
	ctx := context.Background()

	tr.RecordExecution(ctx, Execution{Command: "git add .", Success: true})
	tr.RecordExecution(ctx, Execution{Command: "git commit -m wip", Success: true, Previous: "git add ."})
	tr.RecordExecution(ctx, Execution{Command: "git commit -m wip", Success: true, Previous: "git add ."})

	commit, err := tr.Pattern(ctx, "git commit -m wip")
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{{Command: "git add .", Count: 2}}, commit.CommonPrecursors)

	add, err := tr.Pattern(ctx, "git add .")
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{{Command: "git commit -m wip", Count: 2}}, add.CommonFollowUps)
}

func TestConfig_ZeroValueUsesDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultConfig(), Config{}.withDefaults())
	assert.Equal(t, 10, Config{MaxNeighbors: -1}.withDefaults().MaxNeighbors)
	assert.Equal(t, 3, Config{MaxNeighbors: 3}.withDefaults().MaxNeighbors)
}

func TestBumpNeighbor_Bounded(t *testing.T) {
	t.Parallel()

	var list []Neighbor
	for i := 0; i < 15; i++ {
		list = bumpNeighbor(list, fmt.Sprintf("cmd%d", i), 10)
	}
	list = bumpNeighbor(list, "cmd9", 10)

	assert.Len(t, list, 10)
	assert.Equal(t, "cmd9", list[0].Command)
	assert.Equal(t, int64(2), list[0].Count)
	assert.Nil(t, bumpNeighbor(nil, "x", 0))
}

func TestRecordExecution_MalformedRecordReplaced(t *testing.T) {
	t.Parallel()
	tr, s := newTestTracker(t, Config{})
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, storage.NSPattern, "ls", []byte("{broken")))
	record(t, tr, "ls", true, 1)

	p, err := tr.Pattern(ctx, "ls")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Frequency)
	assert.InDelta(t, 1.0, p.SuccessRate, 1e-9)
}

// --- Prediction Tests ---

func TestPredictNextCommands_Empty(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{})

	preds := tr.PredictNextCommands(context.Background(), nil, sysstate.State{})
	assert.NotNil(t, preds)
	assert.Empty(t, preds)
}

func TestPredictNextCommands_PrecursorBonus(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{})
	ctx := context.Background()

	record(t, tr, "make build", true, 10)
	for i := 0; i < 10; i++ {
		tr.RecordExecution(ctx, Execution{Command: "make test", Success: true, Previous: "git pull"})
	}

	preds := tr.PredictNextCommands(ctx, []string{"git pull"}, sysstate.State{})
	require.Len(t, preds, 2)
	assert.Equal(t, "make test", preds[0].Command)
	assert.InDelta(t, preds[1].Score+1, preds[0].Score, 1e-9)

	// log10(10) + 2*1 + 1 + 0.5 + similarity(1)
	assert.InDelta(t, 5.5, preds[0].Score, 1e-9)
}

func TestPredictNextCommands_Limit(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{})

	for i := 0; i < 8; i++ {
		record(t, tr, fmt.Sprintf("tool%c", 'a'+i), true, i+1)
	}

	preds := tr.PredictNextCommands(context.Background(), nil, sysstate.State{})
	require.Len(t, preds, 5)
	assert.Equal(t, "toolh", preds[0].Command)
	for i := 1; i < len(preds); i++ {
		assert.GreaterOrEqual(t, preds[i-1].Score, preds[i].Score)
	}
}

func TestPredictNextCommands_OffPeakAndDissimilar(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{})
	ctx := context.Background()

	tr.RecordExecution(ctx, Execution{Command: "cargo build", Success: false, State: sysstate.State{CPULoad: 100, MemoryUsage: 100, DiskIO: 100}})
	tr.nowFunc = atHour(3)

	preds := tr.PredictNextCommands(ctx, nil, sysstate.State{})
	require.Len(t, preds, 1)
	assert.InDelta(t, 0, preds[0].Score, 1e-9)
}

// --- Timing Tests ---

func TestSuggestTiming_ResourceConstrained(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{})
	ctx := context.Background()
	record(t, tr, "make", true, 5)

	for _, st := range []sysstate.State{
		{CPULoad: 85},
		{MemoryUsage: 95},
		{DiskIO: 71},
	} {
		timing := tr.SuggestTiming(ctx, "make", st)
		assert.True(t, timing.ShouldWait)
		assert.Equal(t, ReasonConstrained, timing.Reason)
	}

	timing := tr.SuggestTiming(ctx, "never-seen", sysstate.State{CPULoad: 85})
	assert.True(t, timing.ShouldWait)
}

func TestSuggestTiming_NoHistory(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{})

	timing := tr.SuggestTiming(context.Background(), "terraform apply", sysstate.State{CPULoad: 10})
	assert.False(t, timing.ShouldWait)
	assert.Equal(t, ReasonNoHistory, timing.Reason)
}

func TestSuggestTiming_PeakHours(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{})
	ctx := context.Background()
	record(t, tr, "deploy", true, 3)

	timing := tr.SuggestTiming(ctx, "deploy", sysstate.State{})
	assert.False(t, timing.ShouldWait)
	assert.Equal(t, ReasonPeakHour, timing.Reason)

	tr.nowFunc = atHour(22)
	timing = tr.SuggestTiming(ctx, "deploy", sysstate.State{})
	assert.True(t, timing.ShouldWait)
	assert.Equal(t, ReasonOffPeak, timing.Reason)
	assert.Equal(t, []int{10}, timing.PeakHours)
}

// --- Impact Tests ---

func TestPredictImpact_NoHistory(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{})

	imp := tr.PredictImpact(context.Background(), "unknown", sysstate.State{CPULoad: 50})
	assert.Equal(t, Impact{}, imp)
}

func TestPredictImpact_Averages(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(t, Config{})
	ctx := context.Background()

	tr.RecordExecution(ctx, Execution{Command: "webpack", Success: true, Duration: time.Second,
		State: sysstate.State{CPULoad: 50, MemoryUsage: 40, DiskIO: 10}})
	tr.RecordExecution(ctx, Execution{Command: "webpack", Success: true, Duration: 3 * time.Second,
		State: sysstate.State{CPULoad: 60, MemoryUsage: 60, DiskIO: 30}})

	imp := tr.PredictImpact(ctx, "webpack", sysstate.State{CPULoad: 40, MemoryUsage: 50, DiskIO: 20})
	assert.InDelta(t, 15, imp.CPU, 1e-9)
	assert.InDelta(t, 0, imp.Memory, 1e-9)
	assert.InDelta(t, 0, imp.IO, 1e-9)
	assert.InDelta(t, 2000, imp.DurationMs, 1e-9)
	assert.InDelta(t, 0.02, imp.Confidence, 1e-9)
	assert.Equal(t, 2, imp.Samples)
}

func TestPredictImpact_UnstableCPUHalvesConfidence(t *testing.T) {
	t.Parallel()
	tr, s := newTestTracker(t, Config{})
	ctx := context.Background()

	tr.RecordExecution(ctx, Execution{Command: "rsync", Success: true, State: sysstate.State{CPULoad: 0}})
	tr.RecordExecution(ctx, Execution{Command: "rsync", Success: true, State: sysstate.State{CPULoad: 100}})
	require.NoError(t, s.SetFrequency(ctx, storage.NSPattern, "rsync", 150))

	imp := tr.PredictImpact(ctx, "rsync", sysstate.State{})
	assert.InDelta(t, 0.5, imp.Confidence, 1e-9)
}

// --- Degradation Tests ---

func TestTracker_ClosedStoreDegrades(t *testing.T) {
	t.Parallel()
	tr, s := newTestTracker(t, Config{})
	ctx := context.Background()
	record(t, tr, "ls", true, 2)
	require.NoError(t, s.Close())

	assert.NotPanics(t, func() { record(t, tr, "ls", true, 1) })
	assert.Empty(t, tr.PredictNextCommands(ctx, []string{"ls"}, sysstate.State{}))
	assert.False(t, tr.SuggestTiming(ctx, "ls", sysstate.State{}).ShouldWait)
	assert.Equal(t, Impact{}, tr.PredictImpact(ctx, "ls", sysstate.State{}))
}
