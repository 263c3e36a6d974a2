package errorpattern

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rinawarp/cmdintel/internal/oracle"
	"github.com/rinawarp/cmdintel/internal/storage"
)

type fakeOracle struct {
	exp   *oracle.Explanation
	err   error
	calls int
	last  oracle.Request
}

func (f *fakeOracle) ExplainError(_ context.Context, req oracle.Request) (*oracle.Explanation, error) {
	f.calls++
	f.last = req
	return f.exp, f.err
}

func newTestMatcher(t *testing.T, cfg Config, o oracle.Oracle) (*Matcher, *storage.MemoryStore) {
	t.Helper()

	s := storage.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	m := New(s, Options{
		Config: cfg,
		Oracle: o,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("ep-%d", n)
	}
	return m, s
}

func savePattern(t *testing.T, s storage.Store, p Pattern) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, storage.PutJSON(ctx, s, storage.NSErrorPattern, p.ID, p))
	_, err := s.Incr(ctx, storage.NSErrorPattern, p.ID, p.Frequency)
	require.NoError(t, err)
}

const missingModule = "Error: Cannot find module 'left-pad'\n    at Function.Module._resolveFilename"

// --- Classifier Tests ---

func TestClassifier(t *testing.T) {
	t.Parallel()

	c := NewClassifier(map[int]FailureClass{3: "lint"})
	tests := []struct {
		code int
		text string
		want FailureClass
	}{
		{0, "", ClassNone},
		{1, "", ClassGeneral},
		{1, "open /etc/shadow: Permission denied", ClassPermission},
		{2, "", ClassMisuse},
		{3, "", "lint"},
		{124, "", ClassTimeout},
		{126, "", ClassNotExecutable},
		{127, "", ClassNotFound},
		{130, "", ClassSIGINT},
		{137, "", ClassSIGKILL},
		{139, "", ClassSIGSEGV},
		{143, "", ClassSignal},
		{255, "", ClassUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.code, tt.text), "exit %d", tt.code)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "exit 127 (not_found)", Describe(127, ClassNotFound))
	assert.Equal(t, "exit 143 (signal 15)", Describe(143, ClassSignal))
	assert.Equal(t, 15, SignalNumber(143))
	assert.Equal(t, -1, SignalNumber(1))
}

// --- AnalyzeError Tests ---

func TestAnalyzeError_CreatesPattern(t *testing.T) {
	t.Parallel()
	m, _ := newTestMatcher(t, Config{}, nil)
	ctx := context.Background()

	env := Environment{OperatingSystem: "linux", ProjectType: "node", Dependencies: []string{"express"}}
	res := m.AnalyzeError(ctx, Failure{Command: "npm run build", Error: missingModule, ExitCode: 1, Environment: env})
	assert.Equal(t, "ep-1", res.PatternID)
	assert.Equal(t, ClassGeneral, res.FailureClass)
	assert.NotNil(t, res.Suggestions)
	assert.Empty(t, res.Suggestions)

	patterns, err := m.Patterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	p := patterns[0]
	assert.Equal(t, "npm", p.CommandPattern)
	assert.Equal(t, "Error: Cannot find module 'left-pad'", p.ErrorPattern)
	assert.Equal(t, int64(1), p.Frequency)
	assert.Empty(t, p.RecoveryActions)
	assert.Equal(t, env, p.Context)
}

func TestAnalyzeError_MatchesExistingAndFreezesContext(t *testing.T) {
	t.Parallel()
	m, _ := newTestMatcher(t, Config{}, nil)
	ctx := context.Background()

	m.AnalyzeError(ctx, Failure{Command: "npm run build", Error: missingModule, Environment: Environment{OperatingSystem: "linux"}})
	res := m.AnalyzeError(ctx, Failure{Command: "npm test", Error: "boom\n" + missingModule, Environment: Environment{OperatingSystem: "darwin"}})
	assert.Equal(t, "ep-1", res.PatternID)

	patterns, err := m.Patterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, int64(2), patterns[0].Frequency)
	assert.Equal(t, "linux", patterns[0].Context.OperatingSystem)

	// Different first token is a different pattern.
	res = m.AnalyzeError(ctx, Failure{Command: "yarn build", Error: missingModule})
	assert.Equal(t, "ep-2", res.PatternID)
}

func TestAnalyzeError_ExitCodeOnly(t *testing.T) {
	t.Parallel()
	m, _ := newTestMatcher(t, Config{}, nil)
	ctx := context.Background()

	f := Failure{Command: "kubectl get pods", ExitCode: 127}
	res := m.AnalyzeError(ctx, f)
	assert.Equal(t, ClassNotFound, res.FailureClass)
	assert.Equal(t, "exit 127 (not_found)", m.ErrorText(f))

	m.RecordRecoveryAttempt(ctx, f.Command, m.ErrorText(f), "brew install kubectl", true)
	res = m.AnalyzeError(ctx, f)
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "brew install kubectl", res.Suggestions[0].Command)
	assert.Equal(t, SourceLearned, res.Suggestions[0].Source)
}

func TestAnalyzeError_MergesOracleAndLearned(t *testing.T) {
	t.Parallel()
	o := &fakeOracle{exp: &oracle.Explanation{
		Analysis: "the module is not installed",
		Suggestions: []oracle.Suggestion{
			{Command: "rm -rf node_modules", Confidence: 0.9},
			{Command: "npm install", Confidence: 0.6},
		},
	}}
	m, _ := newTestMatcher(t, Config{}, o)
	ctx := context.Background()

	f := Failure{Command: "npm run build", Error: missingModule, ExitCode: 1, Directory: "/app"}
	m.AnalyzeError(ctx, f)
	m.RecordRecoveryAttempt(ctx, f.Command, f.Error, "npm install", true)

	res := m.AnalyzeError(ctx, f)
	assert.Equal(t, "the module is not installed", res.Analysis)
	require.Len(t, res.Suggestions, 2)
	assert.Equal(t, Suggestion{Command: "npm install", Confidence: 1, Source: SourceLearned}, res.Suggestions[0])
	assert.Equal(t, "rm -rf node_modules", res.Suggestions[1].Command)
	assert.True(t, res.Suggestions[1].Destructive)
	assert.Equal(t, SourceOracle, res.Suggestions[1].Source)

	assert.Equal(t, 2, o.calls)
	assert.Equal(t, "/app", o.last.Directory)
	assert.Equal(t, 1, o.last.ExitCode)
}

func TestAnalyzeError_CapsSuggestions(t *testing.T) {
	t.Parallel()
	exp := &oracle.Explanation{}
	for i := 0; i < 8; i++ {
		exp.Suggestions = append(exp.Suggestions, oracle.Suggestion{Command: fmt.Sprintf("fix-%d", i), Confidence: float64(i) / 10})
	}
	m, _ := newTestMatcher(t, Config{}, &fakeOracle{exp: exp})

	res := m.AnalyzeError(context.Background(), Failure{Command: "make", Error: "fail"})
	require.Len(t, res.Suggestions, 5)
	assert.Equal(t, "fix-7", res.Suggestions[0].Command)
	assert.Equal(t, "fix-3", res.Suggestions[4].Command)
}

func TestAnalyzeError_OracleFailureFallsBack(t *testing.T) {
	t.Parallel()
	for _, o := range []oracle.Oracle{
		&fakeOracle{err: errors.New("timeout")},
		&fakeOracle{err: oracle.ErrUnavailable},
		oracle.Nop{},
	} {
		m, _ := newTestMatcher(t, Config{}, o)
		ctx := context.Background()

		f := Failure{Command: "go build", Error: "undefined: foo"}
		m.AnalyzeError(ctx, f)
		m.RecordRecoveryAttempt(ctx, f.Command, f.Error, "go mod tidy", true)

		res := m.AnalyzeError(ctx, f)
		assert.Empty(t, res.Analysis)
		require.Len(t, res.Suggestions, 1)
		assert.Equal(t, "go mod tidy", res.Suggestions[0].Command)
	}
}

func TestAnalyzeError_NoErrorTextRecordsNothing(t *testing.T) {
	t.Parallel()
	m, s := newTestMatcher(t, Config{}, nil)
	ctx := context.Background()

	res := m.AnalyzeError(ctx, Failure{Command: "make", ExitCode: 0})
	assert.Empty(t, res.PatternID)
	assert.Empty(t, m.ErrorText(Failure{Command: "make"}))

	n, err := s.Count(ctx, storage.NSErrorPattern)
	require.NoError(t, err)
	assert.Zero(t, n)

	res = m.AnalyzeError(ctx, Failure{Command: "npm run build", Error: missingModule, ExitCode: 1})
	assert.Equal(t, "ep-1", res.PatternID)
}

func TestAnalyzeError_StoredEmptyPatternIgnored(t *testing.T) {
	t.Parallel()
	m, s := newTestMatcher(t, Config{}, nil)
	ctx := context.Background()

	savePattern(t, s, Pattern{
		ID:              "empty",
		Frequency:       5,
		RecoveryActions: []RecoveryAction{{Command: "rm -rf node_modules", SuccessRate: 1}},
	})

	res := m.AnalyzeError(ctx, Failure{Command: "npm run build", Error: missingModule, ExitCode: 1})
	assert.Empty(t, res.Suggestions)
	assert.Equal(t, "ep-1", res.PatternID)
}

func TestAnalyzeError_EmptyCommand(t *testing.T) {
	t.Parallel()
	o := &fakeOracle{}
	m, s := newTestMatcher(t, Config{}, o)

	res := m.AnalyzeError(context.Background(), Failure{Command: "  ", Error: "x"})
	assert.Empty(t, res.Suggestions)
	assert.Zero(t, o.calls)

	n, err := s.Count(context.Background(), storage.NSErrorPattern)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAnalyzeError_Eviction(t *testing.T) {
	t.Parallel()
	m, s := newTestMatcher(t, Config{MaxPatterns: 3}, nil)
	ctx := context.Background()

	m.AnalyzeError(ctx, Failure{Command: "hot", Error: "e"})
	m.AnalyzeError(ctx, Failure{Command: "hot", Error: "e"})
	for i := 0; i < 5; i++ {
		m.AnalyzeError(ctx, Failure{Command: fmt.Sprintf("cold%d", i), Error: "e"})
	}

	n, err := s.Count(ctx, storage.NSErrorPattern)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = s.Get(ctx, storage.NSErrorPattern, "ep-1")
	assert.NoError(t, err, "most frequent pattern survives")
}

// --- Recovery Tests ---

func TestRecordRecoveryAttempt_Reinforcement(t *testing.T) {
	t.Parallel()
	m, _ := newTestMatcher(t, Config{}, nil)
	ctx := context.Background()

	f := Failure{Command: "cargo build", Error: "error[E0432]: unresolved import"}
	m.AnalyzeError(ctx, f)
	m.RecordRecoveryAttempt(ctx, f.Command, f.Error, "cargo update", true)

	patterns, err := m.Patterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns[0].RecoveryActions, 1)
	assert.InDelta(t, 1.0, patterns[0].RecoveryActions[0].SuccessRate, 1e-9)
	assert.Equal(t, int64(1), patterns[0].Frequency)

	m.RecordRecoveryAttempt(ctx, f.Command, f.Error, "cargo update", false)

	patterns, err = m.Patterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns[0].RecoveryActions, 1, "actions are unique by command")
	assert.InDelta(t, 0.5, patterns[0].RecoveryActions[0].SuccessRate, 1e-9)
	assert.Equal(t, int64(2), patterns[0].RecoveryActions[0].Attempts)
}

func TestRecordRecoveryAttempt_NewActionUsesOutcome(t *testing.T) {
	t.Parallel()
	m, _ := newTestMatcher(t, Config{}, nil)
	ctx := context.Background()

	m.AnalyzeError(ctx, Failure{Command: "pip install x", Error: "No matching distribution"})
	m.RecordRecoveryAttempt(ctx, "pip install x", "No matching distribution", "pip install --upgrade pip", false)

	patterns, err := m.Patterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns[0].RecoveryActions, 1)
	assert.Zero(t, patterns[0].RecoveryActions[0].SuccessRate)
}

func TestRecordRecoveryAttempt_NoPatternIsNoop(t *testing.T) {
	t.Parallel()
	m, s := newTestMatcher(t, Config{}, nil)
	ctx := context.Background()

	m.RecordRecoveryAttempt(ctx, "make", "no rule", "make clean", true)

	n, err := s.Count(ctx, storage.NSErrorPattern)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- Stats Tests ---

func TestGetErrorStats(t *testing.T) {
	t.Parallel()
	m, s := newTestMatcher(t, Config{}, nil)
	ctx := context.Background()

	savePattern(t, s, Pattern{
		ID: "a", CommandPattern: "npm", ErrorPattern: "ERESOLVE", Frequency: 3,
		RecoveryActions: []RecoveryAction{
			{Command: "npm i --legacy-peer-deps", SuccessRate: 0.5},
			{Command: "npm i --force", SuccessRate: 1},
		},
	})
	savePattern(t, s, Pattern{
		ID: "b", CommandPattern: "go", ErrorPattern: "undefined", Frequency: 1,
		RecoveryActions: []RecoveryAction{{Command: "go mod tidy", SuccessRate: 0}},
	})

	stats := m.GetErrorStats(ctx)
	assert.Equal(t, 2, stats.TotalPatterns)
	require.Len(t, stats.TopPatterns, 2)
	assert.Equal(t, "a", stats.TopPatterns[0].ID)
	assert.Equal(t, "npm i --force", stats.TopPatterns[0].RecoveryActions[0].Command)
	assert.InDelta(t, 4.5/7.0, stats.RecoverySuccessRate, 1e-9)
}

func TestGetErrorStats_TopLimits(t *testing.T) {
	t.Parallel()
	m, s := newTestMatcher(t, Config{}, nil)

	for i := 0; i < 7; i++ {
		p := Pattern{ID: fmt.Sprintf("p%d", i), CommandPattern: "x", Frequency: int64(i + 1)}
		for j := 0; j < 4; j++ {
			p.RecoveryActions = append(p.RecoveryActions, RecoveryAction{Command: fmt.Sprintf("r%d", j), SuccessRate: float64(j) / 4})
		}
		savePattern(t, s, p)
	}

	stats := m.GetErrorStats(context.Background())
	assert.Equal(t, 7, stats.TotalPatterns)
	require.Len(t, stats.TopPatterns, 5)
	assert.Equal(t, "p6", stats.TopPatterns[0].ID)
	require.Len(t, stats.TopPatterns[0].RecoveryActions, 3)
	assert.Equal(t, "r3", stats.TopPatterns[0].RecoveryActions[0].Command)
}

func TestGetErrorStats_Empty(t *testing.T) {
	t.Parallel()
	m, _ := newTestMatcher(t, Config{}, nil)

	stats := m.GetErrorStats(context.Background())
	assert.Zero(t, stats.TotalPatterns)
	assert.NotNil(t, stats.TopPatterns)
	assert.Zero(t, stats.RecoverySuccessRate)
}

// --- Degradation Tests ---

func TestMatcher_ClosedStoreDegrades(t *testing.T) {
	t.Parallel()
	o := &fakeOracle{exp: &oracle.Explanation{Suggestions: []oracle.Suggestion{{Command: "retry", Confidence: 0.4}}}}
	m, s := newTestMatcher(t, Config{}, o)
	require.NoError(t, s.Close())
	ctx := context.Background()

	res := m.AnalyzeError(ctx, Failure{Command: "make", Error: "fail"})
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "retry", res.Suggestions[0].Command)
	assert.Empty(t, res.PatternID)

	assert.NotPanics(t, func() { m.RecordRecoveryAttempt(ctx, "make", "fail", "make clean", true) })
	assert.Zero(t, m.GetErrorStats(ctx).TotalPatterns)
}
