package workflow

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rinawarp/cmdintel/internal/storage"
	"github.com/rinawarp/cmdintel/internal/workspace"
)

func newTestGraph(t *testing.T, cfg Config, ws workspace.Provider) (*Graph, *storage.MemoryStore) {
	t.Helper()

	s := storage.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	g := New(s, Options{
		Config:    cfg,
		Workspace: ws,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	var mu sync.Mutex
	base := time.Unix(1700000000, 0)
	var n int64
	g.nowFunc = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return g, s
}

func run(g *Graph, sess string, cmds ...string) {
	for _, c := range cmds {
		g.RecordCommand(context.Background(), Observation{Session: sess, Command: c, Success: true})
	}
}

func savePattern(t *testing.T, s storage.Store, p Pattern) {
	t.Helper()
	ctx := context.Background()
	p.ID = patternHash(p.Commands())
	require.NoError(t, storage.PutJSON(ctx, s, storage.NSWorkflowPattern, p.ID, p))
	require.NoError(t, s.SetFrequency(ctx, storage.NSWorkflowPattern, p.ID, p.Frequency))
}

func steps(cmds ...string) []Step {
	out := make([]Step, len(cmds))
	for i, c := range cmds {
		out[i] = Step{Command: c, SuccessRate: 1}
	}
	return out
}

// --- Graph Tests ---

func TestRecordCommand_NodeAndEdge(t *testing.T) {
	t.Parallel()
	g, _ := newTestGraph(t, Config{}, nil)
	ctx := context.Background()

	g.RecordCommand(ctx, Observation{Session: "s", Command: "npm install", Success: true})
	g.RecordCommand(ctx, Observation{Session: "s", Command: "npm test", Success: true})
	g.RecordCommand(ctx, Observation{Session: "s", Command: "npm install", Success: true})
	g.RecordCommand(ctx, Observation{Session: "s", Command: "npm test", Success: false})

	n, err := g.Node(ctx, "npm install")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n.Frequency)
	assert.InDelta(t, 1.0, n.SuccessRate, 1e-9)
	require.Contains(t, n.NextCommands, "npm test")
	assert.Equal(t, int64(2), n.NextCommands["npm test"].Count)
	assert.InDelta(t, 0.5, n.NextCommands["npm test"].SuccessRate, 1e-9)

	test, err := g.Node(ctx, "npm test")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, test.SuccessRate, 1e-9)
	assert.Equal(t, int64(1), test.NextCommands["npm install"].Count)
}

func TestRecordCommand_SessionsIsolated(t *testing.T) {
	t.Parallel()
	g, _ := newTestGraph(t, Config{}, nil)

	run(g, "one", "ls")
	run(g, "two", "pwd")

	n, err := g.Node(context.Background(), "ls")
	require.NoError(t, err)
	assert.Empty(t, n.NextCommands)
	assert.Equal(t, []string{"ls"}, g.Sequence(context.Background(), "one"))
	assert.Equal(t, []string{"pwd"}, g.Sequence(context.Background(), "two"))
	assert.Nil(t, g.Sequence(context.Background(), "three"))
}

func TestRecordCommand_RollingSequenceBounded(t *testing.T) {
	t.Parallel()
	g, _ := newTestGraph(t, Config{}, nil)

	for _, c := range []string{"c0", "c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8", "c9", "c10", "c11"} {
		run(g, "s", c)
	}

	seq := g.Sequence(context.Background(), "s")
	require.Len(t, seq, 10)
	assert.Equal(t, "c2", seq[0])
	assert.Equal(t, "c11", seq[9])
}

func TestRecordCommand_ContextsBounded(t *testing.T) {
	t.Parallel()
	ws := workspace.Static{Context: workspace.Context{Git: &workspace.GitInfo{Branch: "main"}}}
	g, _ := newTestGraph(t, Config{MaxContexts: 3}, ws)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		g.RecordCommand(ctx, Observation{Session: "s", Command: "make", Success: true, Dir: "/repo"})
	}

	n, err := g.Node(ctx, "make")
	require.NoError(t, err)
	assert.Len(t, n.Contexts, 3)
	assert.Equal(t, "/repo", n.Contexts[2].Directory)
}

func TestGraph_SessionEviction(t *testing.T) {
	t.Parallel()
	g, _ := newTestGraph(t, Config{MaxSessions: 2}, nil)

	run(g, "a", "ls")
	run(g, "b", "ls")
	run(g, "c", "ls")

	assert.Nil(t, g.Sequence(context.Background(), "a"))
	assert.NotNil(t, g.Sequence(context.Background(), "b"))
	assert.NotNil(t, g.Sequence(context.Background(), "c"))
}

func TestGraph_SequenceSharedThroughStore(t *testing.T) {
	t.Parallel()
	first, s := newTestGraph(t, Config{}, nil)
	second := New(s, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx := context.Background()

	run(first, "s", "git add .")
	run(second, "s", "git commit")

	assert.Equal(t, []string{"git add .", "git commit"}, first.Sequence(ctx, "s"))
	n, err := second.Node(ctx, "git add .")
	require.NoError(t, err)
	assert.Contains(t, n.NextCommands, "git commit")
}

// --- Mining Tests ---

func TestMine_PromotesAtThreshold(t *testing.T) {
	t.Parallel()
	g, _ := newTestGraph(t, Config{}, nil)
	ctx := context.Background()

	run(g, "s", "git add .", "git commit", "git add .", "git commit", "git add .", "git commit")

	patterns, err := g.Patterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, []string{"git add .", "git commit"}, patterns[0].Commands())
	assert.Equal(t, int64(3), patterns[0].Frequency)
	assert.Equal(t, patternHash([]string{"git add .", "git commit"}), patterns[0].ID)
	assert.Equal(t, DefaultEnvironment, patterns[0].Context.Environment)
}

func TestMine_TwiceNeverPromoted(t *testing.T) {
	t.Parallel()
	g, s := newTestGraph(t, Config{}, nil)

	run(g, "s", "make", "make test", "make", "make test")

	n, err := s.Count(context.Background(), storage.NSWorkflowPattern)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMine_FrequencyTracksWindow(t *testing.T) {
	t.Parallel()
	g, _ := newTestGraph(t, Config{}, nil)
	ctx := context.Background()

	run(g, "s", "a", "b", "a", "b", "a", "b", "a", "b")

	p, err := g.Pattern(ctx, patternHash([]string{"a", "b"}))
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.Frequency)

	// Longer runs recur too: "a b a" starts at 0, 2 and 4.
	p, err = g.Pattern(ctx, patternHash([]string{"a", "b", "a"}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Frequency)
}

func TestMine_StepSuccessRate(t *testing.T) {
	t.Parallel()
	g, _ := newTestGraph(t, Config{}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		g.RecordCommand(ctx, Observation{Session: "s", Command: "go build", Success: true})
		g.RecordCommand(ctx, Observation{Session: "s", Command: "go test", Success: i != 0})
	}

	p, err := g.Pattern(ctx, patternHash([]string{"go build", "go test"}))
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)
	assert.InDelta(t, 1.0, p.Steps[0].SuccessRate, 1e-9)
	assert.InDelta(t, 2.0/3.0, p.Steps[1].SuccessRate, 1e-9)
}

func TestMine_InfersContext(t *testing.T) {
	t.Parallel()
	ws := workspace.Static{Context: workspace.Context{
		Git:     &workspace.GitInfo{Branch: "main"},
		Package: &workspace.PackageInfo{Manager: "npm", Dependencies: []string{"react"}},
		Env:     &workspace.EnvInfo{Environment: "production"},
	}}
	g, _ := newTestGraph(t, Config{}, ws)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		g.RecordCommand(ctx, Observation{Session: "s", Command: "npm ci", Success: true, Dir: "/app"})
		g.RecordCommand(ctx, Observation{Session: "s", Command: "npm run build", Success: true, Dir: "/app"})
	}

	p, err := g.Pattern(ctx, patternHash([]string{"npm ci", "npm run build"}))
	require.NoError(t, err)
	assert.Equal(t, PatternContext{
		ProjectType: "react",
		TechStack:   []string{"git", "npm"},
		Environment: "production",
	}, p.Context)
}

func TestInferContext_Majority(t *testing.T) {
	t.Parallel()

	contexts := []workspace.Context{
		{Docker: &workspace.DockerInfo{}, Git: &workspace.GitInfo{Branch: "dev"}},
		{Docker: &workspace.DockerInfo{}},
		{Package: &workspace.PackageInfo{Manager: "yarn"}},
	}
	pc := inferContext(contexts)
	assert.Equal(t, []string{"docker"}, pc.TechStack)
	assert.Equal(t, DefaultEnvironment, pc.Environment)
	assert.Empty(t, pc.ProjectType)
}

func TestPatternHash(t *testing.T) {
	t.Parallel()

	a := patternHash([]string{"git add .", "git commit"})
	assert.Len(t, a, 32)
	assert.Equal(t, a, patternHash([]string{"git add .", "git commit"}))
	assert.NotEqual(t, a, patternHash([]string{"git commit", "git add ."}))
}

func TestPattern_Name(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a -> b", Pattern{Steps: steps("a", "b")}.Name())
	assert.Equal(t, "a -> b -> ... -> e", Pattern{Steps: steps("a", "b", "c", "d", "e")}.Name())
}

// --- Suggestion Tests ---

func TestSuggestNextCommands(t *testing.T) {
	t.Parallel()
	g, _ := newTestGraph(t, Config{}, nil)
	ctx := context.Background()

	run(g, "s", "cd app", "ls", "cd app", "ls", "cd app", "ls", "cd app", "git status")

	got := g.SuggestNextCommands(ctx, "cd app", "", 0)
	require.Len(t, got, 2)
	assert.Equal(t, Suggestion{Command: "ls", Confidence: 3}, got[0])
	assert.Equal(t, Suggestion{Command: "git status", Confidence: 1}, got[1])

	assert.Len(t, g.SuggestNextCommands(ctx, "cd app", "", 1), 1)
	assert.Empty(t, g.SuggestNextCommands(ctx, "unknown", "", 0))
}

func TestSuggestNextCommands_ContextFactor(t *testing.T) {
	t.Parallel()
	ws := workspace.Static{Context: workspace.Context{Git: &workspace.GitInfo{Branch: "main"}}}
	g, _ := newTestGraph(t, Config{}, ws)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		g.RecordCommand(ctx, Observation{Session: "s", Command: "make", Success: true, Dir: "/p"})
		g.RecordCommand(ctx, Observation{Session: "s", Command: "make install", Success: true, Dir: "/p"})
	}

	same := g.SuggestNextCommands(ctx, "make", "/p", 0)
	require.Len(t, same, 1)
	assert.InDelta(t, 2.0, same[0].Confidence, 1e-9)

	// Different directory, same branch: half the signals match.
	other := g.SuggestNextCommands(ctx, "make", "/q", 0)
	require.Len(t, other, 1)
	assert.InDelta(t, 1.5, other[0].Confidence, 1e-9)
}

func TestContextSimilarity(t *testing.T) {
	t.Parallel()

	a := &workspace.Context{
		Directory: "/x",
		Git:       &workspace.GitInfo{Branch: "main"},
		Package:   &workspace.PackageInfo{Manager: "npm"},
		Docker:    &workspace.DockerInfo{Containers: []string{"web", "db"}},
	}
	b := &workspace.Context{
		Directory: "/x",
		Git:       &workspace.GitInfo{Branch: "feature"},
		Package:   &workspace.PackageInfo{Manager: "npm"},
		Docker:    &workspace.DockerInfo{Containers: []string{"web", "cache"}},
	}
	// dir 1 + branch 0 + manager 1 + jaccard 1/3
	assert.InDelta(t, (2+1.0/3.0)/4, contextSimilarity(a, b), 1e-9)
	assert.InDelta(t, 1.0, contextSimilarity(a, a), 1e-9)
	assert.InDelta(t, 1.0, contextSimilarity(&workspace.Context{}, &workspace.Context{}), 1e-9)
}

func TestJaccard(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, jaccard(nil, nil), 1e-9)
	assert.InDelta(t, 0.0, jaccard([]string{"a"}, nil), 1e-9)
	assert.InDelta(t, 1.0/3.0, jaccard([]string{"a", "b"}, []string{"b", "c", "b"}), 1e-9)
	assert.InDelta(t, 2.0/3.0, jaccard([]string{"a", "b"}, []string{"a", "b", "c"}), 1e-9)
}

func TestSuggestWorkflow(t *testing.T) {
	t.Parallel()
	ws := workspace.Static{Context: workspace.Context{
		Package: &workspace.PackageInfo{Manager: "npm", Dependencies: []string{"react"}},
		Env:     &workspace.EnvInfo{Environment: "production"},
	}}
	g, s := newTestGraph(t, Config{}, ws)
	ctx := context.Background()

	savePattern(t, s, Pattern{
		Steps:     steps("git add .", "git commit", "git push"),
		Frequency: 5,
		Context:   PatternContext{ProjectType: "react", TechStack: []string{"npm"}, Environment: "production"},
	})
	savePattern(t, s, Pattern{
		Steps:     steps("git add .", "make"),
		Frequency: 6,
		Context:   PatternContext{Environment: DefaultEnvironment},
	})

	best := g.SuggestWorkflow(ctx, "git add .", "")
	require.NotNil(t, best)
	assert.Equal(t, []string{"git add .", "make"}, best.Commands())
	assert.InDelta(t, 6, best.Score, 1e-9)

	best = g.SuggestWorkflow(ctx, "git add .", "/app")
	require.NotNil(t, best)
	assert.Equal(t, []string{"git add .", "git commit", "git push"}, best.Commands())
	assert.InDelta(t, 5*1.5*1.3*1.2, best.Score, 1e-9)

	assert.Nil(t, g.SuggestWorkflow(ctx, "docker compose up", ""))
	assert.Nil(t, g.SuggestWorkflow(ctx, "", ""))
}

func TestDetectWorkflow(t *testing.T) {
	t.Parallel()
	g, s := newTestGraph(t, Config{}, nil)
	ctx := context.Background()

	savePattern(t, s, Pattern{Steps: steps("git add", "git commit", "git push"), Frequency: 5})

	got := g.DetectWorkflow(ctx, []string{"git add", "git commit", "git push"})
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].Frequency)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)

	// 2/3 is not above the threshold.
	assert.Empty(t, g.DetectWorkflow(ctx, []string{"git add", "git commit"}))
	assert.Empty(t, g.DetectWorkflow(ctx, nil))
}

func TestDetectWorkflow_TopThreeByFrequency(t *testing.T) {
	t.Parallel()
	g, s := newTestGraph(t, Config{}, nil)
	ctx := context.Background()

	savePattern(t, s, Pattern{Steps: steps("a", "b", "c"), Frequency: 1})
	savePattern(t, s, Pattern{Steps: steps("c", "b", "a"), Frequency: 2})
	savePattern(t, s, Pattern{Steps: steps("b", "a", "c"), Frequency: 3})
	savePattern(t, s, Pattern{Steps: steps("a", "c", "b"), Frequency: 4})

	got := g.DetectWorkflow(ctx, []string{"a", "b", "c"})
	require.Len(t, got, 3)
	assert.Equal(t, int64(4), got[0].Frequency)
	assert.Equal(t, int64(3), got[1].Frequency)
	assert.Equal(t, int64(2), got[2].Frequency)
}

func TestPatterns_SkipsMalformed(t *testing.T) {
	t.Parallel()
	g, s := newTestGraph(t, Config{}, nil)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, storage.NSWorkflowPattern, "bad", []byte("{nope")))
	savePattern(t, s, Pattern{Steps: steps("a", "b"), Frequency: 3})

	patterns, err := g.Patterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, []string{"a", "b"}, patterns[0].Commands())
}

// --- Project Type Tests ---

func TestInferProjectType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  *workspace.Context
		want string
		conf float64
	}{
		{"nil", nil, "", 0},
		{"react", &workspace.Context{Package: &workspace.PackageInfo{Dependencies: []string{"lodash", "react"}}}, "react", 0.8},
		{"vue", &workspace.Context{Package: &workspace.PackageInfo{Dependencies: []string{"vue"}}}, "vue", 0.8},
		{"angular", &workspace.Context{Package: &workspace.PackageInfo{Dependencies: []string{"@angular/core"}}}, "angular", 0.8},
		{"express", &workspace.Context{Package: &workspace.PackageInfo{Dependencies: []string{"express"}}}, "express", 0.7},
		{"postgres service", &workspace.Context{Docker: &workspace.DockerInfo{Services: []string{"web", "postgres"}}}, "database", 0.6},
		{"mysql container", &workspace.Context{Docker: &workspace.DockerInfo{Containers: []string{"app-mysql-1"}}}, "database", 0.6},
		{"marker", &workspace.Context{ProjectTypes: []string{"go", "make"}}, "go", 0.5},
		{"nothing", &workspace.Context{Docker: &workspace.DockerInfo{Services: []string{"web"}}}, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := InferProjectType(tt.ctx)
			assert.Equal(t, tt.want, got.Type)
			assert.InDelta(t, tt.conf, got.Confidence, 1e-9)
		})
	}
}

func TestDetectProjectType(t *testing.T) {
	t.Parallel()
	ws := workspace.Static{Context: workspace.Context{
		Package: &workspace.PackageInfo{Manager: "npm", Dependencies: []string{"express"}},
	}}
	g, s := newTestGraph(t, Config{}, ws)
	ctx := context.Background()

	savePattern(t, s, Pattern{Steps: steps("npm start", "curl localhost"), Frequency: 4, Context: PatternContext{ProjectType: "express"}})
	savePattern(t, s, Pattern{Steps: steps("cargo build", "cargo test"), Frequency: 9, Context: PatternContext{ProjectType: "rust"}})

	info := g.DetectProjectType(ctx, "/srv/api")
	assert.Equal(t, "express", info.Type)
	assert.InDelta(t, 0.7, info.Confidence, 1e-9)
	require.Len(t, info.Patterns, 1)
	assert.Equal(t, []string{"npm start", "curl localhost"}, info.Patterns[0].Commands())

	empty := g.DetectProjectType(ctx, "")
	assert.Empty(t, empty.Type)
	assert.Empty(t, empty.Patterns)
}

// --- Degradation Tests ---

func TestGraph_ClosedStoreDegrades(t *testing.T) {
	t.Parallel()
	g, s := newTestGraph(t, Config{}, nil)
	ctx := context.Background()
	run(g, "s", "a", "b")
	require.NoError(t, s.Close())

	assert.NotPanics(t, func() { run(g, "s", "a", "b", "a", "b", "a", "b") })
	assert.Empty(t, g.SuggestNextCommands(ctx, "a", "", 0))
	assert.Nil(t, g.SuggestWorkflow(ctx, "a", ""))
	assert.Empty(t, g.DetectWorkflow(ctx, []string{"a", "b"}))
}
