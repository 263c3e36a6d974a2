// Package workflow maintains the command transition graph and mines
// recurring multi-command sequences from each session's recent history.
//
// Every recorded command updates:
//   - its WorkflowNode (own success rate, workspace contexts)
//   - the edge from the session's previous command
//   - the session's rolling sequence, which is then mined for repeated
//     subsequences of MinSteps..MaxSteps commands
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rinawarp/cmdintel/internal/normalize"
	"github.com/rinawarp/cmdintel/internal/storage"
	"github.com/rinawarp/cmdintel/internal/workspace"
)

// Config holds graph and miner limits.
type Config struct {
	// SequenceSize is the rolling sequence capacity per session (default: 10).
	SequenceSize int

	// MinPatternFrequency is the recurrence count at which a subsequence is
	// promoted to a Pattern (default: 3).
	MinPatternFrequency int

	// MinSteps is the shortest mined subsequence (default: 2).
	MinSteps int

	// MaxSteps is the longest mined subsequence (default: 5).
	MaxSteps int

	// MaxContexts bounds the per-node context ring (default: 100).
	MaxContexts int

	// SimilarityThreshold is the Jaccard similarity a pattern must exceed
	// to be detected (default: 0.7).
	SimilarityThreshold float64

	// MaxSuggestions is the default limit for SuggestNextCommands (default: 5).
	MaxSuggestions int

	// MaxDetected is the number of patterns DetectWorkflow returns (default: 3).
	MaxDetected int

	// MaxSessions bounds the number of tracked sessions (default: 256).
	MaxSessions int
}

// DefaultConfig returns the default workflow configuration.
func DefaultConfig() Config {
	return Config{
		SequenceSize:        10,
		MinPatternFrequency: 3,
		MinSteps:            2,
		MaxSteps:            5,
		MaxContexts:         100,
		SimilarityThreshold: 0.7,
		MaxSuggestions:      5,
		MaxDetected:         3,
		MaxSessions:         256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SequenceSize <= 0 {
		c.SequenceSize = d.SequenceSize
	}
	if c.MinPatternFrequency <= 0 {
		c.MinPatternFrequency = d.MinPatternFrequency
	}
	if c.MinSteps < 2 {
		c.MinSteps = d.MinSteps
	}
	if c.MaxSteps < c.MinSteps {
		c.MaxSteps = max(d.MaxSteps, c.MinSteps)
	}
	if c.MaxContexts <= 0 {
		c.MaxContexts = d.MaxContexts
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	if c.MaxSuggestions <= 0 {
		c.MaxSuggestions = d.MaxSuggestions
	}
	if c.MaxDetected <= 0 {
		c.MaxDetected = d.MaxDetected
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = d.MaxSessions
	}
	return c
}

// Node is the stored record for one normalized command.
type Node struct {
	Command      string              `json:"command"`
	Frequency    int64               `json:"frequency"`
	SuccessRate  float64             `json:"successRate"`
	NextCommands map[string]*Edge    `json:"nextCommands,omitempty"`
	Contexts     []workspace.Context `json:"contexts,omitempty"`
}

// Edge is a transition from one command to the next.
type Edge struct {
	Count       int64   `json:"count"`
	SuccessRate float64 `json:"successRate"`
}

// Observation is one command as seen by the graph.
type Observation struct {
	Session string
	Command string
	Success bool

	// Dir is the working directory. When set, a workspace snapshot is
	// attached to the node and the sequence step.
	Dir string
}

// step is one entry of a session's persisted rolling sequence.
type step struct {
	Command string             `json:"command"`
	Success bool               `json:"success"`
	Context *workspace.Context `json:"context,omitempty"`
}

type sessionRecord struct {
	Steps []step `json:"steps"`
}

// Options configures a Graph.
type Options struct {
	Config    Config
	Workspace workspace.Provider
	Logger    *slog.Logger
}

// Graph implements the workflow graph and miner over a shared store.
type Graph struct {
	store     storage.Store
	workspace workspace.Provider
	cfg       Config
	logger    *slog.Logger
	nowFunc   func() time.Time

	// mu serializes the read-modify-write of session records.
	mu sync.Mutex
}

// New creates a Graph backed by store. A nil Workspace provider disables
// context capture.
func New(store storage.Store, opts Options) *Graph {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		store:     store,
		workspace: opts.Workspace,
		cfg:       opts.Config.withDefaults(),
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// RecordCommand folds one command into the graph and mines the session's
// rolling sequence. Failures are logged and otherwise ignored.
func (g *Graph) RecordCommand(ctx context.Context, obs Observation) {
	key := normalize.Line(obs.Command)
	if key == "" {
		return
	}

	wctx := g.snapshot(ctx, obs.Dir)
	prev, seq := g.push(ctx, obs.Session, step{Command: key, Success: obs.Success, Context: wctx})

	g.updateNode(ctx, key, obs.Success, wctx)
	if prev != "" {
		g.updateEdge(ctx, prev, key, obs.Success)
	}
	g.mine(ctx, seq)
}

// push appends s to the session's stored rolling sequence and returns the
// previous command plus the updated sequence. Session records live in the
// store so that separate processes sharing it continue the same sequence.
// Each record's frequency holds its last-seen time in unix nanoseconds,
// which lets Prune drop the stalest sessions beyond MaxSessions.
func (g *Graph) push(ctx context.Context, id string, s step) (string, []step) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, found, err := g.loadSession(ctx, id)
	if err != nil {
		g.logger.Warn("failed to load session sequence", "session", id, "error", err)
	}

	prev := ""
	if n := len(rec.Steps); n > 0 {
		prev = rec.Steps[n-1].Command
	}
	rec.Steps = append(rec.Steps, s)
	if over := len(rec.Steps) - g.cfg.SequenceSize; over > 0 {
		rec.Steps = append([]step(nil), rec.Steps[over:]...)
	}

	if err := storage.PutJSON(ctx, g.store, storage.NSSession, id, rec); err != nil {
		g.logger.Warn("failed to save session sequence", "session", id, "error", err)
		return prev, rec.Steps
	}
	if err := g.store.SetFrequency(ctx, storage.NSSession, id, g.nowFunc().UnixNano()); err != nil {
		g.logger.Warn("failed to stamp session", "session", id, "error", err)
	}
	if !found {
		if _, err := g.store.Prune(ctx, storage.NSSession, g.cfg.MaxSessions); err != nil {
			g.logger.Warn("failed to evict sessions", "error", err)
		}
	}
	return prev, rec.Steps
}

func (g *Graph) loadSession(ctx context.Context, id string) (sessionRecord, bool, error) {
	var rec sessionRecord
	_, err := storage.GetJSON(ctx, g.store, storage.NSSession, id, &rec)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return sessionRecord{}, false, nil
	case err != nil:
		return sessionRecord{}, true, err
	}
	return rec, true, nil
}

// Sequence returns the session's rolling sequence, oldest first, or nil for
// an unknown session.
func (g *Graph) Sequence(ctx context.Context, id string) []string {
	rec, found, err := g.loadSession(ctx, id)
	if err != nil {
		g.logger.Warn("failed to load session sequence", "session", id, "error", err)
	}
	if !found || len(rec.Steps) == 0 {
		return nil
	}
	out := make([]string, len(rec.Steps))
	for i, s := range rec.Steps {
		out[i] = s.Command
	}
	return out
}

func (g *Graph) snapshot(ctx context.Context, dir string) *workspace.Context {
	if dir == "" || g.workspace == nil {
		return nil
	}
	wctx, err := g.workspace.Snapshot(ctx, dir)
	if err != nil {
		g.logger.Warn("workspace snapshot failed", "dir", dir, "error", err)
		return nil
	}
	return wctx
}

func (g *Graph) updateNode(ctx context.Context, key string, success bool, wctx *workspace.Context) {
	freq, err := g.store.Incr(ctx, storage.NSWorkflowNode, key, 1)
	if err != nil {
		g.logger.Warn("record command failed", "op", "incr", "key", key, "error", err)
		return
	}

	n := g.loadNode(ctx, key)
	n.Command = key
	n.Frequency = freq
	n.SuccessRate = runningRate(n.SuccessRate, freq-1, success)
	if wctx != nil {
		n.Contexts = append(n.Contexts, *wctx)
		if over := len(n.Contexts) - g.cfg.MaxContexts; over > 0 {
			n.Contexts = append([]workspace.Context(nil), n.Contexts[over:]...)
		}
	}

	if err := storage.PutJSON(ctx, g.store, storage.NSWorkflowNode, key, n); err != nil {
		g.logger.Warn("record command failed", "op", "put", "key", key, "error", err)
	}
}

func (g *Graph) updateEdge(ctx context.Context, prev, key string, success bool) {
	n, err := g.Node(ctx, prev)
	if err != nil {
		g.logger.Warn("record transition failed", "op", "get", "key", prev, "error", err)
		return
	}
	if n.NextCommands == nil {
		n.NextCommands = make(map[string]*Edge)
	}
	e, ok := n.NextCommands[key]
	if !ok {
		e = &Edge{}
		n.NextCommands[key] = e
	}
	e.SuccessRate = runningRate(e.SuccessRate, e.Count, success)
	e.Count++

	if err := storage.PutJSON(ctx, g.store, storage.NSWorkflowNode, prev, n); err != nil {
		g.logger.Warn("record transition failed", "op", "put", "key", prev, "error", err)
	}
}

// loadNode returns the stored node or a fresh one; malformed records are
// logged and replaced.
func (g *Graph) loadNode(ctx context.Context, key string) *Node {
	var n Node
	if _, err := storage.GetJSON(ctx, g.store, storage.NSWorkflowNode, key, &n); err != nil && !errors.Is(err, storage.ErrNotFound) {
		g.logger.Warn("discarding stored workflow node", "key", key, "error", err)
		return &Node{}
	}
	return &n
}

// Node returns the stored node for a raw or normalized command.
func (g *Graph) Node(ctx context.Context, command string) (*Node, error) {
	key := normalize.Line(command)
	var n Node
	freq, err := storage.GetJSON(ctx, g.store, storage.NSWorkflowNode, key, &n)
	if err != nil {
		return nil, err
	}
	n.Command = key
	n.Frequency = freq
	return &n, nil
}

// Suggestion is a ranked next command.
type Suggestion struct {
	Command    string  `json:"command"`
	Confidence float64 `json:"confidence"`
}

// SuggestNextCommands ranks the recorded transitions out of command by
// count*successRate, scaled by how closely the current workspace matches
// the one last seen with command. limit <= 0 uses the configured default.
func (g *Graph) SuggestNextCommands(ctx context.Context, command, dir string, limit int) []Suggestion {
	if limit <= 0 {
		limit = g.cfg.MaxSuggestions
	}
	n, err := g.Node(ctx, command)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			g.logger.Warn("suggest next commands failed", "key", normalize.Line(command), "error", err)
		}
		return []Suggestion{}
	}

	factor := 1.0
	if cur := g.snapshot(ctx, dir); cur != nil && len(n.Contexts) > 0 {
		factor = 0.5 + 0.5*contextSimilarity(&n.Contexts[len(n.Contexts)-1], cur)
	}

	out := make([]Suggestion, 0, len(n.NextCommands))
	for cmd, e := range n.NextCommands {
		if e == nil || e.Count <= 0 {
			continue
		}
		out = append(out, Suggestion{Command: cmd, Confidence: float64(e.Count) * e.SuccessRate * factor})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Command < out[j].Command
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// contextSimilarity is the fraction of matching signals between two
// snapshots: directory, git branch, package manager and docker container
// overlap. Signals absent from both snapshots are not counted.
func contextSimilarity(a, b *workspace.Context) float64 {
	total, matched := 1.0, 0.0
	if a.Directory == b.Directory {
		matched++
	}

	if a.Git != nil || b.Git != nil {
		total++
		if a.Git != nil && b.Git != nil && a.Git.Branch == b.Git.Branch {
			matched++
		}
	}
	if a.Package != nil || b.Package != nil {
		total++
		if a.Package != nil && b.Package != nil && a.Package.Manager == b.Package.Manager {
			matched++
		}
	}
	if a.Docker != nil || b.Docker != nil {
		total++
		if a.Docker != nil && b.Docker != nil {
			matched += jaccard(a.Docker.Containers, b.Docker.Containers)
		}
	}
	return matched / total
}

// runningRate folds one outcome into a rate observed over n prior events.
func runningRate(rate float64, n int64, success bool) float64 {
	ok := 0.0
	if success {
		ok = 1
	}
	r := (rate*float64(n) + ok) / float64(n+1)
	return min(max(r, 0), 1)
}

// jaccard returns |a∩b|/|a∪b| over the distinct elements. Two empty sets
// are identical.
func jaccard(a, b []string) float64 {
	setA := make(map[string]bool, len(a))
	for _, s := range a {
		setA[s] = true
	}
	setB := make(map[string]bool, len(b))
	for _, s := range b {
		setB[s] = true
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	inter := 0
	for s := range setA {
		if setB[s] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}
