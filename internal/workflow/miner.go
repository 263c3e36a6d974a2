package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rinawarp/cmdintel/internal/normalize"
	"github.com/rinawarp/cmdintel/internal/storage"
	"github.com/rinawarp/cmdintel/internal/workspace"
)

// DefaultEnvironment is assumed when no snapshot names an environment.
const DefaultEnvironment = "development"

// Pattern is a mined workflow: an ordered run of commands observed to
// recur within a session's rolling sequence.
type Pattern struct {
	ID        string         `json:"id"`
	Steps     []Step         `json:"steps"`
	Frequency int64          `json:"frequency"`
	LastUsed  time.Time      `json:"lastUsed"`
	Context   PatternContext `json:"contexts"`
}

// Step is one command of a Pattern.
type Step struct {
	Command     string  `json:"command"`
	SuccessRate float64 `json:"successRate"`
}

// PatternContext summarizes the workspaces a pattern occurred in.
type PatternContext struct {
	ProjectType string   `json:"projectType,omitempty"`
	TechStack   []string `json:"techStack,omitempty"`
	Environment string   `json:"environment"`
}

// Commands returns the step commands in order.
func (p Pattern) Commands() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Command
	}
	return out
}

// Name is a short human-readable summary of the pattern.
func (p Pattern) Name() string {
	cmds := p.Commands()
	if len(cmds) <= 3 {
		return strings.Join(cmds, " -> ")
	}
	return cmds[0] + " -> " + cmds[1] + " -> ... -> " + cmds[len(cmds)-1]
}

type candidate struct {
	commands []string
	starts   []int
}

// mine counts every MinSteps..MaxSteps subsequence of seq, including
// overlapping occurrences, and promotes those recurring at least
// MinPatternFrequency times.
func (g *Graph) mine(ctx context.Context, seq []step) {
	for _, c := range g.candidates(seq) {
		if len(c.starts) < g.cfg.MinPatternFrequency {
			continue
		}
		g.promote(ctx, seq, c)
	}
}

func (g *Graph) candidates(seq []step) []*candidate {
	byKey := make(map[string]*candidate)
	var order []*candidate
	for length := g.cfg.MinSteps; length <= g.cfg.MaxSteps; length++ {
		for start := 0; start+length <= len(seq); start++ {
			cmds := make([]string, length)
			for i := range cmds {
				cmds[i] = seq[start+i].Command
			}
			key := patternKey(cmds)
			c, ok := byKey[key]
			if !ok {
				c = &candidate{commands: cmds}
				byKey[key] = c
				order = append(order, c)
			}
			c.starts = append(c.starts, start)
		}
	}
	return order
}

func (g *Graph) promote(ctx context.Context, seq []step, c *candidate) {
	id := patternHash(c.commands)
	length := len(c.commands)

	steps := make([]Step, length)
	var contexts []workspace.Context
	for i, cmd := range c.commands {
		ok := 0
		for _, start := range c.starts {
			s := seq[start+i]
			if s.Success {
				ok++
			}
			if s.Context != nil {
				contexts = append(contexts, *s.Context)
			}
		}
		steps[i] = Step{Command: cmd, SuccessRate: float64(ok) / float64(len(c.starts))}
	}

	p := Pattern{
		ID:        id,
		Steps:     steps,
		Frequency: int64(len(c.starts)),
		LastUsed:  g.nowFunc(),
		Context:   inferContext(contexts),
	}
	if err := storage.PutJSON(ctx, g.store, storage.NSWorkflowPattern, id, p); err != nil {
		g.logger.Warn("promote workflow failed", "op", "put", "key", id, "error", err)
		return
	}
	if err := g.store.SetFrequency(ctx, storage.NSWorkflowPattern, id, p.Frequency); err != nil {
		g.logger.Warn("promote workflow failed", "op", "set frequency", "key", id, "error", err)
		return
	}
	g.logger.Debug("promoted workflow", "id", id, "steps", length, "frequency", p.Frequency)
}

// patternKey joins the commands of a sequence into a map key.
func patternKey(commands []string) string {
	return strings.Join(commands, "|")
}

// patternHash computes a stable id for a command sequence.
func patternHash(commands []string) string {
	h := sha256.Sum256([]byte(patternKey(commands)))
	return fmt.Sprintf("%x", h[:16])
}

// inferContext takes majority signals across snapshots: a package manager
// contributes its name, docker contributes "docker", a git branch
// contributes "git". Project type and environment are the most common
// values.
func inferContext(contexts []workspace.Context) PatternContext {
	pc := PatternContext{Environment: DefaultEnvironment}
	if len(contexts) == 0 {
		return pc
	}

	signals := make(map[string]int)
	types := make(map[string]int)
	envs := make(map[string]int)
	for i := range contexts {
		c := &contexts[i]
		for _, s := range techSignals(c) {
			signals[s]++
		}
		if t := InferProjectType(c); t.Type != "" {
			types[t.Type]++
		}
		if c.Env != nil && c.Env.Environment != "" {
			envs[c.Env.Environment]++
		}
	}

	half := len(contexts) / 2
	for s, n := range signals {
		if n > half {
			pc.TechStack = append(pc.TechStack, s)
		}
	}
	sort.Strings(pc.TechStack)

	pc.ProjectType = mostCommon(types)
	if env := mostCommon(envs); env != "" {
		pc.Environment = env
	}
	return pc
}

func techSignals(c *workspace.Context) []string {
	var out []string
	if c.Package != nil && c.Package.Manager != "" {
		out = append(out, c.Package.Manager)
	}
	if c.Docker != nil {
		out = append(out, "docker")
	}
	if c.Git != nil && c.Git.Branch != "" {
		out = append(out, "git")
	}
	return out
}

// mostCommon returns the key with the highest count, smallest key among
// ties, or "" for an empty map.
func mostCommon(counts map[string]int) string {
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}

// Patterns returns every stored pattern, highest frequency first.
// Malformed records are skipped.
func (g *Graph) Patterns(ctx context.Context) ([]Pattern, error) {
	recs, err := g.store.Scan(ctx, storage.NSWorkflowPattern)
	if err != nil {
		return nil, err
	}
	out := make([]Pattern, 0, len(recs))
	for _, r := range recs {
		var p Pattern
		if err := json.Unmarshal(r.Value, &p); err != nil || len(p.Steps) == 0 {
			g.logger.Warn("skipping stored workflow", "key", r.Key, "error", err)
			continue
		}
		p.ID = r.Key
		p.Frequency = r.Frequency
		out = append(out, p)
	}
	return out, nil
}

// Pattern returns one stored pattern by id.
func (g *Graph) Pattern(ctx context.Context, id string) (*Pattern, error) {
	var p Pattern
	freq, err := storage.GetJSON(ctx, g.store, storage.NSWorkflowPattern, id, &p)
	if err != nil {
		return nil, err
	}
	p.ID = id
	p.Frequency = freq
	return &p, nil
}

// ScoredPattern is a Pattern with its ranking score.
type ScoredPattern struct {
	Pattern
	Score float64 `json:"score"`
}

// SuggestWorkflow returns the best stored pattern containing command, or
// nil. Patterns are scored by frequency, boosted when the current
// workspace matches the pattern's project type, tech stack and
// environment.
func (g *Graph) SuggestWorkflow(ctx context.Context, command, dir string) *ScoredPattern {
	key := normalize.Line(command)
	if key == "" {
		return nil
	}
	patterns, err := g.Patterns(ctx)
	if err != nil {
		g.logger.Warn("suggest workflow failed", "op", "scan", "error", err)
		return nil
	}

	var cur *PatternContext
	if wctx := g.snapshot(ctx, dir); wctx != nil {
		pc := inferContext([]workspace.Context{*wctx})
		cur = &pc
	}

	var best *ScoredPattern
	for _, p := range patterns {
		if !slices.Contains(p.Commands(), key) {
			continue
		}
		score := float64(p.Frequency)
		if cur != nil {
			if cur.ProjectType != "" && cur.ProjectType == p.Context.ProjectType {
				score *= 1.5
			}
			if overlaps(cur.TechStack, p.Context.TechStack) {
				score *= 1.3
			}
			if cur.Environment == p.Context.Environment {
				score *= 1.2
			}
		}
		if best == nil || score > best.Score {
			best = &ScoredPattern{Pattern: p, Score: score}
		}
	}
	return best
}

func overlaps(a, b []string) bool {
	for _, s := range a {
		if slices.Contains(b, s) {
			return true
		}
	}
	return false
}

// DetectWorkflow returns the stored patterns whose command set is more
// similar to commands than the configured Jaccard threshold, most
// frequent first.
func (g *Graph) DetectWorkflow(ctx context.Context, commands []string) []ScoredPattern {
	keys := make([]string, 0, len(commands))
	for _, c := range commands {
		if k := normalize.Line(c); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return []ScoredPattern{}
	}

	patterns, err := g.Patterns(ctx)
	if err != nil {
		g.logger.Warn("detect workflow failed", "op", "scan", "error", err)
		return []ScoredPattern{}
	}

	out := []ScoredPattern{}
	for _, p := range patterns {
		if sim := jaccard(keys, p.Commands()); sim > g.cfg.SimilarityThreshold {
			out = append(out, ScoredPattern{Pattern: p, Score: sim})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Frequency > out[j].Frequency })
	if len(out) > g.cfg.MaxDetected {
		out = out[:g.cfg.MaxDetected]
	}
	return out
}
