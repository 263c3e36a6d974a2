// Package errorpattern correlates failed commands with the recovery
// commands that historically fixed them, and blends those learned
// recoveries with suggestions from an AI oracle.
package errorpattern

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rinawarp/cmdintel/internal/normalize"
	"github.com/rinawarp/cmdintel/internal/oracle"
	"github.com/rinawarp/cmdintel/internal/storage"
)

// Config holds matcher limits.
type Config struct {
	// MaxPatterns is the number of error patterns kept (default: 50).
	MaxPatterns int

	// MaxSuggestions caps merged suggestions (default: 5).
	MaxSuggestions int

	// TopPatterns is the number of patterns reported by Stats (default: 5).
	TopPatterns int

	// TopRecoveries is the number of actions reported per pattern (default: 3).
	TopRecoveries int
}

// DefaultConfig returns the default matcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxPatterns:    50,
		MaxSuggestions: 5,
		TopPatterns:    5,
		TopRecoveries:  3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPatterns <= 0 {
		c.MaxPatterns = d.MaxPatterns
	}
	if c.MaxSuggestions <= 0 {
		c.MaxSuggestions = d.MaxSuggestions
	}
	if c.TopPatterns <= 0 {
		c.TopPatterns = d.TopPatterns
	}
	if c.TopRecoveries <= 0 {
		c.TopRecoveries = d.TopRecoveries
	}
	return c
}

// Environment is captured when a pattern is created and never updated.
type Environment struct {
	OperatingSystem string   `json:"operatingSystem"`
	ProjectType     string   `json:"projectType,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
}

// RecoveryAction is a command used to recover from a pattern's error.
type RecoveryAction struct {
	Command     string  `json:"command"`
	SuccessRate float64 `json:"successRate"`
	Attempts    int64   `json:"attempts"`
}

// Pattern is a stored error signature with its learned recoveries.
type Pattern struct {
	ID              string           `json:"id"`
	CommandPattern  string           `json:"commandPattern"`
	ErrorPattern    string           `json:"errorPattern"`
	FailureClass    FailureClass     `json:"failureClass,omitempty"`
	Frequency       int64            `json:"frequency"`
	RecoveryActions []RecoveryAction `json:"recoveryActions"`
	Context         Environment      `json:"context"`
	CreatedAt       time.Time        `json:"createdAt"`
	LastSeen        time.Time        `json:"lastSeen"`
}

// matches reports whether command and errText fall under p.
// An empty ErrorPattern never matches.
func (p *Pattern) matches(command, errText string) bool {
	if p.ErrorPattern == "" {
		return false
	}
	return strings.HasPrefix(command, p.CommandPattern) && strings.Contains(errText, p.ErrorPattern)
}

// Failure describes a failed command to analyze.
type Failure struct {
	Command  string
	Error    string
	ExitCode int

	// Directory and Environment are forwarded to the oracle; Environment
	// is frozen into newly created patterns.
	Directory   string
	Environment Environment
}

// Suggestion sources.
const (
	SourceOracle  = "oracle"
	SourceLearned = "learned"
)

// Suggestion is a ranked recovery command.
type Suggestion struct {
	Command     string  `json:"command"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source"`
	Destructive bool    `json:"destructive,omitempty"`
}

// Analysis is the result of AnalyzeError.
type Analysis struct {
	Analysis     string       `json:"analysis"`
	Suggestions  []Suggestion `json:"suggestions"`
	FailureClass FailureClass `json:"failureClass,omitempty"`
	PatternID    string       `json:"patternId,omitempty"`
}

// Options configures a Matcher.
type Options struct {
	Config     Config
	Oracle     oracle.Oracle
	Classifier *Classifier
	Logger     *slog.Logger
}

// Matcher implements the error pattern matcher over a shared store.
type Matcher struct {
	store      storage.Store
	oracle     oracle.Oracle
	classifier *Classifier
	cfg        Config
	logger     *slog.Logger
	nowFunc    func() time.Time
	newID      func() string
}

// New creates a Matcher backed by store. A nil Oracle disables AI analysis.
func New(store storage.Store, opts Options) *Matcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := opts.Oracle
	if o == nil {
		o = oracle.Nop{}
	}
	cls := opts.Classifier
	if cls == nil {
		cls = NewClassifier(nil)
	}
	return &Matcher{
		store:      store,
		oracle:     o,
		classifier: cls,
		cfg:        opts.Config.withDefaults(),
		logger:     logger,
		nowFunc:    time.Now,
		newID:      uuid.NewString,
	}
}

// ErrorText returns the signature text AnalyzeError stores for f.
func (m *Matcher) ErrorText(f Failure) string {
	text, _ := m.errorText(f)
	return text
}

// errorText returns the first line of the error, or a description of the
// exit code when no output was captured.
func (m *Matcher) errorText(f Failure) (string, FailureClass) {
	cls := m.classifier.Classify(f.ExitCode, f.Error)
	text := firstLine(f.Error)
	if text == "" && cls != ClassNone {
		text = Describe(f.ExitCode, cls)
	}
	return text, cls
}

// AnalyzeError asks the oracle about the failure, merges its suggestions
// with learned recoveries of similar patterns and records the failure.
// The oracle is optional; its absence or failure only drops its part of
// the result.
func (m *Matcher) AnalyzeError(ctx context.Context, f Failure) Analysis {
	command := strings.TrimSpace(f.Command)
	errText, cls := m.errorText(f)
	res := Analysis{Suggestions: []Suggestion{}, FailureClass: cls}
	if command == "" {
		return res
	}

	var fromOracle []Suggestion
	exp, err := m.oracle.ExplainError(ctx, oracle.Request{
		Command:      command,
		Error:        f.Error,
		ExitCode:     f.ExitCode,
		Directory:    f.Directory,
		OS:           osName(f.Environment),
		ProjectType:  f.Environment.ProjectType,
		Dependencies: f.Environment.Dependencies,
	})
	switch {
	case errors.Is(err, oracle.ErrUnavailable):
		m.logger.Debug("oracle unavailable, using learned suggestions", "command", command)
	case err != nil:
		m.logger.Warn("analyze error failed", "op", "oracle", "command", command, "error", err)
	case exp != nil:
		res.Analysis = exp.Analysis
		for _, s := range exp.Suggestions {
			fromOracle = append(fromOracle, Suggestion{Command: s.Command, Confidence: s.Confidence, Source: SourceOracle})
		}
	}

	matchText := f.Error
	if strings.TrimSpace(matchText) == "" {
		matchText = errText
	}
	similar, err := m.findSimilar(ctx, command, matchText)
	if err != nil {
		m.logger.Warn("analyze error failed", "op", "scan", "command", command, "error", err)
	}
	var learned []Suggestion
	for _, p := range similar {
		for _, a := range p.RecoveryActions {
			learned = append(learned, Suggestion{Command: a.Command, Confidence: a.SuccessRate, Source: SourceLearned})
		}
	}
	res.Suggestions = m.merge(fromOracle, learned)

	if err == nil {
		var best *Pattern
		if len(similar) > 0 {
			best = &similar[0]
		}
		res.PatternID = m.record(ctx, best, command, errText, cls, f.Environment)
	}
	return res
}

// merge deduplicates by command text keeping the highest confidence, then
// ranks and caps the result.
func (m *Matcher) merge(lists ...[]Suggestion) []Suggestion {
	byCmd := make(map[string]Suggestion)
	for _, list := range lists {
		for _, s := range list {
			s.Command = strings.TrimSpace(s.Command)
			if s.Command == "" {
				continue
			}
			if cur, ok := byCmd[s.Command]; ok && cur.Confidence >= s.Confidence {
				continue
			}
			s.Destructive = oracle.IsDestructive(s.Command)
			byCmd[s.Command] = s
		}
	}
	out := make([]Suggestion, 0, len(byCmd))
	for _, s := range byCmd {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Command < out[j].Command
	})
	if len(out) > m.cfg.MaxSuggestions {
		out = out[:m.cfg.MaxSuggestions]
	}
	return out
}

// record bumps best, or creates a new pattern when there is no match. It
// returns the pattern id, or "" on failure or when errText is empty.
func (m *Matcher) record(ctx context.Context, best *Pattern, command, errText string, cls FailureClass, env Environment) string {
	if errText == "" {
		return ""
	}
	now := m.nowFunc()
	if best != nil {
		freq, err := m.store.Incr(ctx, storage.NSErrorPattern, best.ID, 1)
		if err != nil {
			m.logger.Warn("record error pattern failed", "op", "incr", "key", best.ID, "error", err)
			return ""
		}
		best.Frequency = freq
		best.LastSeen = now
		if err := storage.PutJSON(ctx, m.store, storage.NSErrorPattern, best.ID, best); err != nil {
			m.logger.Warn("record error pattern failed", "op", "put", "key", best.ID, "error", err)
		}
		return best.ID
	}

	p := Pattern{
		ID:              m.newID(),
		CommandPattern:  normalize.FirstToken(command),
		ErrorPattern:    errText,
		FailureClass:    cls,
		Frequency:       1,
		RecoveryActions: []RecoveryAction{},
		Context:         env,
		CreatedAt:       now,
		LastSeen:        now,
	}
	if p.Context.OperatingSystem == "" {
		p.Context.OperatingSystem = runtime.GOOS
	}
	if err := storage.PutJSON(ctx, m.store, storage.NSErrorPattern, p.ID, p); err != nil {
		m.logger.Warn("record error pattern failed", "op", "put", "key", p.ID, "error", err)
		return ""
	}
	if _, err := m.store.Incr(ctx, storage.NSErrorPattern, p.ID, 1); err != nil {
		m.logger.Warn("record error pattern failed", "op", "incr", "key", p.ID, "error", err)
	}
	m.prune(ctx)
	return p.ID
}

func (m *Matcher) prune(ctx context.Context) {
	n, err := m.store.Count(ctx, storage.NSErrorPattern)
	if err != nil {
		m.logger.Warn("prune error patterns failed", "op", "count", "error", err)
		return
	}
	if n <= m.cfg.MaxPatterns {
		return
	}
	if _, err := m.store.Prune(ctx, storage.NSErrorPattern, m.cfg.MaxPatterns); err != nil {
		m.logger.Warn("prune error patterns failed", "op", "prune", "error", err)
	}
}

// RecordRecoveryAttempt reinforces recoveryCommand on the best pattern
// matching the original failure. It is a no-op when nothing matches. For
// failures without output, pass the ErrorText of the analysis.
func (m *Matcher) RecordRecoveryAttempt(ctx context.Context, original, errText, recoveryCommand string, success bool) {
	original = strings.TrimSpace(original)
	recoveryCommand = strings.TrimSpace(recoveryCommand)
	if original == "" || recoveryCommand == "" {
		return
	}

	similar, err := m.findSimilar(ctx, original, errText)
	if err != nil {
		m.logger.Warn("record recovery failed", "op", "scan", "command", original, "error", err)
		return
	}
	if len(similar) == 0 {
		m.logger.Debug("no error pattern for recovery", "command", original)
		return
	}
	p := similar[0]

	outcome := 0.0
	if success {
		outcome = 1
	}
	found := false
	for i := range p.RecoveryActions {
		a := &p.RecoveryActions[i]
		if a.Command != recoveryCommand {
			continue
		}
		total := float64(p.Frequency)
		a.SuccessRate = min(max((a.SuccessRate*total+outcome)/(total+1), 0), 1)
		a.Attempts++
		found = true
		break
	}
	if !found {
		p.RecoveryActions = append(p.RecoveryActions, RecoveryAction{Command: recoveryCommand, SuccessRate: outcome, Attempts: 1})
	}

	if err := storage.PutJSON(ctx, m.store, storage.NSErrorPattern, p.ID, p); err != nil {
		m.logger.Warn("record recovery failed", "op", "put", "key", p.ID, "error", err)
	}
}

// Patterns returns every stored pattern, highest frequency first.
// Malformed records are skipped.
func (m *Matcher) Patterns(ctx context.Context) ([]Pattern, error) {
	recs, err := m.store.Scan(ctx, storage.NSErrorPattern)
	if err != nil {
		return nil, err
	}
	out := make([]Pattern, 0, len(recs))
	for _, r := range recs {
		var p Pattern
		if err := json.Unmarshal(r.Value, &p); err != nil {
			m.logger.Warn("skipping stored error pattern", "key", r.Key, "error", err)
			continue
		}
		p.ID = r.Key
		p.Frequency = r.Frequency
		out = append(out, p)
	}
	return out, nil
}

// findSimilar returns the patterns matching command and errText, most
// frequent first.
func (m *Matcher) findSimilar(ctx context.Context, command, errText string) ([]Pattern, error) {
	all, err := m.Patterns(ctx)
	if err != nil {
		return nil, err
	}
	var out []Pattern
	for i := range all {
		if all[i].matches(command, errText) {
			out = append(out, all[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Frequency > out[j].Frequency })
	return out, nil
}

// PatternSummary is a pattern with its best recovery actions.
type PatternSummary struct {
	ID              string           `json:"id"`
	CommandPattern  string           `json:"commandPattern"`
	ErrorPattern    string           `json:"errorPattern"`
	Frequency       int64            `json:"frequency"`
	RecoveryActions []RecoveryAction `json:"recoveryActions"`
}

// Stats summarizes stored error patterns.
type Stats struct {
	TotalPatterns       int              `json:"totalPatterns"`
	TopPatterns         []PatternSummary `json:"topPatterns"`
	RecoverySuccessRate float64          `json:"recoverySuccessRate"`
}

// GetErrorStats reports the pattern count, the most frequent patterns
// with their best recoveries, and the recovery success rate across all
// actions weighted by pattern frequency.
func (m *Matcher) GetErrorStats(ctx context.Context) Stats {
	stats := Stats{TopPatterns: []PatternSummary{}}
	all, err := m.Patterns(ctx)
	if err != nil {
		m.logger.Warn("error stats failed", "op", "scan", "error", err)
		return stats
	}
	stats.TotalPatterns = len(all)

	var weighted, weights float64
	for _, p := range all {
		for _, a := range p.RecoveryActions {
			weighted += float64(p.Frequency) * a.SuccessRate
			weights += float64(p.Frequency)
		}
	}
	if weights > 0 {
		stats.RecoverySuccessRate = weighted / weights
	}

	for i := 0; i < len(all) && i < m.cfg.TopPatterns; i++ {
		p := all[i]
		actions := append([]RecoveryAction(nil), p.RecoveryActions...)
		sort.SliceStable(actions, func(a, b int) bool { return actions[a].SuccessRate > actions[b].SuccessRate })
		if len(actions) > m.cfg.TopRecoveries {
			actions = actions[:m.cfg.TopRecoveries]
		}
		if actions == nil {
			actions = []RecoveryAction{}
		}
		stats.TopPatterns = append(stats.TopPatterns, PatternSummary{
			ID:              p.ID,
			CommandPattern:  p.CommandPattern,
			ErrorPattern:    p.ErrorPattern,
			Frequency:       p.Frequency,
			RecoveryActions: actions,
		})
	}
	return stats
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func osName(env Environment) string {
	if env.OperatingSystem != "" {
		return env.OperatingSystem
	}
	return runtime.GOOS
}
