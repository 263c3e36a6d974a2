// Package tracker keeps per-command statistics: frequency, success rate,
// average duration, peak usage hours, recent system states and the
// commands that usually come before and after. It answers "what next",
// "should I wait" and "what will this cost" from those statistics.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/rinawarp/cmdintel/internal/normalize"
	"github.com/rinawarp/cmdintel/internal/storage"
	"github.com/rinawarp/cmdintel/internal/sysstate"
)

// Config holds tracker limits.
type Config struct {
	// MaxPatterns is the number of patterns kept before eviction (default: 10000).
	MaxPatterns int

	// MaxRecentStates bounds the per-pattern system state ring (default: 100).
	MaxRecentStates int

	// PeakHours is the number of peak usage hours kept (default: 5).
	PeakHours int

	// MaxNeighbors bounds precursor and follow-up lists (default: 10).
	MaxNeighbors int

	// MaxPredictions is the number of predictions returned (default: 5).
	MaxPredictions int
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		MaxPatterns:     10000,
		MaxRecentStates: 100,
		PeakHours:       5,
		MaxNeighbors:    10,
		MaxPredictions:  5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPatterns <= 0 {
		c.MaxPatterns = d.MaxPatterns
	}
	if c.MaxRecentStates <= 0 {
		c.MaxRecentStates = d.MaxRecentStates
	}
	if c.PeakHours <= 0 {
		c.PeakHours = d.PeakHours
	}
	if c.MaxNeighbors <= 0 {
		c.MaxNeighbors = d.MaxNeighbors
	}
	if c.MaxPredictions <= 0 {
		c.MaxPredictions = d.MaxPredictions
	}
	return c
}

// Pattern is the stored record for one normalized command.
type Pattern struct {
	Command            string           `json:"command"`
	Frequency          int64            `json:"frequency"`
	SuccessRate        float64          `json:"successRate"`
	AvgImpact          float64          `json:"avgImpactMs"`
	HourCounts         [24]int64        `json:"hourCounts"`
	PeakUsageHours     []int            `json:"peakUsageHours"`
	RecentSystemStates []sysstate.State `json:"recentSystemStates"`
	CommonPrecursors   []Neighbor       `json:"commonPrecursors,omitempty"`
	CommonFollowUps    []Neighbor       `json:"commonFollowUps,omitempty"`
	LastUsed           time.Time        `json:"lastUsed"`
}

// Neighbor counts how often another command preceded or followed this one.
type Neighbor struct {
	Command string `json:"command"`
	Count   int64  `json:"count"`
}

// Execution is one completed command.
type Execution struct {
	Command  string
	Success  bool
	Duration time.Duration
	State    sysstate.State

	// Previous is the command run just before in the same session, if any.
	Previous string
}

// Options configures a Tracker.
type Options struct {
	Config Config
	Logger *slog.Logger
}

// Tracker implements the command pattern tracker over a shared store.
type Tracker struct {
	store   storage.Store
	cfg     Config
	logger  *slog.Logger
	nowFunc func() time.Time
}

// New creates a Tracker backed by store.
func New(store storage.Store, opts Options) *Tracker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:   store,
		cfg:     opts.Config.withDefaults(),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// RecordExecution folds one execution into its pattern. Failures are
// logged and otherwise ignored.
func (t *Tracker) RecordExecution(ctx context.Context, ex Execution) {
	key := normalize.Line(ex.Command)
	if key == "" {
		return
	}
	now := t.nowFunc()

	freq, err := t.store.Incr(ctx, storage.NSPattern, key, 1)
	if err != nil {
		t.logger.Warn("record execution failed", "op", "incr", "key", key, "error", err)
		return
	}

	p := t.load(ctx, key)
	p.Command = key

	oldFreq := float64(freq - 1)
	ok := 0.0
	if ex.Success {
		ok = 1
	}
	p.SuccessRate = clamp01((p.SuccessRate*oldFreq + ok) / float64(freq))
	p.AvgImpact = (p.AvgImpact*oldFreq + float64(ex.Duration.Milliseconds())) / float64(freq)
	p.Frequency = freq
	p.LastUsed = now

	p.HourCounts[now.Hour()]++
	p.PeakUsageHours = peakHours(p.HourCounts, t.cfg.PeakHours)

	state := ex.State
	if state.Timestamp.IsZero() {
		state.Timestamp = now
	}
	p.RecentSystemStates = append(p.RecentSystemStates, state)
	if over := len(p.RecentSystemStates) - t.cfg.MaxRecentStates; over > 0 {
		p.RecentSystemStates = append([]sysstate.State(nil), p.RecentSystemStates[over:]...)
	}

	prev := normalize.Line(ex.Previous)
	if prev != "" && prev != key {
		p.CommonPrecursors = bumpNeighbor(p.CommonPrecursors, prev, t.cfg.MaxNeighbors)
	}

	if err := storage.PutJSON(ctx, t.store, storage.NSPattern, key, p); err != nil {
		t.logger.Warn("record execution failed", "op", "put", "key", key, "error", err)
		return
	}

	if prev != "" && prev != key {
		t.addFollowUp(ctx, prev, key)
	}

	// Only a new key can push the namespace over capacity.
	if freq == 1 {
		t.prune(ctx)
	}
}

func (t *Tracker) addFollowUp(ctx context.Context, prev, key string) {
	var p Pattern
	if _, err := storage.GetJSON(ctx, t.store, storage.NSPattern, prev, &p); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.logger.Warn("record follow-up failed", "op", "get", "key", prev, "error", err)
		}
		return
	}
	p.CommonFollowUps = bumpNeighbor(p.CommonFollowUps, key, t.cfg.MaxNeighbors)
	if err := storage.PutJSON(ctx, t.store, storage.NSPattern, prev, p); err != nil {
		t.logger.Warn("record follow-up failed", "op", "put", "key", prev, "error", err)
	}
}

func (t *Tracker) prune(ctx context.Context) {
	n, err := t.store.Count(ctx, storage.NSPattern)
	if err != nil {
		t.logger.Warn("prune patterns failed", "op", "count", "error", err)
		return
	}
	if n <= t.cfg.MaxPatterns {
		return
	}
	deleted, err := t.store.Prune(ctx, storage.NSPattern, t.cfg.MaxPatterns)
	if err != nil {
		t.logger.Warn("prune patterns failed", "op", "prune", "error", err)
		return
	}
	t.logger.Debug("pruned command patterns", "deleted", deleted, "limit", t.cfg.MaxPatterns)
}

// load returns the stored pattern for key or a fresh one. A malformed
// record is logged and replaced.
func (t *Tracker) load(ctx context.Context, key string) Pattern {
	var p Pattern
	_, err := storage.GetJSON(ctx, t.store, storage.NSPattern, key, &p)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		t.logger.Warn("discarding stored pattern", "key", key, "error", err)
		return Pattern{}
	}
	return p
}

// Pattern returns the stored pattern for a raw or normalized command.
func (t *Tracker) Pattern(ctx context.Context, command string) (*Pattern, error) {
	key := normalize.Line(command)
	var p Pattern
	freq, err := storage.GetJSON(ctx, t.store, storage.NSPattern, key, &p)
	if err != nil {
		return nil, err
	}
	p.Command = key
	p.Frequency = freq
	return &p, nil
}

// Patterns returns every stored pattern, highest frequency first.
// Malformed records are skipped.
func (t *Tracker) Patterns(ctx context.Context) ([]Pattern, error) {
	recs, err := t.store.Scan(ctx, storage.NSPattern)
	if err != nil {
		return nil, err
	}
	out := make([]Pattern, 0, len(recs))
	for _, r := range recs {
		p, err := decodePattern(r)
		if err != nil {
			t.logger.Warn("skipping stored pattern", "key", r.Key, "error", err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// bumpNeighbor increments cmd in list, keeping it sorted by count and
// bounded to limit entries.
func bumpNeighbor(list []Neighbor, cmd string, limit int) []Neighbor {
	if limit <= 0 {
		return nil
	}
	found := false
	for i := range list {
		if list[i].Command == cmd {
			list[i].Count++
			found = true
			break
		}
	}
	if !found {
		list = append(list, Neighbor{Command: cmd, Count: 1})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Count > list[j].Count })
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

// peakHours returns up to n hours with non-zero counts, most frequent
// first and earlier hours first among ties.
func peakHours(counts [24]int64, n int) []int {
	hours := make([]int, 0, 24)
	for h, c := range counts {
		if c > 0 {
			hours = append(hours, h)
		}
	}
	sort.SliceStable(hours, func(i, j int) bool { return counts[hours[i]] > counts[hours[j]] })
	if len(hours) > n {
		hours = hours[:n]
	}
	return hours
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
