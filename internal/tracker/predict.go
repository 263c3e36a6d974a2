package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/rinawarp/cmdintel/internal/normalize"
	"github.com/rinawarp/cmdintel/internal/storage"
	"github.com/rinawarp/cmdintel/internal/sysstate"
)

// Prediction is a scored next-command candidate.
type Prediction struct {
	Command string  `json:"command"`
	Score   float64 `json:"score"`
}

// Timing advises whether to run a command now.
type Timing struct {
	ShouldWait bool   `json:"shouldWait"`
	Reason     string `json:"reason"`
	PeakHours  []int  `json:"peakHours,omitempty"`
}

// Timing reasons.
const (
	ReasonConstrained = "resource-constrained"
	ReasonNoHistory   = "no-history"
	ReasonPeakHour    = "peak-hour"
	ReasonOffPeak     = "off-peak"
)

// Impact is the expected resource change relative to the current state.
type Impact struct {
	CPU        float64 `json:"cpuImpact"`
	Memory     float64 `json:"memoryImpact"`
	IO         float64 `json:"ioImpact"`
	Network    float64 `json:"networkImpact"`
	DurationMs float64 `json:"duration"`
	Confidence float64 `json:"confidence"`
	Samples    int     `json:"samples"`
}

// PredictNextCommands ranks every known pattern against the recent
// commands and the current state and returns the best candidates.
func (t *Tracker) PredictNextCommands(ctx context.Context, recent []string, state sysstate.State) []Prediction {
	patterns, err := t.Patterns(ctx)
	if err != nil {
		t.logger.Warn("predict next commands failed", "op", "scan", "error", err)
		return []Prediction{}
	}

	recentKeys := make(map[string]bool, len(recent))
	for _, r := range recent {
		if k := normalize.Line(r); k != "" {
			recentKeys[k] = true
		}
	}
	hour := t.nowFunc().Hour()

	preds := make([]Prediction, 0, len(patterns))
	for _, p := range patterns {
		preds = append(preds, Prediction{Command: p.Command, Score: score(p, recentKeys, hour, state)})
	}

	sort.SliceStable(preds, func(i, j int) bool {
		if preds[i].Score != preds[j].Score {
			return preds[i].Score > preds[j].Score
		}
		return preds[i].Command < preds[j].Command
	})
	if len(preds) > t.cfg.MaxPredictions {
		preds = preds[:t.cfg.MaxPredictions]
	}
	return preds
}

// score = log10(freq) + 2*successRate + precursor bonus + peak-hour bonus
// + similarity to the most recent recorded state.
func score(p Pattern, recent map[string]bool, hour int, state sysstate.State) float64 {
	s := 0.0
	if p.Frequency > 0 {
		s += math.Log10(float64(p.Frequency))
	}
	s += p.SuccessRate * 2
	for _, n := range p.CommonPrecursors {
		if recent[n.Command] {
			s += 1
			break
		}
	}
	if slices.Contains(p.PeakUsageHours, hour) {
		s += 0.5
	}
	if n := len(p.RecentSystemStates); n > 0 {
		s += sysstate.Similarity(state, p.RecentSystemStates[n-1])
	}
	return s
}

// SuggestTiming advises whether command should wait. Resource pressure
// always says wait; otherwise commands are encouraged during their usual
// hours.
func (t *Tracker) SuggestTiming(ctx context.Context, command string, state sysstate.State) Timing {
	if sysstate.Constrained(state) {
		return Timing{ShouldWait: true, Reason: ReasonConstrained}
	}

	p, err := t.Pattern(ctx, command)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.logger.Warn("suggest timing failed", "key", normalize.Line(command), "error", err)
		}
		return Timing{ShouldWait: false, Reason: ReasonNoHistory}
	}

	if slices.Contains(p.PeakUsageHours, t.nowFunc().Hour()) {
		return Timing{ShouldWait: false, Reason: ReasonPeakHour, PeakHours: p.PeakUsageHours}
	}
	return Timing{ShouldWait: true, Reason: ReasonOffPeak, PeakHours: p.PeakUsageHours}
}

// PredictImpact averages the difference between each recorded state and
// the current one. Confidence grows with frequency and is halved when
// CPU deltas vary widely.
func (t *Tracker) PredictImpact(ctx context.Context, command string, state sysstate.State) Impact {
	p, err := t.Pattern(ctx, command)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.logger.Warn("predict impact failed", "key", normalize.Line(command), "error", err)
		}
		return Impact{}
	}
	n := len(p.RecentSystemStates)
	if n == 0 {
		return Impact{}
	}

	var imp Impact
	cpuDeltas := make([]float64, 0, n)
	for _, s := range p.RecentSystemStates {
		d := s.CPULoad - state.CPULoad
		cpuDeltas = append(cpuDeltas, d)
		imp.CPU += d
		imp.Memory += s.MemoryUsage - state.MemoryUsage
		imp.IO += s.DiskIO - state.DiskIO
		imp.Network += s.NetworkIO - state.NetworkIO
	}
	fn := float64(n)
	imp.CPU /= fn
	imp.Memory /= fn
	imp.IO /= fn
	imp.Network /= fn
	imp.DurationMs = p.AvgImpact
	imp.Samples = n

	stability := 0.5
	if stddev(cpuDeltas) < 20 {
		stability = 1
	}
	imp.Confidence = math.Min(float64(p.Frequency)/100, stability)
	return imp
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	v := 0.0
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return math.Sqrt(v / float64(len(xs)))
}

func decodePattern(r storage.Record) (Pattern, error) {
	var p Pattern
	if len(r.Value) > 0 {
		if err := json.Unmarshal(r.Value, &p); err != nil {
			return Pattern{}, fmt.Errorf("%w: %v", storage.ErrMalformedRecord, err)
		}
	}
	p.Command = r.Key
	p.Frequency = r.Frequency
	return p, nil
}
