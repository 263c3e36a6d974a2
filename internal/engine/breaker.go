package engine

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the state of the burst breaker.
type BreakerState int

const (
	// BreakerClosed accepts every execution.
	BreakerClosed BreakerState = iota
	// BreakerOpen samples executions after a burst.
	BreakerOpen
)

// String returns a human-readable state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures burst detection.
type BreakerConfig struct {
	// BurstThreshold is the number of executions per window that opens the
	// breaker (default: 200).
	BurstThreshold int

	// Window is the detection window (default: 1s).
	Window time.Duration

	// QuietPeriod is the minimum time open before the breaker may close
	// again (default: 500ms).
	QuietPeriod time.Duration

	// SampleRate keeps one in SampleRate executions while open (default: 4).
	SampleRate int
}

// breaker protects the store from scripted bursts, such as a loop
// running thousands of commands. While open only every SampleRate-th
// execution is ingested.
type breaker struct {
	mu sync.Mutex

	threshold   int
	window      time.Duration
	quietPeriod time.Duration
	sampleRate  int
	logger      *slog.Logger

	state         BreakerState
	times         []time.Time
	lastTrip      time.Time
	sampleCounter int
	totalAccepted int64
	totalRejected int64
}

func newBreaker(cfg BreakerConfig, logger *slog.Logger) *breaker {
	if cfg.BurstThreshold <= 0 {
		cfg.BurstThreshold = 200
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = 500 * time.Millisecond
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &breaker{
		threshold:   cfg.BurstThreshold,
		window:      cfg.Window,
		quietPeriod: cfg.QuietPeriod,
		sampleRate:  cfg.SampleRate,
		logger:      logger,
		times:       make([]time.Time, 0, cfg.BurstThreshold*2),
	}
}

// allowAt records an execution at now and reports whether to ingest it.
func (b *breaker) allowAt(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-b.window)
	idx := 0
	for idx < len(b.times) && b.times[idx].Before(cutoff) {
		idx++
	}
	b.times = append(b.times[idx:], now)

	if b.state == BreakerClosed {
		if len(b.times) > b.threshold {
			b.state = BreakerOpen
			b.lastTrip = now
			b.sampleCounter = 0
			b.logger.Warn("ingestion breaker tripped: burst detected",
				"events_in_window", len(b.times),
				"threshold", b.threshold,
				"sample_rate", b.sampleRate,
			)
		}
		b.totalAccepted++
		return true
	}

	if len(b.times) <= b.threshold && now.Sub(b.lastTrip) >= b.quietPeriod {
		b.state = BreakerClosed
		b.sampleCounter = 0
		b.logger.Info("ingestion breaker reset: burst subsided", "events_in_window", len(b.times))
		b.totalAccepted++
		return true
	}

	b.sampleCounter++
	if b.sampleCounter >= b.sampleRate {
		b.sampleCounter = 0
		b.totalAccepted++
		return true
	}
	b.totalRejected++
	return false
}

// BreakerStats reports burst breaker counters.
type BreakerStats struct {
	State         string `json:"state"`
	TotalAccepted int64  `json:"totalAccepted"`
	TotalRejected int64  `json:"totalRejected"`
	InWindow      int    `json:"inWindow"`
	Threshold     int    `json:"threshold"`
}

func (b *breaker) stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:         b.state.String(),
		TotalAccepted: b.totalAccepted,
		TotalRejected: b.totalRejected,
		InWindow:      len(b.times),
		Threshold:     b.threshold,
	}
}
