// Package sysstate samples machine resource load.
//
// All load values are percentages in [0,100] except NetworkIO, which is
// throughput in KiB/s.
package sysstate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrUnsupported is returned by providers on platforms without a
// resource source.
var ErrUnsupported = errors.New("sysstate: unsupported platform")

// State is a single resource snapshot.
type State struct {
	CPULoad     float64   `json:"cpuLoad"`
	MemoryUsage float64   `json:"memoryUsage"`
	DiskIO      float64   `json:"diskIO"`
	NetworkIO   float64   `json:"networkIO"`
	Timestamp   time.Time `json:"timestamp"`
}

// Provider returns the current resource state.
type Provider interface {
	Sample(ctx context.Context) (State, error)
}

// Static always returns the same state, stamped with the current time.
type Static struct {
	State State
}

// Sample implements Provider.
func (s Static) Sample(context.Context) (State, error) {
	st := s.State
	if st.Timestamp.IsZero() {
		st.Timestamp = time.Now()
	}
	return st, nil
}

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	// Interval between background samples (default: 5s).
	Interval time.Duration

	// Logger receives sampling failures (default: slog.Default()).
	Logger *slog.Logger
}

// Sampler polls a Provider in the background and serves the most recent
// snapshot without blocking callers on I/O.
type Sampler struct {
	src    Provider
	cfg    SamplerConfig
	logger *slog.Logger

	mu   sync.RWMutex
	last State
	have bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewSampler wraps src.
func NewSampler(src Provider, cfg SamplerConfig) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		src:    src,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins periodic background sampling. Call Stop to terminate.
func (s *Sampler) Start() {
	s.startOnce.Do(func() { go s.run() })
}

// Stop halts background sampling and waits for it to finish.
// Stop on a sampler that was never started returns immediately.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		started := true
		s.startOnce.Do(func() { started = false })
		if started {
			<-s.doneCh
		}
	})
}

func (s *Sampler) run() {
	defer close(s.doneCh)

	s.refresh(context.Background())

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.refresh(context.Background())
		}
	}
}

func (s *Sampler) refresh(ctx context.Context) (State, error) {
	st, err := s.src.Sample(ctx)
	if err != nil {
		s.logger.Debug("system sample failed", "error", err)
		return State{}, err
	}
	s.mu.Lock()
	s.last = st
	s.have = true
	s.mu.Unlock()
	return st, nil
}

// Sample returns the cached snapshot, sampling synchronously only when
// no snapshot exists yet.
func (s *Sampler) Sample(ctx context.Context) (State, error) {
	s.mu.RLock()
	st, ok := s.last, s.have
	s.mu.RUnlock()
	if ok {
		return st, nil
	}
	return s.refresh(ctx)
}

// Similarity scores how alike two snapshots are, in [0,1]. Network
// throughput is not part of the comparison.
func Similarity(a, b State) float64 {
	d := (abs(a.CPULoad-b.CPULoad)/100 +
		abs(a.MemoryUsage-b.MemoryUsage)/100 +
		abs(a.DiskIO-b.DiskIO)/100) / 3
	return clamp(1-d, 0, 1)
}

// Constrained reports whether any resource is above its busy threshold.
func Constrained(st State) bool {
	return st.CPULoad > 80 || st.MemoryUsage > 90 || st.DiskIO > 70
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
