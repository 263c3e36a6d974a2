// Package oracle consults an external AI for explanations of failed
// commands. The engine treats it as an opaque, slow and unreliable
// collaborator: every call is time-bounded and failures are reported as
// errors for callers to fall back on learned data.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds a single oracle call.
const DefaultTimeout = 5 * time.Second

// ErrUnavailable is returned when no oracle is configured or the oracle
// is cooling down after repeated failures.
var ErrUnavailable = errors.New("oracle: unavailable")

// Request describes a failed command.
type Request struct {
	Command      string
	Error        string
	ExitCode     int
	Directory    string
	OS           string
	ProjectType  string
	Dependencies []string
}

// Suggestion is a recovery command proposed by the oracle.
type Suggestion struct {
	Command     string  `json:"command"`
	Confidence  float64 `json:"confidence"`
	Destructive bool    `json:"destructive,omitempty"`
}

// Explanation is the oracle's answer.
type Explanation struct {
	Analysis    string       `json:"analysis"`
	Suggestions []Suggestion `json:"suggestions"`
}

// Oracle explains command errors.
type Oracle interface {
	ExplainError(ctx context.Context, req Request) (*Explanation, error)
}

// Nop is the oracle used when AI assistance is disabled.
type Nop struct{}

// ExplainError implements Oracle.
func (Nop) ExplainError(context.Context, Request) (*Explanation, error) {
	return nil, ErrUnavailable
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	// Timeout bounds each call (default: DefaultTimeout).
	Timeout time.Duration

	// MaxFailures is the number of consecutive failures that opens the
	// guard (default: 3).
	MaxFailures int

	// Cooldown is how long the guard stays open (default: 1m).
	Cooldown time.Duration

	// Logger receives state changes (default: slog.Default()).
	Logger *slog.Logger
}

// Guard wraps an Oracle with a per-call timeout and stops calling it for
// a cooldown period after consecutive failures.
type Guard struct {
	next    Oracle
	cfg     GuardConfig
	logger  *slog.Logger
	nowFunc func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

// NewGuard wraps next.
func NewGuard(next Oracle, cfg GuardConfig) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{next: next, cfg: cfg, logger: logger, nowFunc: time.Now}
}

// ExplainError implements Oracle.
func (g *Guard) ExplainError(ctx context.Context, req Request) (*Explanation, error) {
	g.mu.Lock()
	if g.nowFunc().Before(g.openUntil) {
		g.mu.Unlock()
		return nil, ErrUnavailable
	}
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	type result struct {
		exp *Explanation
		err error
	}
	// Buffered so a late answer never blocks the worker.
	ch := make(chan result, 1)
	go func() {
		exp, err := g.next.ExplainError(ctx, req)
		ch <- result{exp, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = result{err: fmt.Errorf("oracle: %w", ctx.Err())}
	}

	g.record(res.err)
	if res.err != nil {
		return nil, res.err
	}
	if res.exp == nil {
		return &Explanation{}, nil
	}
	return res.exp, nil
}

func (g *Guard) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err == nil || errors.Is(err, ErrUnavailable) {
		if err == nil {
			g.failures = 0
		}
		return
	}
	g.failures++
	if g.failures >= g.cfg.MaxFailures {
		g.openUntil = g.nowFunc().Add(g.cfg.Cooldown)
		g.failures = 0
		g.logger.Warn("oracle disabled after repeated failures",
			"cooldown", g.cfg.Cooldown,
			"error", err,
		)
	}
}
