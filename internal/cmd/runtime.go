package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rinawarp/cmdintel/internal/config"
	"github.com/rinawarp/cmdintel/internal/engine"
	"github.com/rinawarp/cmdintel/internal/errorpattern"
	"github.com/rinawarp/cmdintel/internal/oracle"
	"github.com/rinawarp/cmdintel/internal/storage"
	"github.com/rinawarp/cmdintel/internal/sysstate"
	"github.com/rinawarp/cmdintel/internal/tracker"
	"github.com/rinawarp/cmdintel/internal/workflow"
	"github.com/rinawarp/cmdintel/internal/workspace"
)

// Runtime is an Engine together with the store and providers it was
// built from.
type Runtime struct {
	Engine *engine.Engine

	closers []func() error
}

// Close stops the engine first, then releases its collaborators in
// reverse order of creation.
func (r *Runtime) Close() error {
	errs := []error{r.Engine.Close()}
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// OpenEngine builds an Engine from cfg: the configured store, a
// background system sampler, the workspace detector and, when enabled,
// the AI oracle behind its failure guard.
func OpenEngine(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, store.Close)

	sampler := sysstate.NewSampler(sysstate.NewSystem(), sysstate.SamplerConfig{
		Interval: millis(cfg.SysState.SampleIntervalMs),
		Logger:   logger.With("component", "sysstate"),
	})
	sampler.Start()
	rt.closers = append(rt.closers, func() error { sampler.Stop(); return nil })

	detector := workspace.NewDetector(workspace.Options{
		CacheTTL: millis(cfg.Workspace.CacheTTLMs),
		Watch:    cfg.Workspace.Watch,
		Logger:   logger.With("component", "workspace"),
	})
	rt.closers = append(rt.closers, detector.Close)

	rt.Engine = engine.New(store, engine.Options{
		Tracker: tracker.Config{
			MaxPatterns:     cfg.Tracker.MaxPatterns,
			MaxRecentStates: cfg.Tracker.MaxRecentStates,
			PeakHours:       cfg.Tracker.PeakHours,
			MaxNeighbors:    cfg.Tracker.MaxNeighbors,
		},
		Workflow: workflow.Config{
			SequenceSize:        cfg.Workflow.SequenceSize,
			MinPatternFrequency: cfg.Workflow.MinPatternFrequency,
			MinSteps:            cfg.Workflow.MinSteps,
			MaxSteps:            cfg.Workflow.MaxSteps,
			MaxContexts:         cfg.Workflow.MaxContexts,
			SimilarityThreshold: cfg.Workflow.SimilarityThreshold,
		},
		Errors: errorpattern.Config{
			MaxPatterns:    cfg.Errors.MaxPatterns,
			MaxSuggestions: cfg.Errors.MaxSuggestions,
		},
		QueueSize: cfg.Daemon.QueueSize,
		SysState:  sampler,
		Workspace: detector,
		Oracle:    newOracle(cfg, logger),
		Logger:    logger,
	})
	return rt, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.Store.Backend == "memory" {
		return storage.NewMemoryStore(), nil
	}

	dbPath, _, _ := config.DefaultPaths().Resolve(cfg)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewSQLiteStore(dbPath, logger.With("component", "storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

// newOracle returns nil when the oracle is disabled, which the engine
// treats as "learned suggestions only".
func newOracle(cfg *config.Config, logger *slog.Logger) oracle.Oracle {
	if !cfg.Oracle.Enabled || cfg.Oracle.Provider != "claude" {
		return nil
	}
	cli := oracle.NewClaudeCLI(oracle.ClaudeOptions{
		Model:  cfg.Oracle.Model,
		Redact: cfg.Oracle.Redact,
	})
	if !cli.Available() {
		logger.Warn("oracle enabled but claude CLI not found on PATH")
	}
	return oracle.NewGuard(cli, oracle.GuardConfig{
		Timeout:  millis(cfg.Errors.OracleTimeoutMs),
		Cooldown: millis(cfg.Oracle.CooldownMs),
		Logger:   logger.With("component", "oracle"),
	})
}

// NewLogger returns a text logger writing to w at the configured level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// ParseLevel maps a config log level to a slog level (default: info).
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
