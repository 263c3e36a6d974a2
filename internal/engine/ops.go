package engine

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rinawarp/cmdintel/internal/errorpattern"
	"github.com/rinawarp/cmdintel/internal/storage"
	"github.com/rinawarp/cmdintel/internal/tracker"
	"github.com/rinawarp/cmdintel/internal/workflow"
)

// PredictNextCommands ranks likely next commands. When recent is empty the
// session's rolling sequence is used.
func (e *Engine) PredictNextCommands(ctx context.Context, session string, recent []string) []tracker.Prediction {
	if len(recent) == 0 {
		if session == "" {
			session = DefaultSession
		}
		recent = e.graph.Sequence(ctx, session)
	}
	return e.tracker.PredictNextCommands(ctx, recent, e.sampleState(ctx))
}

// SuggestTiming advises whether to run command now.
func (e *Engine) SuggestTiming(ctx context.Context, command string) tracker.Timing {
	return e.tracker.SuggestTiming(ctx, command, e.sampleState(ctx))
}

// PredictImpact estimates the resource impact of command.
func (e *Engine) PredictImpact(ctx context.Context, command string) tracker.Impact {
	return e.tracker.PredictImpact(ctx, command, e.sampleState(ctx))
}

// SuggestNextCommands ranks recorded transitions out of command.
func (e *Engine) SuggestNextCommands(ctx context.Context, command, dir string, limit int) []workflow.Suggestion {
	return e.graph.SuggestNextCommands(ctx, command, dir, limit)
}

// SuggestWorkflow returns the best stored workflow containing command.
func (e *Engine) SuggestWorkflow(ctx context.Context, command, dir string) *workflow.ScoredPattern {
	return e.graph.SuggestWorkflow(ctx, command, dir)
}

// DetectWorkflow matches commands against stored workflows.
func (e *Engine) DetectWorkflow(ctx context.Context, commands []string) []workflow.ScoredPattern {
	return e.graph.DetectWorkflow(ctx, commands)
}

// DetectProjectType infers the project type of dir.
func (e *Engine) DetectProjectType(ctx context.Context, dir string) workflow.ProjectInfo {
	return e.graph.DetectProjectType(ctx, dir)
}

// Failure is a failed command to analyze.
type Failure struct {
	Command  string `json:"command"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exitCode"`
	Dir      string `json:"dir,omitempty"`
}

// AnalyzeError explains a failure and ranks recovery commands. The
// workspace of Dir supplies the project type and dependencies.
func (e *Engine) AnalyzeError(ctx context.Context, f Failure) errorpattern.Analysis {
	return e.errors.AnalyzeError(ctx, errorpattern.Failure{
		Command:     f.Command,
		Error:       f.Error,
		ExitCode:    f.ExitCode,
		Directory:   f.Dir,
		Environment: e.environment(ctx, f.Dir),
	})
}

func (e *Engine) environment(ctx context.Context, dir string) errorpattern.Environment {
	env := errorpattern.Environment{OperatingSystem: runtime.GOOS}
	if dir == "" || e.workspace == nil {
		return env
	}
	wctx, err := e.workspace.Snapshot(ctx, dir)
	if err != nil {
		e.logger.Warn("workspace snapshot failed", "dir", dir, "error", err)
		return env
	}
	env.ProjectType = workflow.InferProjectType(wctx).Type
	if wctx.Package != nil {
		env.Dependencies = wctx.Package.Dependencies
	}
	return env
}

// ErrorText returns the signature text stored for a failure, which is what
// RecordRecoveryAttempt should be given when the failure had no output.
func (e *Engine) ErrorText(f Failure) string {
	return e.errors.ErrorText(errorpattern.Failure{Command: f.Command, Error: f.Error, ExitCode: f.ExitCode})
}

// RecordRecoveryAttempt reinforces a recovery command for a failure.
func (e *Engine) RecordRecoveryAttempt(ctx context.Context, original, errText, recovery string, success bool) {
	e.errors.RecordRecoveryAttempt(ctx, original, errText, recovery, success)
}

// ErrorStats summarizes stored error patterns.
func (e *Engine) ErrorStats(ctx context.Context) errorpattern.Stats {
	return e.errors.GetErrorStats(ctx)
}

// Stats reports record counts per namespace and ingestion counters.
type Stats struct {
	Patterns         int          `json:"patterns"`
	WorkflowNodes    int          `json:"workflowNodes"`
	WorkflowPatterns int          `json:"workflowPatterns"`
	ErrorPatterns    int          `json:"errorPatterns"`
	Queue            QueueStats   `json:"queue"`
	Breaker          BreakerStats `json:"breaker"`
}

// Stats returns engine statistics. Namespaces that cannot be counted
// report zero.
func (e *Engine) Stats(ctx context.Context) Stats {
	count := func(ns storage.Namespace) int {
		n, err := e.store.Count(ctx, ns)
		if err != nil {
			e.logger.Warn("stats failed", "op", "count", "key", string(ns), "error", err)
			return 0
		}
		return n
	}
	return Stats{
		Patterns:         count(storage.NSPattern),
		WorkflowNodes:    count(storage.NSWorkflowNode),
		WorkflowPatterns: count(storage.NSWorkflowPattern),
		ErrorPatterns:    count(storage.NSErrorPattern),
		Queue:            e.queue.stats(),
		Breaker:          e.breaker.stats(),
	}
}

// Prune enforces the pattern and error-pattern capacities immediately and
// returns the number of deleted records per namespace.
func (e *Engine) Prune(ctx context.Context) (map[string]int64, error) {
	tcfg := e.trackerCfg
	if tcfg.MaxPatterns <= 0 {
		tcfg.MaxPatterns = tracker.DefaultConfig().MaxPatterns
	}
	ecfg := e.errorsCfg
	if ecfg.MaxPatterns <= 0 {
		ecfg.MaxPatterns = errorpattern.DefaultConfig().MaxPatterns
	}

	out := make(map[string]int64, 2)
	for ns, keep := range map[storage.Namespace]int{
		storage.NSPattern:      tcfg.MaxPatterns,
		storage.NSErrorPattern: ecfg.MaxPatterns,
	} {
		n, err := e.store.Prune(ctx, ns, keep)
		if err != nil {
			return out, fmt.Errorf("prune %s: %w", ns, err)
		}
		out[string(ns)] = n
	}
	return out, nil
}
