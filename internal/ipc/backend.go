package ipc

import (
	"context"
	"errors"

	"github.com/rinawarp/cmdintel/internal/engine"
	"github.com/rinawarp/cmdintel/internal/tracker"
	"github.com/rinawarp/cmdintel/internal/workflow"
)

// Backend is the engine API shared by the daemon client and an
// in-process engine. Frontends (CLI, picker, MCP tools) program against
// it so they work with or without a running daemon.
type Backend interface {
	Record(ctx context.Context, ex engine.Execution) (bool, error)
	RecordRecoveryAttempt(ctx context.Context, req RecoveryRequest) error
	PredictNextCommands(ctx context.Context, session string, recent []string) ([]tracker.Prediction, error)
	SuggestTiming(ctx context.Context, command string) (*tracker.Timing, error)
	PredictImpact(ctx context.Context, command string) (*tracker.Impact, error)
	SuggestNextCommands(ctx context.Context, command, dir string, limit int) ([]workflow.Suggestion, error)
	SuggestWorkflow(ctx context.Context, command, dir string) (*workflow.ScoredPattern, error)
	DetectWorkflow(ctx context.Context, commands []string) ([]workflow.ScoredPattern, error)
	DetectProjectType(ctx context.Context, dir string) (*workflow.ProjectInfo, error)
	AnalyzeError(ctx context.Context, f engine.Failure) (*AnalyzeResponse, error)
	ErrorStats(ctx context.Context) (*ErrorStatsResponse, error)
	Stats(ctx context.Context) (*StatsResponse, error)
	Prune(ctx context.Context) (map[string]int64, error)
}

var (
	_ Backend = (*Client)(nil)
	_ Backend = (*Local)(nil)
)

// ErrInvalidRequest is returned by Local for requests the daemon would
// reject with InvalidArgument.
var ErrInvalidRequest = errors.New("invalid request")

// Local serves Backend from an engine in the current process. Unlike
// the daemon, Record ingests synchronously so short-lived processes do
// not lose executions.
type Local struct {
	eng *engine.Engine
}

// NewLocal wraps eng.
func NewLocal(eng *engine.Engine) *Local {
	return &Local{eng: eng}
}

// Record implements Backend.
func (l *Local) Record(ctx context.Context, ex engine.Execution) (bool, error) {
	if ex.Command == "" {
		return false, errors.Join(ErrInvalidRequest, errors.New("command is required"))
	}
	l.eng.Observe(ctx, ex)
	return true, nil
}

// RecordRecoveryAttempt implements Backend.
func (l *Local) RecordRecoveryAttempt(ctx context.Context, req RecoveryRequest) error {
	if req.Command == "" || req.Recovery == "" {
		return errors.Join(ErrInvalidRequest, errors.New("command and recovery are required"))
	}
	errText := req.Error
	if errText == "" {
		errText = l.eng.ErrorText(engine.Failure{Command: req.Command, ExitCode: req.ExitCode})
	}
	l.eng.RecordRecoveryAttempt(ctx, req.Command, errText, req.Recovery, req.Success)
	return nil
}

// PredictNextCommands implements Backend.
func (l *Local) PredictNextCommands(ctx context.Context, session string, recent []string) ([]tracker.Prediction, error) {
	return l.eng.PredictNextCommands(ctx, session, recent), nil
}

// SuggestTiming implements Backend.
func (l *Local) SuggestTiming(ctx context.Context, command string) (*tracker.Timing, error) {
	t := l.eng.SuggestTiming(ctx, command)
	return &t, nil
}

// PredictImpact implements Backend.
func (l *Local) PredictImpact(ctx context.Context, command string) (*tracker.Impact, error) {
	im := l.eng.PredictImpact(ctx, command)
	return &im, nil
}

// SuggestNextCommands implements Backend.
func (l *Local) SuggestNextCommands(ctx context.Context, command, dir string, limit int) ([]workflow.Suggestion, error) {
	if command == "" {
		return nil, errors.Join(ErrInvalidRequest, errors.New("command is required"))
	}
	return l.eng.SuggestNextCommands(ctx, command, dir, limit), nil
}

// SuggestWorkflow implements Backend.
func (l *Local) SuggestWorkflow(ctx context.Context, command, dir string) (*workflow.ScoredPattern, error) {
	if command == "" {
		return nil, errors.Join(ErrInvalidRequest, errors.New("command is required"))
	}
	return l.eng.SuggestWorkflow(ctx, command, dir), nil
}

// DetectWorkflow implements Backend.
func (l *Local) DetectWorkflow(ctx context.Context, commands []string) ([]workflow.ScoredPattern, error) {
	return l.eng.DetectWorkflow(ctx, commands), nil
}

// DetectProjectType implements Backend.
func (l *Local) DetectProjectType(ctx context.Context, dir string) (*workflow.ProjectInfo, error) {
	info := l.eng.DetectProjectType(ctx, dir)
	return &info, nil
}

// AnalyzeError implements Backend.
func (l *Local) AnalyzeError(ctx context.Context, f engine.Failure) (*AnalyzeResponse, error) {
	if f.Command == "" {
		return nil, errors.Join(ErrInvalidRequest, errors.New("command is required"))
	}
	a := l.eng.AnalyzeError(ctx, f)
	return &a, nil
}

// ErrorStats implements Backend.
func (l *Local) ErrorStats(ctx context.Context) (*ErrorStatsResponse, error) {
	s := l.eng.ErrorStats(ctx)
	return &s, nil
}

// Stats implements Backend.
func (l *Local) Stats(ctx context.Context) (*StatsResponse, error) {
	s := l.eng.Stats(ctx)
	return &s, nil
}

// Prune implements Backend.
func (l *Local) Prune(ctx context.Context) (map[string]int64, error) {
	return l.eng.Prune(ctx)
}
