// Package engine wires the command pattern tracker, the workflow graph and
// the error pattern matcher around one shared store, and ingests completed
// executions either synchronously (Observe) or through a bounded
// background queue (Record).
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rinawarp/cmdintel/internal/errorpattern"
	"github.com/rinawarp/cmdintel/internal/oracle"
	"github.com/rinawarp/cmdintel/internal/storage"
	"github.com/rinawarp/cmdintel/internal/sysstate"
	"github.com/rinawarp/cmdintel/internal/tracker"
	"github.com/rinawarp/cmdintel/internal/workflow"
	"github.com/rinawarp/cmdintel/internal/workspace"
)

// DefaultSession is used for executions that carry no session id.
const DefaultSession = "default"

// batchSize is the number of queued executions ingested per wakeup.
const batchSize = 64

// Execution is one completed command.
type Execution struct {
	Session  string        `json:"session,omitempty"`
	Command  string        `json:"command"`
	Dir      string        `json:"dir,omitempty"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`

	// State is the system state at execution time. Nil means sample now.
	State *sysstate.State `json:"state,omitempty"`
}

// Success reports whether the command exited cleanly.
func (ex Execution) Success() bool { return ex.ExitCode == 0 }

func (ex Execution) session() string {
	if ex.Session == "" {
		return DefaultSession
	}
	return ex.Session
}

// Options configures an Engine.
type Options struct {
	Tracker  tracker.Config
	Workflow workflow.Config
	Errors   errorpattern.Config
	Breaker  BreakerConfig

	// QueueSize bounds the Record queue (default: 8192).
	QueueSize int

	SysState  sysstate.Provider
	Workspace workspace.Provider
	Oracle    oracle.Oracle
	Logger    *slog.Logger
}

// Engine is the entry point for every engine operation. Reads never block
// on the ingestion queue.
type Engine struct {
	store     storage.Store
	tracker   *tracker.Tracker
	graph     *workflow.Graph
	errors    *errorpattern.Matcher
	sys       sysstate.Provider
	workspace workspace.Provider
	logger    *slog.Logger
	nowFunc   func() time.Time

	queue   *queue
	breaker *breaker

	startOnce sync.Once
	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   atomic.Bool

	trackerCfg tracker.Config
	errorsCfg  errorpattern.Config
}

// New creates an Engine over store. Collaborators left nil degrade to
// static or disabled implementations.
func New(store storage.Store, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sys := opts.SysState
	if sys == nil {
		sys = sysstate.Static{}
	}

	return &Engine{
		store: store,
		tracker: tracker.New(store, tracker.Options{
			Config: opts.Tracker,
			Logger: logger.With("component", "tracker"),
		}),
		graph: workflow.New(store, workflow.Options{
			Config:    opts.Workflow,
			Workspace: opts.Workspace,
			Logger:    logger.With("component", "workflow"),
		}),
		errors: errorpattern.New(store, errorpattern.Options{
			Config: opts.Errors,
			Oracle: opts.Oracle,
			Logger: logger.With("component", "errors"),
		}),
		sys:       sys,
		workspace: opts.Workspace,
		logger:    logger,
		nowFunc:   time.Now,
		queue:     newQueue(opts.QueueSize, logger),
		breaker:   newBreaker(opts.Breaker, logger),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),

		trackerCfg: opts.Tracker,
		errorsCfg:  opts.Errors,
	}
}

// Start launches the background ingestion worker.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.started.Store(true)
		go e.run()
	})
}

// Close stops the worker after draining queued executions. It does not
// close the store.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.stopCh)
		if e.started.Load() {
			<-e.doneCh
		} else {
			e.drain(context.Background())
		}
	})
	return nil
}

func (e *Engine) run() {
	defer close(e.doneCh)
	ctx := context.Background()
	for {
		select {
		case <-e.stopCh:
			e.drain(ctx)
			return
		case <-e.queue.ready:
			e.drain(ctx)
		}
	}
}

func (e *Engine) drain(ctx context.Context) {
	for {
		batch := e.queue.popN(batchSize)
		if len(batch) == 0 {
			return
		}
		for _, ex := range batch {
			e.Observe(ctx, ex)
		}
	}
}

// Record queues ex for background ingestion and returns immediately. It
// reports false when the engine is closed or the burst breaker sampled
// the execution out.
func (e *Engine) Record(ex Execution) bool {
	select {
	case <-e.stopCh:
		return false
	default:
	}
	if !e.breaker.allowAt(e.nowFunc()) {
		return false
	}
	if ex.State == nil {
		// Capture the state now, not when the worker gets to it.
		st := e.sampleState(context.Background())
		ex.State = &st
	}
	e.queue.push(ex)
	return true
}

// Observe ingests ex synchronously: the tracker gets the execution with
// the session's previous command as precursor, then the workflow graph
// records the transition and mines the session.
func (e *Engine) Observe(ctx context.Context, ex Execution) {
	sess := ex.session()
	state := e.stateOf(ctx, ex.State)

	prev := ""
	if seq := e.graph.Sequence(ctx, sess); len(seq) > 0 {
		prev = seq[len(seq)-1]
	}

	e.tracker.RecordExecution(ctx, tracker.Execution{
		Command:  ex.Command,
		Success:  ex.Success(),
		Duration: ex.Duration,
		State:    state,
		Previous: prev,
	})
	e.graph.RecordCommand(ctx, workflow.Observation{
		Session: sess,
		Command: ex.Command,
		Success: ex.Success(),
		Dir:     ex.Dir,
	})
}

func (e *Engine) stateOf(ctx context.Context, st *sysstate.State) sysstate.State {
	if st != nil {
		return *st
	}
	return e.sampleState(ctx)
}

func (e *Engine) sampleState(ctx context.Context) sysstate.State {
	st, err := e.sys.Sample(ctx)
	if err != nil {
		e.logger.Debug("system state unavailable", "error", err)
		return sysstate.State{Timestamp: e.nowFunc()}
	}
	return st
}

// Tracker returns the command pattern tracker.
func (e *Engine) Tracker() *tracker.Tracker { return e.tracker }

// Graph returns the workflow graph.
func (e *Engine) Graph() *workflow.Graph { return e.graph }

// Errors returns the error pattern matcher.
func (e *Engine) Errors() *errorpattern.Matcher { return e.errors }
