package ipc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rinawarp/cmdintel/internal/engine"
	"github.com/rinawarp/cmdintel/internal/tracker"
	"github.com/rinawarp/cmdintel/internal/workflow"
)

// Client calls the daemon's engine service.
type Client struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	timeout time.Duration
}

// Options configures NewClient.
type Options struct {
	// SocketPath is the daemon socket (required).
	SocketPath string

	// DialTimeout bounds the initial connection (default: DialTimeout).
	DialTimeout time.Duration

	// QueryTimeout bounds every call that is not fire-and-forget
	// (default: QueryTimeout).
	QueryTimeout time.Duration

	// Spawn starts the daemon when the socket is missing or stale.
	Spawn bool
}

// NewClient connects to the daemon.
func NewClient(opts Options) (*Client, error) {
	if opts.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DialTimeout
	}
	if opts.Spawn {
		// Best effort; the dial below reports the real failure.
		_ = EnsureDaemon(context.Background(), opts.SocketPath, opts.DialTimeout)
	}

	conn, err := Dial(opts.SocketPath, opts.DialTimeout)
	if err != nil {
		return nil, err
	}
	c := NewClientWithConn(conn)
	c.closer = conn.Close
	if opts.QueryTimeout > 0 {
		c.timeout = opts.QueryTimeout
	}
	return c, nil
}

// NewClientWithConn creates a client over an existing connection.
func NewClientWithConn(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn, timeout: QueryTimeout}
}

// Close closes the client connection.
func (c *Client) Close() error {
	if c.closer != nil {
		return c.closer()
	}
	return nil
}

// call invokes method with req and decodes the reply into resp.
func (c *Client) call(ctx context.Context, timeout time.Duration, method string, req, resp any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	in, err := Encode(req)
	if err != nil {
		return err
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp == nil {
		return nil
	}
	return Decode(out, resp)
}

// Ping checks that the daemon is serving.
func (c *Client) Ping(ctx context.Context) (*PingResponse, error) {
	var resp PingResponse
	if err := c.call(ctx, c.timeout, MethodPing, Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Recording ---

// Record queues an execution on the daemon. Errors mean the execution
// was not delivered.
func (c *Client) Record(ctx context.Context, ex engine.Execution) (bool, error) {
	var resp RecordResponse
	if err := c.call(ctx, FireAndForgetTimeout, MethodRecord, ex, &resp); err != nil {
		return false, err
	}
	return resp.Accepted, nil
}

// RecordRecoveryAttempt reports the outcome of a recovery command.
func (c *Client) RecordRecoveryAttempt(ctx context.Context, req RecoveryRequest) error {
	return c.call(ctx, c.timeout, MethodRecordRecovery, req, nil)
}

// --- Predictions ---

// PredictNextCommands returns ranked next-command predictions.
func (c *Client) PredictNextCommands(ctx context.Context, session string, recent []string) ([]tracker.Prediction, error) {
	var resp PredictResponse
	if err := c.call(ctx, c.timeout, MethodPredict, PredictRequest{Session: session, Recent: recent}, &resp); err != nil {
		return nil, err
	}
	return resp.Predictions, nil
}

// SuggestTiming advises whether to run command now.
func (c *Client) SuggestTiming(ctx context.Context, command string) (*tracker.Timing, error) {
	var resp tracker.Timing
	if err := c.call(ctx, c.timeout, MethodTiming, CommandRequest{Command: command}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PredictImpact estimates the resource impact of command.
func (c *Client) PredictImpact(ctx context.Context, command string) (*tracker.Impact, error) {
	var resp tracker.Impact
	if err := c.call(ctx, c.timeout, MethodImpact, CommandRequest{Command: command}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Workflows ---

// SuggestNextCommands ranks recorded transitions out of command.
func (c *Client) SuggestNextCommands(ctx context.Context, command, dir string, limit int) ([]workflow.Suggestion, error) {
	var resp NextCommandsResponse
	req := CommandRequest{Command: command, Dir: dir, Limit: limit}
	if err := c.call(ctx, c.timeout, MethodNextCommands, req, &resp); err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}

// SuggestWorkflow returns the best workflow containing command, or nil.
func (c *Client) SuggestWorkflow(ctx context.Context, command, dir string) (*workflow.ScoredPattern, error) {
	var resp WorkflowResponse
	if err := c.call(ctx, c.timeout, MethodSuggestWorkflow, CommandRequest{Command: command, Dir: dir}, &resp); err != nil {
		return nil, err
	}
	return resp.Workflow, nil
}

// DetectWorkflow matches commands against stored workflows.
func (c *Client) DetectWorkflow(ctx context.Context, commands []string) ([]workflow.ScoredPattern, error) {
	var resp DetectWorkflowResponse
	if err := c.call(ctx, c.timeout, MethodDetectWorkflow, DetectWorkflowRequest{Commands: commands}, &resp); err != nil {
		return nil, err
	}
	return resp.Workflows, nil
}

// DetectProjectType infers the project type of dir.
func (c *Client) DetectProjectType(ctx context.Context, dir string) (*workflow.ProjectInfo, error) {
	var resp workflow.ProjectInfo
	if err := c.call(ctx, c.timeout, MethodProjectType, ProjectRequest{Dir: dir}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Errors ---

// AnalyzeError explains a failure and ranks recovery commands. It may
// consult the oracle, so it uses the interactive timeout.
func (c *Client) AnalyzeError(ctx context.Context, f engine.Failure) (*AnalyzeResponse, error) {
	var resp AnalyzeResponse
	if err := c.call(ctx, InteractiveTimeout, MethodAnalyzeError, f, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ErrorStats summarizes stored error patterns.
func (c *Client) ErrorStats(ctx context.Context) (*ErrorStatsResponse, error) {
	var resp ErrorStatsResponse
	if err := c.call(ctx, c.timeout, MethodErrorStats, Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Maintenance ---

// Stats returns engine statistics.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.call(ctx, c.timeout, MethodStats, Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Prune enforces store capacities and returns deleted counts.
func (c *Client) Prune(ctx context.Context) (map[string]int64, error) {
	var resp PruneResponse
	if err := c.call(ctx, InteractiveTimeout, MethodPrune, Empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Deleted, nil
}
