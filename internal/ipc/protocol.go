package ipc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rinawarp/cmdintel/internal/engine"
	"github.com/rinawarp/cmdintel/internal/errorpattern"
	"github.com/rinawarp/cmdintel/internal/tracker"
	"github.com/rinawarp/cmdintel/internal/workflow"
)

// ServiceName is the fully qualified gRPC service exposed by the daemon.
// Every method takes and returns a google.protobuf.Struct carrying the
// JSON form of the Go request and response types below.
const ServiceName = "cmdintel.v1.Engine"

// Method names.
const (
	MethodPing            = "Ping"
	MethodRecord          = "Record"
	MethodPredict         = "PredictNextCommands"
	MethodTiming          = "SuggestTiming"
	MethodImpact          = "PredictImpact"
	MethodNextCommands    = "SuggestNextCommands"
	MethodSuggestWorkflow = "SuggestWorkflow"
	MethodDetectWorkflow  = "DetectWorkflow"
	MethodProjectType     = "DetectProjectType"
	MethodAnalyzeError    = "AnalyzeError"
	MethodRecordRecovery  = "RecordRecoveryAttempt"
	MethodErrorStats      = "ErrorStats"
	MethodStats           = "Stats"
	MethodPrune           = "Prune"
)

// FullMethod returns the gRPC path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Empty is the request of methods without arguments.
type Empty struct{}

// PingResponse reports daemon identity.
type PingResponse struct {
	Version       string `json:"version"`
	PID           int    `json:"pid"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// RecordResponse reports whether an execution was queued.
type RecordResponse struct {
	Accepted bool `json:"accepted"`
}

// PredictRequest asks for next-command predictions. Empty Recent uses the
// session's rolling sequence.
type PredictRequest struct {
	Session string   `json:"session,omitempty"`
	Recent  []string `json:"recent,omitempty"`
}

// PredictResponse holds ranked predictions.
type PredictResponse struct {
	Predictions []tracker.Prediction `json:"predictions"`
}

// CommandRequest names a single command, optionally in a directory.
type CommandRequest struct {
	Command string `json:"command"`
	Dir     string `json:"dir,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// NextCommandsResponse holds ranked graph transitions.
type NextCommandsResponse struct {
	Suggestions []workflow.Suggestion `json:"suggestions"`
}

// WorkflowResponse holds the best workflow, if any.
type WorkflowResponse struct {
	Workflow *workflow.ScoredPattern `json:"workflow,omitempty"`
}

// DetectWorkflowRequest lists commands to match against workflows.
type DetectWorkflowRequest struct {
	Commands []string `json:"commands"`
}

// DetectWorkflowResponse holds matching workflows.
type DetectWorkflowResponse struct {
	Workflows []workflow.ScoredPattern `json:"workflows"`
}

// ProjectRequest names a project directory.
type ProjectRequest struct {
	Dir string `json:"dir"`
}

// RecoveryRequest reports the outcome of a recovery command. An empty
// Error falls back to the exit-code signature of the failure.
type RecoveryRequest struct {
	Command  string `json:"command"`
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exitCode"`
	Recovery string `json:"recovery"`
	Success  bool   `json:"success"`
}

// PruneResponse holds deleted record counts per namespace.
type PruneResponse struct {
	Deleted map[string]int64 `json:"deleted"`
}

// Aliases keep the wire contract in one place.
type (
	RecordRequest      = engine.Execution
	AnalyzeRequest     = engine.Failure
	AnalyzeResponse    = errorpattern.Analysis
	ErrorStatsResponse = errorpattern.Stats
	StatsResponse      = engine.Stats
	TimingResponse     = tracker.Timing
	ImpactResponse     = tracker.Impact
	ProjectResponse    = workflow.ProjectInfo
)

// Encode converts v to a Struct through its JSON form. v must encode to
// a JSON object.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return s, nil
}

// Decode fills v from s.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
