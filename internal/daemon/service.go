package daemon

import (
	"context"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rinawarp/cmdintel/internal/engine"
	"github.com/rinawarp/cmdintel/internal/ipc"
)

// engineServer is the handler type of serviceDesc.
type engineServer interface {
	dispatch(ctx context.Context, method string, req *structpb.Struct) (any, error)
}

// serviceDesc is written by hand: every method exchanges a
// google.protobuf.Struct, so there is no generated code to register.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ipc.ServiceName,
	HandlerType: (*engineServer)(nil),
	Methods:     methodDescs(),
	Streams:     []grpc.StreamDesc{},
	Metadata:    "cmdintel/v1/engine.proto",
}

var methods = []string{
	ipc.MethodPing,
	ipc.MethodRecord,
	ipc.MethodPredict,
	ipc.MethodTiming,
	ipc.MethodImpact,
	ipc.MethodNextCommands,
	ipc.MethodSuggestWorkflow,
	ipc.MethodDetectWorkflow,
	ipc.MethodProjectType,
	ipc.MethodAnalyzeError,
	ipc.MethodRecordRecovery,
	ipc.MethodErrorStats,
	ipc.MethodStats,
	ipc.MethodPrune,
}

func methodDescs() []grpc.MethodDesc {
	descs := make([]grpc.MethodDesc, 0, len(methods))
	for _, m := range methods {
		descs = append(descs, grpc.MethodDesc{MethodName: m, Handler: unaryHandler(m)})
	}
	return descs
}

func unaryHandler(method string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			return srv.(engineServer).dispatch(ctx, method, req.(*structpb.Struct))
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ipc.FullMethod(method)}
		return interceptor(ctx, in, info, call)
	}
}

// dispatch decodes req for method, runs the engine operation and encodes
// the result.
func (s *Server) dispatch(ctx context.Context, method string, req *structpb.Struct) (any, error) {
	resp, err := s.handle(ctx, method, req)
	if err != nil {
		return nil, err
	}
	out, err := ipc.Encode(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) handle(ctx context.Context, method string, req *structpb.Struct) (any, error) {
	e := s.engine
	switch method {
	case ipc.MethodPing:
		return ipc.PingResponse{
			Version:       Version,
			PID:           os.Getpid(),
			UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		}, nil

	case ipc.MethodRecord:
		var in ipc.RecordRequest
		if err := decode(req, &in); err != nil {
			return nil, err
		}
		if in.Command == "" {
			return nil, status.Error(codes.InvalidArgument, "command is required")
		}
		return ipc.RecordResponse{Accepted: e.Record(in)}, nil

	case ipc.MethodPredict:
		var in ipc.PredictRequest
		if err := decode(req, &in); err != nil {
			return nil, err
		}
		return ipc.PredictResponse{Predictions: e.PredictNextCommands(ctx, in.Session, in.Recent)}, nil

	case ipc.MethodTiming:
		in, err := decodeCommand(req)
		if err != nil {
			return nil, err
		}
		return e.SuggestTiming(ctx, in.Command), nil

	case ipc.MethodImpact:
		in, err := decodeCommand(req)
		if err != nil {
			return nil, err
		}
		return e.PredictImpact(ctx, in.Command), nil

	case ipc.MethodNextCommands:
		in, err := decodeCommand(req)
		if err != nil {
			return nil, err
		}
		return ipc.NextCommandsResponse{Suggestions: e.SuggestNextCommands(ctx, in.Command, in.Dir, in.Limit)}, nil

	case ipc.MethodSuggestWorkflow:
		in, err := decodeCommand(req)
		if err != nil {
			return nil, err
		}
		return ipc.WorkflowResponse{Workflow: e.SuggestWorkflow(ctx, in.Command, in.Dir)}, nil

	case ipc.MethodDetectWorkflow:
		var in ipc.DetectWorkflowRequest
		if err := decode(req, &in); err != nil {
			return nil, err
		}
		return ipc.DetectWorkflowResponse{Workflows: e.DetectWorkflow(ctx, in.Commands)}, nil

	case ipc.MethodProjectType:
		var in ipc.ProjectRequest
		if err := decode(req, &in); err != nil {
			return nil, err
		}
		return e.DetectProjectType(ctx, in.Dir), nil

	case ipc.MethodAnalyzeError:
		var in ipc.AnalyzeRequest
		if err := decode(req, &in); err != nil {
			return nil, err
		}
		if in.Command == "" {
			return nil, status.Error(codes.InvalidArgument, "command is required")
		}
		return e.AnalyzeError(ctx, in), nil

	case ipc.MethodRecordRecovery:
		var in ipc.RecoveryRequest
		if err := decode(req, &in); err != nil {
			return nil, err
		}
		if in.Command == "" || in.Recovery == "" {
			return nil, status.Error(codes.InvalidArgument, "command and recovery are required")
		}
		errText := in.Error
		if errText == "" {
			errText = e.ErrorText(engine.Failure{Command: in.Command, ExitCode: in.ExitCode})
		}
		e.RecordRecoveryAttempt(ctx, in.Command, errText, in.Recovery, in.Success)
		return ipc.Empty{}, nil

	case ipc.MethodErrorStats:
		return e.ErrorStats(ctx), nil

	case ipc.MethodStats:
		return e.Stats(ctx), nil

	case ipc.MethodPrune:
		deleted, err := e.Prune(ctx)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return ipc.PruneResponse{Deleted: deleted}, nil
	}
	return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func decode(req *structpb.Struct, v any) error {
	if err := ipc.Decode(req, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func decodeCommand(req *structpb.Struct) (ipc.CommandRequest, error) {
	var in ipc.CommandRequest
	if err := decode(req, &in); err != nil {
		return in, err
	}
	if in.Command == "" {
		return in, status.Error(codes.InvalidArgument, "command is required")
	}
	return in, nil
}
