package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	coordinator "github.com/nemanja-m/casbatch/internal/coordinator/core"
	"github.com/nemanja-m/casbatch/internal/shared/logging"
	"github.com/nemanja-m/casbatch/internal/shared/pool"
	"github.com/nemanja-m/casbatch/internal/worker/core"
)

const (
	ServiceName      = "casbatch.worker.v1.Runner"
	RunAttemptMethod = "/" + ServiceName + "/RunAttempt"
)

// RunnerServer is the server API of the runner service.
type RunnerServer interface {
	RunAttempt(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func runAttemptHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunnerServer).RunAttempt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: RunAttemptMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunnerServer).RunAttempt(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var RunnerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RunnerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RunAttempt",
			Handler:    runAttemptHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "casbatch/worker/v1/runner.proto",
}

func RegisterRunnerServer(s grpc.ServiceRegistrar, srv RunnerServer) {
	s.RegisterService(&RunnerServiceDesc, srv)
}

// RunnerService adapts a core.Runner to the wire API.
type RunnerService struct {
	runner core.Runner
	logger logging.Logger
}

func NewRunnerService(runner core.Runner, logger logging.Logger) *RunnerService {
	return &RunnerService{
		runner: runner,
		logger: logger,
	}
}

func (s *RunnerService) RunAttempt(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	desc, shape, err := DecodeAttemptRequest(req)
	if err != nil {
		s.logger.Error("Invalid attempt request", "error", err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.logger.Debug("Received attempt", "job_id", desc.ID.String(), "file_path", desc.FilePath)

	report, err := s.runner.RunAttempt(ctx, desc, shape)
	if err != nil {
		s.logger.Error("Attempt could not run", "job_id", desc.ID.String(), "error", err)
		return nil, toStatus(err)
	}

	s.logger.Info(
		"Attempt finished",
		"job_id", desc.ID.String(),
		"context_id", report.ContextID,
		"status", report.Result.Status,
		"exit_code", report.Result.ExitCode,
	)

	resp, err := EncodeAttemptReport(report)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

// toStatus maps runner errors to gRPC codes. Unavailable is reserved for
// an agent that is shutting down; the coordinator retries it as a
// preemption.
func toStatus(err error) error {
	if s, ok := status.FromError(err); ok {
		return s.Err()
	}
	switch {
	case errors.Is(err, pool.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, coordinator.ErrPermanent):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
