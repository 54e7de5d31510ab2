package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	coordinator "github.com/nemanja-m/casbatch/internal/coordinator/core"
	"github.com/nemanja-m/casbatch/internal/worker/core"
)

// RunnerClient calls a runner agent.
type RunnerClient struct {
	conn   *grpc.ClientConn
	target string
}

func NewRunnerClient(target string, keepaliveTime, keepaliveTimeout time.Duration, opts ...grpc.DialOption) (*RunnerClient, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(
			keepalive.ClientParameters{
				Time:                keepaliveTime,
				Timeout:             keepaliveTimeout,
				PermitWithoutStream: true,
			},
		),
	}
	conn, err := grpc.NewClient(target, append(dialOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to runner agent %s: %w", target, err)
	}
	return &RunnerClient{
		conn:   conn,
		target: target,
	}, nil
}

func (c *RunnerClient) Target() string {
	return c.target
}

// RunAttempt runs one attempt on the agent and blocks until it ends.
// Errors the agent marks as permanent wrap coordinator.ErrPermanent.
func (c *RunnerClient) RunAttempt(ctx context.Context, desc *coordinator.JobDescriptor, shape coordinator.ResourceShape) (core.AttemptReport, error) {
	req, err := EncodeAttemptRequest(desc, shape)
	if err != nil {
		return core.AttemptReport{}, fmt.Errorf("encode attempt request: %w", err)
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, RunAttemptMethod, req, resp); err != nil {
		switch status.Code(err) {
		case codes.FailedPrecondition, codes.InvalidArgument:
			return core.AttemptReport{}, fmt.Errorf("runner agent %s: %w: %s", c.target, coordinator.ErrPermanent, status.Convert(err).Message())
		}
		return core.AttemptReport{}, fmt.Errorf("runner agent %s: %w", c.target, err)
	}
	return DecodeAttemptReport(resp)
}

func (c *RunnerClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
