package exec

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
	"github.com/nemanja-m/casbatch/internal/shared/config"
	"github.com/nemanja-m/casbatch/internal/shared/logging"
	workergrpc "github.com/nemanja-m/casbatch/internal/worker/api/grpc"
)

const BackendRemote = "remote"

func init() {
	mustRegister(BackendRemote, func(cfg config.ExecutorConfig, logger logging.Logger) (core.ContextProvider, error) {
		if len(cfg.Remote.Agents) == 0 {
			return nil, fmt.Errorf("no runner agents configured")
		}
		clients := make([]*workergrpc.RunnerClient, 0, len(cfg.Remote.Agents))
		for _, addr := range cfg.Remote.Agents {
			client, err := workergrpc.NewRunnerClient(addr, cfg.Remote.KeepaliveTime, cfg.Remote.KeepaliveTimeout)
			if err != nil {
				for _, c := range clients {
					_ = c.Close()
				}
				return nil, err
			}
			clients = append(clients, client)
		}
		return NewRemoteProvider(clients, logger), nil
	})
}

// RemoteProvider runs attempts on runner agents. A job always lands on the
// same agent, chosen by hashing its ID.
type RemoteProvider struct {
	clients []*workergrpc.RunnerClient
	logger  logging.Logger
}

func NewRemoteProvider(clients []*workergrpc.RunnerClient, logger logging.Logger) *RemoteProvider {
	return &RemoteProvider{
		clients: clients,
		logger:  logger,
	}
}

func (p *RemoteProvider) Name() string {
	return BackendRemote
}

func (p *RemoteProvider) Acquire(ctx context.Context, desc *core.JobDescriptor, shape core.ResourceShape) (core.ExecutionContext, error) {
	if len(p.clients) == 0 {
		return nil, fmt.Errorf("no runner agents: %w", core.ErrPermanent)
	}
	client := p.clients[core.Partition(desc.ID.String(), len(p.clients))]
	return &remoteContext{
		client: client,
		id:     client.Target() + "/" + uuid.NewString()[:8],
		shape:  shape,
		logger: p.logger,
	}, nil
}

func (p *RemoteProvider) Close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type remoteContext struct {
	client *workergrpc.RunnerClient
	id     string
	shape  core.ResourceShape
	logger logging.Logger
}

func (c *remoteContext) ID() string {
	return c.id
}

// Run calls the agent. An unreachable agent, or one that goes away mid
// call, counts as a preempted attempt.
func (c *remoteContext) Run(ctx context.Context, desc *core.JobDescriptor) (core.AttemptResult, error) {
	report, err := c.client.RunAttempt(ctx, desc, c.shape)
	if err != nil {
		if ctx.Err() == nil && status.Code(err) == codes.Unavailable {
			c.logger.Warn("Runner agent unavailable", "context_id", c.id, "error", err)
			return core.AttemptResult{
				Status:   core.AttemptPreempted,
				ExitCode: -1,
				Message:  "agent unavailable: " + status.Convert(err).Message(),
			}, nil
		}
		return core.AttemptResult{}, err
	}
	c.logger.Debug("Remote attempt finished", "context_id", c.id, "agent_context_id", report.ContextID)
	return report.Result, nil
}

// Release is a no-op; the agent releases its own context when the call ends.
func (c *remoteContext) Release(ctx context.Context) error {
	return nil
}
