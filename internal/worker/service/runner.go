package service

import (
	"context"
	"fmt"

	coordinator "github.com/nemanja-m/casbatch/internal/coordinator/core"
	"github.com/nemanja-m/casbatch/internal/shared/logging"
	"github.com/nemanja-m/casbatch/internal/shared/pool"
	"github.com/nemanja-m/casbatch/internal/worker/core"
)

type runnerService struct {
	provider coordinator.ContextProvider
	program  string
	pool     *pool.Pool
	logger   logging.Logger
}

// NewRunnerService runs attempts through provider, at most maxConcurrent
// at a time. A non-empty program replaces the program path requested by
// the coordinator. The returned stop function waits for running attempts.
func NewRunnerService(
	provider coordinator.ContextProvider,
	program string,
	maxConcurrent int,
	logger logging.Logger,
) (core.Runner, func()) {
	p := pool.New(maxConcurrent)
	p.Start()
	return &runnerService{
		provider: provider,
		program:  program,
		pool:     p,
		logger:   logger,
	}, p.Close
}

func (r *runnerService) RunAttempt(ctx context.Context, desc *coordinator.JobDescriptor, shape coordinator.ResourceShape) (core.AttemptReport, error) {
	if r.program != "" {
		template := &coordinator.InvocationTemplate{Program: r.program}
		if desc.Template != nil {
			template.Args = desc.Template.Args
		}
		desc.Template = template
	}

	var (
		report core.AttemptReport
		runErr error
	)
	done := make(chan struct{})
	err := r.pool.Submit(ctx, func() {
		defer close(done)
		report, runErr = r.run(ctx, desc, shape)
	})
	if err != nil {
		return core.AttemptReport{}, fmt.Errorf("no free slot: %w", err)
	}
	<-done
	return report, runErr
}

func (r *runnerService) run(ctx context.Context, desc *coordinator.JobDescriptor, shape coordinator.ResourceShape) (core.AttemptReport, error) {
	if err := ctx.Err(); err != nil {
		return core.AttemptReport{}, err
	}

	ectx, err := r.provider.Acquire(ctx, desc, shape)
	if err != nil {
		return core.AttemptReport{}, err
	}
	defer func() {
		if err := ectx.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("Failed to release execution context", "context_id", ectx.ID(), "error", err)
		}
	}()

	r.logger.Info("Running attempt", "job_id", desc.ID.String(), "context_id", ectx.ID())

	result, err := ectx.Run(ctx, desc)
	if err != nil {
		return core.AttemptReport{}, err
	}
	return core.AttemptReport{ContextID: ectx.ID(), Result: result}, nil
}
