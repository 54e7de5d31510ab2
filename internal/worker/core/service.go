package core

import (
	"context"

	coordinator "github.com/nemanja-m/casbatch/internal/coordinator/core"
)

// AttemptReport is what the agent sends back for one attempt.
type AttemptReport struct {
	ContextID string
	Result    coordinator.AttemptResult
}

// Runner executes single job attempts on the agent host.
type Runner interface {
	RunAttempt(ctx context.Context, desc *coordinator.JobDescriptor, shape coordinator.ResourceShape) (AttemptReport, error)
}
