package core

import "context"

// ExecutionContext is an isolated, resource-bounded unit that runs one job attempt.
type ExecutionContext interface {
	ID() string
	// Run blocks until the program exits or the context is reclaimed.
	// A returned error means the attempt could not be carried out at all.
	Run(ctx context.Context, desc *JobDescriptor) (AttemptResult, error)
	Release(ctx context.Context) error
}

// ContextProvider hands out a fresh execution context per attempt.
type ContextProvider interface {
	Name() string
	Acquire(ctx context.Context, desc *JobDescriptor, shape ResourceShape) (ExecutionContext, error)
}

// OutputVerifier checks the staging destination of a succeeded job and
// returns the staged output locations.
type OutputVerifier interface {
	Verify(ctx context.Context, desc *JobDescriptor) ([]string, error)
}

// OutcomeLog is an append-only, concurrency-safe log of terminal job records.
type OutcomeLog interface {
	Append(rec *JobRecord) error
	Records() ([]*JobRecord, error)
}
