package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
	"github.com/nemanja-m/casbatch/internal/shared/logging"
	"github.com/nemanja-m/casbatch/internal/shared/pool"
)

const (
	retryKindFailure    = "failure"
	retryKindPreemption = "preemption"
)

type CoordinatorConfig struct {
	Shape core.ResourceShape
	Retry core.RetryPolicy

	// Parallelism bounds the number of jobs in flight; 0 runs every job at once.
	Parallelism int

	// SubmitRate limits context acquisitions per second; 0 disables the limit.
	SubmitRate  float64
	SubmitBurst int
}

// Coordinator dispatches job descriptors to execution contexts and drives
// each job to a terminal outcome.
type Coordinator struct {
	cfg      CoordinatorConfig
	provider core.ContextProvider
	verifier core.OutputVerifier
	outcomes core.OutcomeLog
	metrics  *Metrics
	limiter  *rate.Limiter
	logger   logging.Logger
}

// NewCoordinator creates a coordinator. verifier and metrics may be nil.
func NewCoordinator(
	cfg CoordinatorConfig,
	provider core.ContextProvider,
	verifier core.OutputVerifier,
	outcomes core.OutcomeLog,
	metrics *Metrics,
	logger logging.Logger,
) *Coordinator {
	var limiter *rate.Limiter
	if cfg.SubmitRate > 0 {
		burst := cfg.SubmitBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), burst)
	}
	return &Coordinator{
		cfg:      cfg,
		provider: provider,
		verifier: verifier,
		outcomes: outcomes,
		metrics:  metrics,
		limiter:  limiter,
		logger:   logger,
	}
}

// Run executes every descriptor and blocks until all of them are terminal.
// Records are returned in descriptor order. A failing job never cancels
// its siblings; only ctx does.
func (c *Coordinator) Run(ctx context.Context, descriptors []*core.JobDescriptor) []*core.JobRecord {
	records := make([]*core.JobRecord, len(descriptors))
	for i, desc := range descriptors {
		records[i] = core.NewJobRecord(desc)
	}
	c.Dispatch(ctx, records)
	return records
}

// Dispatch drives already created records to a terminal state. Between
// attempts a record's Outcome holds the last interim outcome.
func (c *Coordinator) Dispatch(ctx context.Context, records []*core.JobRecord) {
	if len(records) == 0 {
		return
	}

	numWorkers := c.cfg.Parallelism
	if numWorkers <= 0 || numWorkers > len(records) {
		numWorkers = len(records)
	}

	c.logger.Info(
		"Dispatching jobs",
		"num_jobs", len(records),
		"parallelism", numWorkers,
		"backend", c.provider.Name(),
	)

	p := pool.New(numWorkers)
	p.Start()
	for _, rec := range records {
		err := p.Submit(ctx, func() {
			c.runJob(ctx, rec)
		})
		if err != nil {
			c.finish(rec, core.OutcomeFailedPermanently, fmt.Errorf("job not dispatched: %w", err))
		}
	}
	p.Close()
}

func (c *Coordinator) runJob(ctx context.Context, rec *core.JobRecord) {
	logger := c.logger.With("job_id", rec.JobID.String(), "request_index", rec.RequestIndex)
	rec.MarkStarted()

	for {
		if err := ctx.Err(); err != nil {
			c.finish(rec, core.OutcomeFailedPermanently, fmt.Errorf("batch cancelled: %w", err))
			return
		}

		c.transition(rec, core.JobStateRunning)
		attempt, err := c.runAttempt(ctx, rec)
		rec.Attempts = append(rec.Attempts, attempt)
		c.metrics.ObserveAttempt(attempt.Status, attempt.EndedAt.Sub(attempt.StartedAt))

		logger.Debug(
			"Attempt finished",
			"attempt", attempt.Number,
			"context_id", attempt.ContextID,
			"status", attempt.Status,
			"exit_code", attempt.ExitCode,
		)

		var retry int
		switch {
		case attempt.Status == core.AttemptSucceeded:
			c.transition(rec, core.JobStateSucceeded)
			c.finish(rec, core.OutcomeSucceeded, nil)
			return

		case errors.Is(err, core.ErrPermanent):
			c.finish(rec, core.OutcomeFailedPermanently, err)
			return

		case ctx.Err() != nil:
			c.finish(rec, core.OutcomeFailedPermanently, fmt.Errorf("batch cancelled: %w", ctx.Err()))
			return

		case attempt.Status == core.AttemptPreempted:
			if rec.PreemptionRetries >= c.cfg.Retry.MaxPreemptionRetries {
				c.transition(rec, core.JobStateFailedExhaustedRetries)
				c.finish(rec, core.OutcomeFailedExhaustedRetries,
					fmt.Errorf("preempted %d times", rec.PreemptionRetries+1))
				return
			}
			c.transition(rec, core.JobStatePreempted)
			rec.PreemptionRetries++
			rec.Outcome = core.OutcomePreemptedRetried
			retry = rec.PreemptionRetries
			c.metrics.ObserveRetry(retryKindPreemption)
			logger.Warn("Job preempted, retrying", "attempt", attempt.Number, "preemption_retries", rec.PreemptionRetries)

		default:
			if rec.FailureRetries >= c.cfg.Retry.MaxFailureRetries {
				c.transition(rec, core.JobStateFailedExhaustedRetries)
				c.finish(rec, core.OutcomeFailedExhaustedRetries,
					fmt.Errorf("failed %d times, last error: %s", rec.FailureRetries+1, attempt.Error))
				return
			}
			c.transition(rec, core.JobStateFailed)
			rec.FailureRetries++
			retry = rec.FailureRetries
			c.metrics.ObserveRetry(retryKindFailure)
			logger.Warn(
				"Job failed, retrying",
				"attempt", attempt.Number,
				"failure_retries", rec.FailureRetries,
				"error", attempt.Error,
			)
		}

		c.transition(rec, core.JobStatePending)
		sleep(ctx, c.cfg.Retry.Delay(retry))
	}
}

// runAttempt acquires a fresh execution context, runs the job in it and
// releases it. The returned error is set when the attempt could not be
// carried out at all.
func (c *Coordinator) runAttempt(ctx context.Context, rec *core.JobRecord) (core.Attempt, error) {
	attempt := core.Attempt{
		Number:    len(rec.Attempts) + 1,
		Status:    core.AttemptFailed,
		StartedAt: time.Now().UTC(),
	}
	fail := func(err error) (core.Attempt, error) {
		attempt.Error = err.Error()
		attempt.EndedAt = time.Now().UTC()
		return attempt, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fail(err)
		}
	}

	ectx, err := c.provider.Acquire(ctx, rec.Descriptor, c.cfg.Shape)
	if err != nil {
		return fail(fmt.Errorf("acquire execution context: %w", err))
	}
	attempt.ContextID = ectx.ID()

	result, err := ectx.Run(ctx, rec.Descriptor)
	if relErr := ectx.Release(context.WithoutCancel(ctx)); relErr != nil {
		c.logger.Warn("Failed to release execution context", "context_id", ectx.ID(), "error", relErr)
	}
	if err != nil {
		return fail(fmt.Errorf("run in %s: %w", ectx.ID(), err))
	}

	attempt.Status = result.Status
	attempt.ExitCode = result.ExitCode
	if result.Status != core.AttemptSucceeded {
		attempt.Error = result.Message
		if attempt.Error == "" {
			attempt.Error = fmt.Sprintf("exit code %d", result.ExitCode)
		}
	}

	if result.Status == core.AttemptSucceeded && c.verifier != nil {
		outputs, err := c.verifier.Verify(ctx, rec.Descriptor)
		if err != nil {
			attempt.Status = core.AttemptFailed
			attempt.Error = fmt.Sprintf("output verification: %v", err)
		} else {
			rec.StagedOutputs = outputs
		}
	}

	attempt.EndedAt = time.Now().UTC()
	return attempt, nil
}

func (c *Coordinator) finish(rec *core.JobRecord, outcome core.Outcome, cause error) {
	if outcome == core.OutcomeFailedPermanently && !rec.IsTerminal() {
		c.transition(rec, core.JobStateFailedPermanently)
	}
	rec.Outcome = outcome
	if cause != nil {
		rec.Error = cause.Error()
	}
	rec.MarkEnded()

	if err := c.outcomes.Append(rec); err != nil {
		c.logger.Error("Failed to record outcome", "job_id", rec.JobID.String(), "error", err)
	}
	c.metrics.ObserveOutcome(outcome)

	args := []any{
		"job_id", rec.JobID.String(),
		"request_index", rec.RequestIndex,
		"outcome", outcome,
		"attempts", len(rec.Attempts),
	}
	if outcome == core.OutcomeSucceeded {
		c.logger.Info("Job succeeded", args...)
	} else {
		c.logger.Error("Job failed", append(args, "error", rec.Error)...)
	}
}

func (c *Coordinator) transition(rec *core.JobRecord, to core.JobState) {
	if err := rec.Transition(to); err != nil {
		c.logger.Error("Invalid job state transition", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
