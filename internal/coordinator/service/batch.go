package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
	"github.com/nemanja-m/casbatch/internal/shared/logging"
)

// ErrBatchRefused is returned when a batch fails its precondition checks
// and nothing was dispatched.
var ErrBatchRefused = errors.New("batch refused")

// ReportWriter persists the final batch report.
type ReportWriter interface {
	WriteReport(ctx context.Context, location string, batch *core.Batch) error
}

type BatchServiceConfig struct {
	Name              string
	Template          *core.InvocationTemplate
	CheckIndexOverlap bool
	ReportLocation    string
	PushgatewayURL    string
	MetricsJobName    string
}

type BatchService struct {
	cfg         BatchServiceConfig
	coordinator *Coordinator
	outcomes    core.OutcomeLog
	reports     ReportWriter
	metrics     *Metrics
	logger      logging.Logger
}

// NewBatchService wires a batch service. reports and metrics may be nil.
func NewBatchService(
	cfg BatchServiceConfig,
	coordinator *Coordinator,
	outcomes core.OutcomeLog,
	reports ReportWriter,
	metrics *Metrics,
	logger logging.Logger,
) *BatchService {
	return &BatchService{
		cfg:         cfg,
		coordinator: coordinator,
		outcomes:    outcomes,
		reports:     reports,
		metrics:     metrics,
		logger:      logger,
	}
}

// Plan checks the requests and expands them into job descriptors without
// running anything.
func (s *BatchService) Plan(batchID uuid.UUID, requests []core.ConversionRequest) (core.EnumerationResult, error) {
	if s.cfg.CheckIndexOverlap {
		if err := core.CheckIndexRanges(requests); err != nil {
			return core.EnumerationResult{}, fmt.Errorf("%w: %w", ErrBatchRefused, err)
		}
	}
	return core.Enumerate(batchID, requests, s.cfg.Template), nil
}

// Submit runs a batch to completion. The returned batch is non-nil even
// when an error is returned, so callers can always report what happened.
func (s *BatchService) Submit(ctx context.Context, requests []core.ConversionRequest) (*core.Batch, error) {
	batch := &core.Batch{
		ID:          uuid.New(),
		Name:        s.cfg.Name,
		Status:      core.BatchStatusPending,
		SubmittedAt: time.Now().UTC(),
	}
	logger := s.logger.With("batch_id", batch.ID.String())
	logger.Info("Submitting batch", "name", batch.Name, "num_requests", len(requests))

	plan, err := s.Plan(batch.ID, requests)
	if err != nil {
		batch.Status = core.BatchStatusRefused
		logger.Error("Batch refused", "error", err)
		return batch, err
	}

	rejected := make([]*core.JobRecord, 0, len(plan.Rejected))
	for _, cerr := range plan.Rejected {
		rejected = append(rejected, s.reject(batch.ID, cerr))
		logger.Warn("Request rejected", "request_index", cerr.Index, "error", cerr)
	}

	batch.Status = core.BatchStatusRunning
	batch.StartedAt = ptrTimeNow()

	records := s.coordinator.Run(ctx, plan.Descriptors)

	batch.Records = append(records, rejected...)
	sort.SliceStable(batch.Records, func(i, j int) bool {
		return batch.Records[i].RequestIndex < batch.Records[j].RequestIndex
	})
	batch.Status = core.BatchStatusCompleted
	batch.CompletedAt = ptrTimeNow()

	summary := batch.Summary()
	logger.Info(
		"Batch completed",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed_exhausted_retries", summary.FailedExhaustedRetries,
		"failed_permanently", summary.FailedPermanently,
		"attempts", summary.Attempts,
		"duration", batch.Duration().String(),
	)

	// The batch context may already be cancelled; the report and metrics
	// still describe what ran.
	finalCtx := context.WithoutCancel(ctx)

	s.metrics.ObserveBatch(batch)
	if err := s.metrics.Push(finalCtx, s.cfg.PushgatewayURL, s.cfg.MetricsJobName, batch.ID.String()); err != nil {
		logger.Warn("Failed to push metrics", "error", err)
	}

	if s.reports != nil && s.cfg.ReportLocation != "" {
		if err := s.reports.WriteReport(finalCtx, s.cfg.ReportLocation, batch); err != nil {
			return batch, fmt.Errorf("write batch report: %w", err)
		}
		logger.Info("Batch report written", "location", s.cfg.ReportLocation)
	}

	return batch, nil
}

// reject records a malformed request as permanently failed. It never ran,
// so it has no descriptor and no attempts.
func (s *BatchService) reject(batchID uuid.UUID, cerr *core.ConfigurationError) *core.JobRecord {
	rec := &core.JobRecord{
		JobID:        uuid.New(),
		RequestIndex: cerr.Index,
		State:        core.JobStatePending,
	}
	_ = rec.Transition(core.JobStateFailedPermanently)
	rec.Outcome = core.OutcomeFailedPermanently
	rec.Error = cerr.Error()
	rec.MarkEnded()

	if err := s.outcomes.Append(rec); err != nil {
		s.logger.Error("Failed to record outcome", "job_id", rec.JobID.String(), "batch_id", batchID.String(), "error", err)
	}
	s.metrics.ObserveOutcome(rec.Outcome)
	return rec
}

func ptrTimeNow() *time.Time {
	t := time.Now().UTC()
	return &t
}
