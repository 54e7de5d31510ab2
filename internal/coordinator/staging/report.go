package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
	"github.com/nemanja-m/casbatch/internal/coordinator/storage"
)

// Report is the JSON document written once a batch has finished.
type Report struct {
	BatchID         string                 `json:"batch_id"`
	Name            string                 `json:"name,omitempty"`
	Status          string                 `json:"status"`
	SubmittedAt     time.Time              `json:"submitted_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	DurationSeconds float64                `json:"duration_seconds"`
	Summary         ReportSummary          `json:"summary"`
	Jobs            []storage.OutcomeEntry `json:"jobs"`
}

type ReportSummary struct {
	Total                  int `json:"total"`
	Succeeded              int `json:"succeeded"`
	FailedExhaustedRetries int `json:"failed_exhausted_retries"`
	FailedPermanently      int `json:"failed_permanently"`
	Attempts               int `json:"attempts"`
}

func NewReport(batch *core.Batch) Report {
	s := batch.Summary()
	report := Report{
		BatchID:         batch.ID.String(),
		Name:            batch.Name,
		Status:          string(batch.Status),
		SubmittedAt:     batch.SubmittedAt,
		StartedAt:       batch.StartedAt,
		CompletedAt:     batch.CompletedAt,
		DurationSeconds: batch.Duration().Seconds(),
		Summary: ReportSummary{
			Total:                  s.Total,
			Succeeded:              s.Succeeded,
			FailedExhaustedRetries: s.FailedExhaustedRetries,
			FailedPermanently:      s.FailedPermanently,
			Attempts:               s.Attempts,
		},
		Jobs: make([]storage.OutcomeEntry, 0, len(batch.Records)),
	}
	for _, rec := range batch.Records {
		report.Jobs = append(report.Jobs, storage.NewOutcomeEntry(rec))
	}
	return report
}

// ReportWriter uploads batch reports through an object store.
type ReportWriter struct {
	store ObjectStore
}

func NewReportWriter(store ObjectStore) *ReportWriter {
	return &ReportWriter{store: store}
}

// WriteReport writes the report to location. A location ending in "/" is
// treated as a directory and gets a file named after the batch.
func (w *ReportWriter) WriteReport(ctx context.Context, location string, batch *core.Batch) error {
	isDir := len(location) > 0 && location[len(location)-1] == '/'
	loc, err := ParseLocation(location)
	if err != nil {
		return fmt.Errorf("report location: %w", err)
	}
	if isDir {
		loc = loc.Join("batch-" + batch.ID.String() + ".json")
	}

	body, err := json.MarshalIndent(NewReport(batch), "", "  ")
	if err != nil {
		return err
	}
	return w.store.Put(ctx, loc, append(body, '\n'), "application/json")
}
