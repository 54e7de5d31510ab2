package storage

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
)

// OutcomeEntry is one line of the JSONL outcome stream.
type OutcomeEntry struct {
	JobID             string     `json:"job_id"`
	BatchID           string     `json:"batch_id,omitempty"`
	RequestIndex      int        `json:"request_index"`
	FilePath          string     `json:"df_filename,omitempty"`
	CellIndexStart    *int64     `json:"cas_cell_index_start,omitempty"`
	FeatureIndexStart *int64     `json:"cas_feature_index_start,omitempty"`
	Outcome           string     `json:"outcome"`
	Attempts          int        `json:"attempts"`
	FailureRetries    int        `json:"failure_retries"`
	PreemptionRetries int        `json:"preemption_retries"`
	StagedOutputs     []string   `json:"staged_outputs,omitempty"`
	Error             string     `json:"error,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
}

func NewOutcomeEntry(rec *core.JobRecord) OutcomeEntry {
	entry := OutcomeEntry{
		JobID:             rec.JobID.String(),
		RequestIndex:      rec.RequestIndex,
		Outcome:           string(rec.Outcome),
		Attempts:          len(rec.Attempts),
		FailureRetries:    rec.FailureRetries,
		PreemptionRetries: rec.PreemptionRetries,
		StagedOutputs:     rec.StagedOutputs,
		Error:             rec.Error,
		StartedAt:         rec.StartedAt,
		EndedAt:           rec.EndedAt,
	}
	if d := rec.Descriptor; d != nil {
		cell, feature := d.CellIndexStart, d.FeatureIndexStart
		entry.BatchID = d.BatchID.String()
		entry.FilePath = d.FilePath
		entry.CellIndexStart = &cell
		entry.FeatureIndexStart = &feature
	}
	return entry
}

// JSONLOutcomeLog streams every appended record to w as one JSON line while
// keeping the records in memory.
type JSONLOutcomeLog struct {
	*InMemoryOutcomeLog

	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLOutcomeLog(w io.Writer) *JSONLOutcomeLog {
	return &JSONLOutcomeLog{
		InMemoryOutcomeLog: NewInMemoryOutcomeLog(),
		enc:                json.NewEncoder(w),
	}
}

func (s *JSONLOutcomeLog) Append(rec *core.JobRecord) error {
	if err := s.InMemoryOutcomeLog.Append(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(NewOutcomeEntry(rec))
}
