package core

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConversionRequest is one logical unit of input data to convert.
// Index starts are pointers so that a missing field can be told apart from zero.
type ConversionRequest struct {
	InputBucket       string
	FilePath          string
	StageDir          string
	CellIndexStart    *int64
	FeatureIndexStart *int64

	// Range sizes, zero when unknown.
	NumCells    int64
	NumFeatures int64
}

// InvocationTemplate is the fixed program invocation shared by every job of a batch.
type InvocationTemplate struct {
	Program string
	Args    []string
}

type JobDescriptor struct {
	ID      uuid.UUID
	BatchID uuid.UUID
	Index   int

	InputBucket       string
	FilePath          string
	StageDir          string
	CellIndexStart    int64
	FeatureIndexStart int64

	Template *InvocationTemplate
}

// Args returns the conversion program flags in their documented order.
func (d *JobDescriptor) Args() []string {
	return []string{
		"--gcs_input_bucket", d.InputBucket,
		"--gcs_file_path", d.FilePath,
		"--gcs_stage_dir", d.StageDir,
		"--cas_cell_index_start", fmt.Sprintf("%d", d.CellIndexStart),
		"--cas_feature_index_start", fmt.Sprintf("%d", d.FeatureIndexStart),
	}
}

// Command returns the full argv: program, template arguments, job flags.
func (d *JobDescriptor) Command() []string {
	var cmd []string
	if d.Template != nil {
		cmd = append(cmd, d.Template.Program)
		cmd = append(cmd, d.Template.Args...)
	}
	return append(cmd, d.Args()...)
}

func (d *JobDescriptor) InputURI() string {
	return "gs://" + d.InputBucket + "/" + strings.TrimPrefix(d.FilePath, "/")
}

// OutputStem is the input file name without directory and extension.
// Staged outputs of the job are expected to start with it.
func (d *JobDescriptor) OutputStem() string {
	base := path.Base(d.FilePath)
	return strings.TrimSuffix(base, path.Ext(base))
}

type ResourceShape struct {
	CPU        int
	MemoryGB   int
	BootDiskGB int
}

func DefaultResourceShape() ResourceShape {
	return ResourceShape{CPU: 8, MemoryGB: 16, BootDiskGB: 50}
}

type RetryPolicy struct {
	MaxFailureRetries    int
	MaxPreemptionRetries int

	Backoff    time.Duration
	MaxBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxFailureRetries:    3,
		MaxPreemptionRetries: 3,
		Backoff:              5 * time.Second,
		MaxBackoff:           time.Minute,
	}
}

// Delay returns the wait before the given retry (1-based), doubling from
// Backoff and capped at MaxBackoff.
func (p RetryPolicy) Delay(retry int) time.Duration {
	if p.Backoff <= 0 || retry <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 1; i < retry; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

type Outcome string

const (
	OutcomeSucceeded              Outcome = "SUCCEEDED"
	OutcomeFailedPermanently      Outcome = "FAILED_PERMANENTLY"
	OutcomePreemptedRetried       Outcome = "PREEMPTED_RETRIED"
	OutcomeFailedExhaustedRetries Outcome = "FAILED_EXHAUSTED_RETRIES"
)

func (o Outcome) IsTerminal() bool {
	switch o {
	case OutcomeSucceeded, OutcomeFailedPermanently, OutcomeFailedExhaustedRetries:
		return true
	}
	return false
}

type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "SUCCEEDED"
	AttemptFailed    AttemptStatus = "FAILED"
	AttemptPreempted AttemptStatus = "PREEMPTED"
)

// AttemptResult is what an execution context reports for one run of the program.
type AttemptResult struct {
	Status   AttemptStatus
	ExitCode int
	Message  string
}

type Attempt struct {
	Number    int
	ContextID string
	Status    AttemptStatus
	ExitCode  int
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

// JobRecord is the execution record of one descriptor. It owns the job's
// retry counters; nothing is shared between jobs.
type JobRecord struct {
	JobID        uuid.UUID
	RequestIndex int
	Descriptor   *JobDescriptor

	State   JobState
	Outcome Outcome

	Attempts          []Attempt
	FailureRetries    int
	PreemptionRetries int

	StagedOutputs []string
	Error         string

	StartedAt *time.Time
	EndedAt   *time.Time
}

func NewJobRecord(desc *JobDescriptor) *JobRecord {
	return &JobRecord{
		JobID:        desc.ID,
		RequestIndex: desc.Index,
		Descriptor:   desc,
		State:        JobStatePending,
	}
}

// Transition moves the record to the next state, rejecting moves the state
// machine does not allow.
func (r *JobRecord) Transition(to JobState) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("job %s: invalid transition %s -> %s", r.JobID, r.State, to)
	}
	r.State = to
	return nil
}

func (r *JobRecord) IsTerminal() bool {
	return r.State.IsTerminal()
}

func (r *JobRecord) MarkStarted() {
	if r.StartedAt == nil {
		r.StartedAt = ptrTimeNow()
	}
}

func (r *JobRecord) MarkEnded() {
	r.EndedAt = ptrTimeNow()
}

type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "PENDING"
	BatchStatusRunning   BatchStatus = "RUNNING"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusRefused   BatchStatus = "REFUSED"
)

type Batch struct {
	ID     uuid.UUID
	Name   string
	Status BatchStatus

	Records []*JobRecord

	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (b *Batch) Duration() time.Duration {
	if b.StartedAt == nil || b.CompletedAt == nil {
		return 0
	}
	return b.CompletedAt.Sub(*b.StartedAt)
}

// Outcomes maps each job to its recorded outcome.
func (b *Batch) Outcomes() map[uuid.UUID]Outcome {
	out := make(map[uuid.UUID]Outcome, len(b.Records))
	for _, rec := range b.Records {
		out[rec.JobID] = rec.Outcome
	}
	return out
}

type BatchSummary struct {
	Total                  int
	Succeeded              int
	FailedExhaustedRetries int
	FailedPermanently      int
	Attempts               int
}

func (b *Batch) Summary() BatchSummary {
	s := BatchSummary{Total: len(b.Records)}
	for _, rec := range b.Records {
		s.Attempts += len(rec.Attempts)
		switch rec.Outcome {
		case OutcomeSucceeded:
			s.Succeeded++
		case OutcomeFailedExhaustedRetries:
			s.FailedExhaustedRetries++
		case OutcomeFailedPermanently:
			s.FailedPermanently++
		}
	}
	return s
}

func ptrTimeNow() *time.Time {
	t := time.Now().UTC()
	return &t
}
