package core

type JobState string

const (
	JobStatePending                JobState = "PENDING"
	JobStateRunning                JobState = "RUNNING"
	JobStatePreempted              JobState = "PREEMPTED"
	JobStateFailed                 JobState = "FAILED"
	JobStateSucceeded              JobState = "SUCCEEDED"
	JobStateFailedExhaustedRetries JobState = "FAILED_EXHAUSTED_RETRIES"
	JobStateFailedPermanently      JobState = "FAILED_PERMANENTLY"
)

// Pending -> Running -> {Succeeded | Preempted -> Pending | Failed -> Pending | FailedExhaustedRetries}.
// Pending and Running may also end in FailedPermanently.
var transitions = map[JobState][]JobState{
	JobStatePending: {
		JobStateRunning,
		JobStateFailedPermanently,
	},
	JobStateRunning: {
		JobStateSucceeded,
		JobStatePreempted,
		JobStateFailed,
		JobStateFailedExhaustedRetries,
		JobStateFailedPermanently,
	},
	JobStatePreempted: {JobStatePending},
	JobStateFailed:    {JobStatePending},
}

func CanTransition(from, to JobState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailedExhaustedRetries, JobStateFailedPermanently:
		return true
	}
	return false
}
