package core

import (
	"errors"
	"fmt"
)

// ErrPermanent marks failures that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// ErrNoOutputs is returned by output verification when a job left nothing
// at its staging destination.
var ErrNoOutputs = errors.New("no staged outputs found")

// ConfigurationError describes a malformed conversion request.
type ConfigurationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("request %d: %s %s", e.Index, e.Field, e.Reason)
}

// OverlapError reports two requests whose index ranges intersect.
type OverlapError struct {
	Kind   string
	First  int
	Second int
	Start  int64
	End    int64
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf(
		"%s index ranges of requests %d and %d overlap on [%d, %d)",
		e.Kind, e.First, e.Second, e.Start, e.End,
	)
}
