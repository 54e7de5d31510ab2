package storage

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
)

// InMemoryOutcomeLog keeps terminal job records in append order.
type InMemoryOutcomeLog struct {
	mu      sync.RWMutex
	records []*core.JobRecord
	byJob   map[uuid.UUID]*core.JobRecord
}

func NewInMemoryOutcomeLog() *InMemoryOutcomeLog {
	return &InMemoryOutcomeLog{
		byJob: make(map[uuid.UUID]*core.JobRecord),
	}
}

// Append records a terminal outcome. Each job may be recorded only once.
func (s *InMemoryOutcomeLog) Append(rec *core.JobRecord) error {
	if rec == nil {
		return fmt.Errorf("cannot append nil record")
	}
	if !rec.Outcome.IsTerminal() {
		return fmt.Errorf("job %s: outcome %q is not terminal", rec.JobID, rec.Outcome)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byJob[rec.JobID]; exists {
		return fmt.Errorf("job %s: outcome already recorded", rec.JobID)
	}
	s.byJob[rec.JobID] = rec
	s.records = append(s.records, rec)
	return nil
}

func (s *InMemoryOutcomeLog) Records() ([]*core.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.JobRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *InMemoryOutcomeLog) GetByJobID(id uuid.UUID) (*core.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, exists := s.byJob[id]
	if !exists {
		return nil, nil
	}
	return rec, nil
}

func (s *InMemoryOutcomeLog) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
