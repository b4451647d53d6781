package job

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryabkov82/crm-writer/internal/operation"
)

// Store keeps the runs of this process in memory.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*Run
	seq  []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{runs: make(map[string]*Run)}
}

// Create registers r in state idle and returns its new ID.
func (s *Store) Create(r *Run) string {
	r.ID = uuid.New().String()
	r.State = StateIdle

	s.mu.Lock()
	s.runs[r.ID] = r
	s.seq = append(s.seq, r.ID)
	s.mu.Unlock()
	return r.ID
}

// Get returns a copy of the run with id.
func (s *Store) Get(id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return Run{}, fmt.Errorf("run not found: %s", id)
	}
	return *r, nil
}

// List returns copies of all runs in creation order.
func (s *Store) List() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Run, 0, len(s.seq))
	for _, id := range s.seq {
		out = append(out, *s.runs[id])
	}
	return out
}

// UpdateState moves the run to state. Terminal runs cannot move.
func (s *Store) UpdateState(id string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run not found: %s", id)
	}
	if r.State.Terminal() {
		return fmt.Errorf("run already finished: %s", r.State)
	}

	r.State = state
	now := time.Now()

	switch state {
	case StateAuthenticating:
		if r.StartedAt == nil {
			r.StartedAt = &now
		}
	case StateCompleted, StateFailed:
		if r.FinishedAt == nil {
			r.FinishedAt = &now
		}
	}
	return nil
}

// UpdateStats stores the handler counters and the captured error count.
func (s *Store) UpdateStats(id string, stats operation.Stats, errorCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.runs[id]; ok {
		r.Stats = stats
		r.ErrorCount = errorCount
	}
}

// UpdateError stores the fatal error message of the run.
func (s *Store) UpdateError(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return
	}
	if err != nil {
		r.LastError = err.Error()
	} else {
		r.LastError = ""
	}
}

// Summary counts runs per state.
func (s *Store) Summary() map[State]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[State]int)
	for _, r := range s.runs {
		out[r.State]++
	}
	return out
}

