// Package sink collects the per-record failures of a run and persists them.
package sink

import (
	"context"
	"encoding/json"
	"sync"
)

// Categories assigned by the writer itself when the remote body carries none.
const (
	CategoryUnresolvable = "UNRESOLVABLE"
	CategoryNetwork      = "NETWORK_ERROR"
)

// ErrorRecord is one captured, non-fatal failure.
type ErrorRecord struct {
	Status   string          `json:"status"`
	Category string          `json:"category"`
	Message  string          `json:"message"`
	Context  json.RawMessage `json:"context,omitempty"`
}

// Sink is an ordered accumulator of error records for one run.
type Sink struct {
	mu      sync.Mutex
	records []ErrorRecord
}

// New returns an empty sink.
func New() *Sink {
	return &Sink{}
}

// Record appends rec.
func (s *Sink) Record(rec ErrorRecord) {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
}

// HasErrors reports whether anything was recorded since the last Drain.
func (s *Sink) HasErrors() bool {
	return s.Len() > 0
}

// Len returns the number of pending records.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Drain returns the pending records in insertion order and empties the sink.
func (s *Sink) Drain() []ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.records
	s.records = nil
	return out
}

// Writer persists drained records.
type Writer interface {
	Write(ctx context.Context, records []ErrorRecord) error
}
