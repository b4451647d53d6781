package job

import (
	"time"

	"github.com/ryabkov82/crm-writer/internal/operation"
	"github.com/ryabkov82/crm-writer/internal/sink"
)

// State is a step of the run state machine:
// idle -> authenticating -> validating -> dispatching -> completed, or failed from any step.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateValidating     State = "validating"
	StateDispatching    State = "dispatching"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Run is the stored view of one write of one table.
type Run struct {
	ID         string
	Operation  string
	Table      string
	State      State
	StartedAt  *time.Time
	FinishedAt *time.Time
	Stats      operation.Stats
	ErrorCount int
	LastError  string
}

// Result is what Execute hands back to the caller.
type Result struct {
	RunID string
	State State
	Stats operation.Stats
	// Errors are the captured record failures in the order they happened.
	Errors []sink.ErrorRecord
}

// Failed reports whether the run captured any error record.
func (r *Result) Failed() bool {
	return len(r.Errors) > 0
}
