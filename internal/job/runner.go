package job

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/ryabkov82/crm-writer/internal/endpoint"
	"github.com/ryabkov82/crm-writer/internal/exception"
	"github.com/ryabkov82/crm-writer/internal/ingest"
	"github.com/ryabkov82/crm-writer/internal/logging"
	"github.com/ryabkov82/crm-writer/internal/operation"
	"github.com/ryabkov82/crm-writer/internal/sink"
)

// Prober verifies credentials before anything is written.
type Prober interface {
	Probe(ctx context.Context) error
}

// Runner drives handler runs through the state machine.
type Runner struct {
	store   *Store
	prober  Prober
	handler operation.Handler
	sink    *sink.Sink
	log     *slog.Logger

	authenticated bool
}

// NewRunner creates a runner. s must be the sink the handler's dispatcher records into.
func NewRunner(store *Store, prober Prober, handler operation.Handler, s *sink.Sink, log *slog.Logger) *Runner {
	if store == nil {
		store = NewStore()
	}
	if s == nil {
		s = sink.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{store: store, prober: prober, handler: handler, sink: s, log: log}
}

// Execute writes every row of src. Credentials are probed on the first call only.
//
// The returned error is fatal (configuration, validation, authentication or
// cancellation); the Result is always non-nil and carries the records captured
// up to that point.
func (r *Runner) Execute(ctx context.Context, table string, src ingest.RowSource) (*Result, error) {
	op := r.handler.Operation()
	run := &Run{Operation: op.Name, Table: table}
	id := r.store.Create(run)

	ctx = logging.ContextWithRunID(ctx, id)
	log := r.log.With("run_id", id, "operation", op.Name, "table", table)
	result := &Result{RunID: id, State: StateIdle}

	fail := func(err error) (*Result, error) {
		r.transition(id, StateFailed, result)
		r.store.UpdateError(id, err)
		result.Errors = r.sink.Drain()
		r.store.UpdateStats(id, result.Stats, len(result.Errors))
		log.Error("run failed", "state", result.State, "kind", exception.KindOf(err), "error", err)
		return result, err
	}

	r.transition(id, StateAuthenticating, result)
	if !r.authenticated && r.prober != nil {
		if err := r.prober.Probe(ctx); err != nil {
			return fail(err)
		}
	}
	r.authenticated = true

	r.transition(id, StateValidating, result)
	src, err := validate(ctx, op, src)
	if err != nil {
		return fail(err)
	}

	r.transition(id, StateDispatching, result)
	log.Info("dispatch started")
	stats, err := r.handler.Run(ctx, src)
	result.Stats = stats
	if err != nil {
		return fail(err)
	}

	r.transition(id, StateCompleted, result)
	result.Errors = r.sink.Drain()
	r.store.UpdateStats(id, stats, len(result.Errors))
	log.Info("run completed", "rows", stats.RowsRead, "requests", stats.Requests, "error_records", len(result.Errors))
	return result, nil
}

// Store returns the run store.
func (r *Runner) Store() *Store {
	return r.store
}

func (r *Runner) transition(id string, state State, result *Result) {
	if err := r.store.UpdateState(id, state); err != nil {
		r.log.Warn("state transition rejected", "run_id", id, "state", state, "error", err)
		return
	}
	result.State = state
}

// validate checks the declared columns, or the first row's columns when the
// source has no header. The returned source still yields every row.
func validate(ctx context.Context, op endpoint.Operation, src ingest.RowSource) (ingest.RowSource, error) {
	if cols := src.Columns(); cols != nil {
		return src, ingest.CheckColumns(op, cols)
	}

	first, err := src.Next(ctx)
	if errors.Is(err, io.EOF) {
		return src, nil
	}
	if err != nil {
		return nil, err
	}
	return &peekedSource{RowSource: src, first: first}, ingest.CheckColumns(op, first.Columns())
}

// peekedSource replays one already consumed row before the rest of the source.
type peekedSource struct {
	ingest.RowSource
	first ingest.Row
	used  bool
}

func (p *peekedSource) Columns() []string {
	return p.first.Columns()
}

func (p *peekedSource) Next(ctx context.Context) (ingest.Row, error) {
	if !p.used {
		p.used = true
		return p.first, nil
	}
	return p.RowSource.Next(ctx)
}
