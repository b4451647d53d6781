// Package operation turns a registered operation into an executable handler.
//
// Each handler composes the row transformer, the batching policy and the
// dispatcher. Handlers return only fatal errors; everything the remote API
// rejects ends up in the dispatcher's sink.
package operation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ryabkov82/crm-writer/internal/client"
	"github.com/ryabkov82/crm-writer/internal/endpoint"
	"github.com/ryabkov82/crm-writer/internal/exception"
	"github.com/ryabkov82/crm-writer/internal/ingest"
	"github.com/ryabkov82/crm-writer/internal/metrics"
)

const moduleName = "operation"

// Sender performs one API call. *client.Dispatcher implements it.
type Sender interface {
	Send(ctx context.Context, req client.Request) (*client.Result, error)
}

// Stats are the counters of one handler run.
type Stats struct {
	RowsRead int64 `json:"rows_read"`
	// Requests is the number of logical calls, retries excluded.
	Requests int `json:"requests"`
	// Failed is the number of calls that ended in a recorded error.
	Failed int `json:"failed"`
	// Recorded is the number of error records the calls produced.
	Recorded int `json:"recorded"`
}

// Handler executes one operation over a row source.
type Handler interface {
	Operation() endpoint.Operation
	Run(ctx context.Context, src ingest.RowSource) (Stats, error)
}

// Factory builds handlers sharing one dispatcher and policy.
type Factory struct {
	sender      Sender
	policy      ingest.BatchPolicy
	preferEmail bool
	recorder    *metrics.Recorder
	log         *slog.Logger
}

// NewFactory creates a factory. recorder may be nil; a nil logger falls back to slog.Default().
func NewFactory(sender Sender, policy ingest.BatchPolicy, preferEmail bool, recorder *metrics.Recorder, log *slog.Logger) *Factory {
	if log == nil {
		log = slog.Default()
	}
	return &Factory{
		sender:      sender,
		policy:      policy.Normalize(),
		preferEmail: preferEmail,
		recorder:    recorder,
		log:         log,
	}
}

// Build resolves name (current or legacy) and returns its handler.
func (f *Factory) Build(name string) (Handler, error) {
	op, err := endpoint.Resolve(name)
	if err != nil {
		return nil, err
	}
	return f.BuildFor(op)
}

// BuildFor returns the handler of an already resolved operation.
func (f *Factory) BuildFor(op endpoint.Operation) (Handler, error) {
	b := base{
		op:       op,
		tr:       ingest.NewTransformer(op, f.preferEmail),
		sender:   f.sender,
		policy:   f.policy,
		recorder: f.recorder,
		log:      f.log.With("operation", op.Name),
	}

	switch op.Shape {
	case endpoint.ShapeCreateSimple, endpoint.ShapeUpdateByID, endpoint.ShapeCreateWithAssociation:
		if op.Batchable {
			return &batchHandler{base: b}, nil
		}
		return &singleHandler{base: b}, nil
	case endpoint.ShapeListCreate:
		return &singleHandler{base: b}, nil
	case endpoint.ShapeListMembership:
		return &listHandler{base: b}, nil
	case endpoint.ShapeRemoveByID:
		return &removeHandler{base: b}, nil
	default:
		return nil, exception.Configuration(moduleName, fmt.Sprintf("no handler for %s (%s)", op.Name, op.Shape), nil)
	}
}
