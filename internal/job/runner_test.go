package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryabkov82/crm-writer/internal/client"
	"github.com/ryabkov82/crm-writer/internal/endpoint"
	"github.com/ryabkov82/crm-writer/internal/exception"
	"github.com/ryabkov82/crm-writer/internal/ingest"
	"github.com/ryabkov82/crm-writer/internal/operation"
	"github.com/ryabkov82/crm-writer/internal/sink"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubProber struct {
	calls int
	err   error
}

func (p *stubProber) Probe(context.Context) error {
	p.calls++
	return p.err
}

type stubHandler struct {
	op    endpoint.Operation
	sink  *sink.Sink
	rows  []ingest.Row
	err   error
	calls int
}

func (h *stubHandler) Operation() endpoint.Operation { return h.op }

func (h *stubHandler) Run(ctx context.Context, src ingest.RowSource) (operation.Stats, error) {
	h.calls++
	var stats operation.Stats
	for {
		row, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}
		h.rows = append(h.rows, row)
		stats.RowsRead++
	}
	if h.sink != nil {
		h.sink.Record(sink.ErrorRecord{Status: "error", Category: "X", Message: "captured"})
	}
	return stats, h.err
}

func mustLookup(t *testing.T, name string) endpoint.Operation {
	t.Helper()
	op, err := endpoint.Lookup(name)
	require.NoError(t, err)
	return op
}

func row(pairs ...string) ingest.Row {
	r := ingest.Row{}
	for i := 0; i+1 < len(pairs); i += 2 {
		r = append(r, ingest.Field{Column: pairs[i], Value: pairs[i+1]})
	}
	return r
}

func TestExecuteCompletes(t *testing.T) {
	s := sink.New()
	h := &stubHandler{op: mustLookup(t, "company_create"), sink: s}
	prober := &stubProber{}
	runner := NewRunner(nil, prober, h, s, quiet)

	res, err := runner.Execute(context.Background(), "companies.csv", ingest.NewSliceSource([]ingest.Row{row("name", "Acme")}))
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.True(t, res.Failed())
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, int64(1), res.Stats.RowsRead)
	assert.Equal(t, 0, s.Len(), "sink is drained into the result")

	stored, err := runner.Store().Get(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, stored.State)
	assert.Equal(t, 1, stored.ErrorCount)

	// Credentials are probed once per runner
	_, err = runner.Execute(context.Background(), "more.csv", ingest.NewSliceSource(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, prober.calls)
}

func TestExecuteProbeFailureIsFatal(t *testing.T) {
	h := &stubHandler{op: mustLookup(t, "company_create")}
	prober := &stubProber{err: exception.Authentication("dispatch", "invalid credentials", nil)}
	runner := NewRunner(nil, prober, h, nil, quiet)

	res, err := runner.Execute(context.Background(), "t.csv", ingest.NewSliceSource([]ingest.Row{row("name", "Acme")}))
	require.Error(t, err)
	assert.True(t, exception.Is(err, exception.KindAuthentication))
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 0, h.calls, "nothing is dispatched after a failed probe")
}

func TestExecuteMissingColumnsListed(t *testing.T) {
	h := &stubHandler{op: mustLookup(t, "deal_create")}
	runner := NewRunner(nil, nil, h, nil, quiet)

	res, err := runner.Execute(context.Background(), "deals.csv", ingest.NewSliceSource([]ingest.Row{row("dealname", "X", "association_id", "1")}))
	require.Error(t, err)
	assert.True(t, exception.Is(err, exception.KindValidation))
	assert.Contains(t, err.Error(), "association_category")
	assert.Contains(t, err.Error(), "association_type_id")
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 0, h.calls)

	stored, _ := runner.Store().Get(res.RunID)
	assert.NotEmpty(t, stored.LastError)
}

// headerless replays rows without declaring columns.
type headerless struct {
	*ingest.SliceSource
}

func (headerless) Columns() []string { return nil }

func TestExecuteValidatesFirstRowWithoutHeader(t *testing.T) {
	h := &stubHandler{op: mustLookup(t, "deal_update")}
	runner := NewRunner(nil, nil, h, nil, quiet)

	rows := []ingest.Row{row("deal_id", "1"), row("deal_id", "2")}
	_, err := runner.Execute(context.Background(), "deals.csv", headerless{ingest.NewSliceSource(rows)})
	require.NoError(t, err)
	assert.Equal(t, rows, h.rows, "the peeked row is still dispatched")
}

func TestExecuteHandlerFatalError(t *testing.T) {
	s := sink.New()
	h := &stubHandler{op: mustLookup(t, "deal_update"), sink: s, err: context.Canceled}
	runner := NewRunner(nil, nil, h, s, quiet)

	res, err := runner.Execute(context.Background(), "deals.csv", ingest.NewSliceSource([]ingest.Row{row("deal_id", "1")}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, res.State)
	assert.Len(t, res.Errors, 1, "records captured before the failure are kept")
}

func TestExecutePartialBatchStillCompletes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusMultiStatus)
		io.WriteString(w, `{"status":"COMPLETE","errors":[
			{"status":"error","category":"VALIDATION_ERROR","message":"a"},
			{"status":"error","category":"VALIDATION_ERROR","message":"b"}
		]}`)
	}))
	defer server.Close()

	s := sink.New()
	d, err := client.NewDispatcher(client.Config{BaseURL: server.URL, Token: "t", BackoffMs: 1}, s, client.WithLogger(quiet))
	require.NoError(t, err)

	handler, err := operation.NewFactory(d, ingest.BatchPolicy{}, false, nil, quiet).Build("contact_create")
	require.NoError(t, err)

	rows := make([]ingest.Row, 100)
	for i := range rows {
		rows[i] = row("email", strconv.Itoa(i)+"@x.io")
	}

	res, err := NewRunner(nil, d, handler, s, quiet).Execute(context.Background(), "contacts.csv", ingest.NewSliceSource(rows))
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, 1, res.Stats.Requests)
}
