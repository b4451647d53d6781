package operation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ryabkov82/crm-writer/internal/client"
	"github.com/ryabkov82/crm-writer/internal/endpoint"
	"github.com/ryabkov82/crm-writer/internal/exception"
	"github.com/ryabkov82/crm-writer/internal/ingest"
	"github.com/ryabkov82/crm-writer/internal/metrics"
)

type base struct {
	op       endpoint.Operation
	tr       *ingest.Transformer
	sender   Sender
	policy   ingest.BatchPolicy
	recorder *metrics.Recorder
	log      *slog.Logger
}

func (b *base) Operation() endpoint.Operation {
	return b.op
}

// send dispatches one payload. Only fatal errors and cancellation are returned.
func (b *base) send(ctx context.Context, p ingest.Payload, errCtx map[string]interface{}, stats *Stats) error {
	b.recorder.IncBatch(b.op.Name)

	errCtx["operation"] = b.op.Name
	raw, err := json.Marshal(errCtx)
	if err != nil {
		return fmt.Errorf("marshal error context: %w", err)
	}

	res, err := b.sender.Send(ctx, client.Request{
		Operation: b.op.Name,
		Method:    b.op.Method,
		Path:      b.op.Path,
		Params:    p.Params,
		Body:      p.Body,
		Context:   raw,
	})
	stats.Requests++
	if res != nil {
		stats.Recorded += res.Recorded
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if exception.IsFatal(err) {
		return err
	}

	stats.Failed++
	b.log.Warn("request failed, continuing", "rows", p.Rows, "error", err)
	return nil
}

func (b *base) finish(batcher *ingest.Batcher, stats *Stats) {
	stats.RowsRead = batcher.RowsRead()
	b.recorder.AddRows(b.op.Name, int(stats.RowsRead))
	b.log.Info("operation finished",
		"rows", stats.RowsRead,
		"requests", stats.Requests,
		"failed", stats.Failed,
		"recorded", stats.Recorded,
	)
}

// batchHandler streams rows into {"inputs": [...]} payloads of policy.Size.
type batchHandler struct {
	base
}

func (h *batchHandler) Run(ctx context.Context, src ingest.RowSource) (stats Stats, err error) {
	batcher := ingest.NewBatcher(src, h.policy, h.log)
	defer h.finish(batcher, &stats)

	first := int64(1)
	for batchNo := 1; ; batchNo++ {
		rows, err := batcher.NextBatch(ctx)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
		last := first + int64(len(rows)) - 1

		payload, err := h.tr.Batch(rows)
		if err != nil {
			return stats, fmt.Errorf("rows %d-%d: %w", first, last, err)
		}

		if batchNo > 1 {
			if err := h.policy.Wait(ctx); err != nil {
				return stats, err
			}
		}

		h.log.Debug("sending batch", "batch", batchNo, "rows", len(rows))
		errCtx := map[string]interface{}{"batch": batchNo, "first_row": first, "last_row": last}
		if err := h.send(ctx, payload, errCtx, &stats); err != nil {
			return stats, err
		}
		first = last + 1
	}
}

// singleHandler sends one request per row.
type singleHandler struct {
	base
}

func (h *singleHandler) Run(ctx context.Context, src ingest.RowSource) (stats Stats, err error) {
	batcher := ingest.NewBatcher(src, h.policy, h.log)
	defer h.finish(batcher, &stats)

	for {
		row, err := batcher.Next(ctx)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
		rowNo := batcher.RowsRead()

		payload, err := h.tr.Single(row)
		if err != nil {
			return stats, fmt.Errorf("row %d: %w", rowNo, err)
		}

		errCtx := map[string]interface{}{"row": rowNo}
		for k, v := range payload.Params {
			errCtx[k] = v
		}
		if err := h.send(ctx, payload, errCtx, &stats); err != nil {
			return stats, err
		}
	}
}

// listHandler reads every row, groups by list and sends one request per list.
type listHandler struct {
	base
}

func (h *listHandler) Run(ctx context.Context, src ingest.RowSource) (stats Stats, err error) {
	batcher := ingest.NewBatcher(src, h.policy, h.log)
	defer h.finish(batcher, &stats)

	rows, err := batcher.ReadAll(ctx)
	if err != nil {
		return stats, err
	}
	payloads, err := h.tr.Groups(rows)
	if err != nil {
		return stats, err
	}
	h.log.Info("lists grouped", "lists", len(payloads), "rows", len(rows))

	for i, p := range payloads {
		if i > 0 {
			if err := h.policy.Wait(ctx); err != nil {
				return stats, err
			}
		}
		errCtx := map[string]interface{}{"rows": p.Rows}
		for k, v := range p.Params {
			errCtx[k] = v
		}
		if err := h.send(ctx, p, errCtx, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// removeHandler de-duplicates ids, then deletes them one by one or archives them in batches.
type removeHandler struct {
	base
}

func (h *removeHandler) Run(ctx context.Context, src ingest.RowSource) (stats Stats, err error) {
	batcher := ingest.NewBatcher(src, h.policy, h.log)
	defer h.finish(batcher, &stats)

	rows, err := batcher.ReadAll(ctx)
	if err != nil {
		return stats, err
	}
	ids, err := h.tr.UniqueIDs(rows)
	if err != nil {
		return stats, err
	}
	h.log.Info("ids collected", "ids", len(ids), "rows", len(rows))

	if h.op.Batchable {
		for i, chunk := range ingest.Chunk(ids, h.policy.Size) {
			if i > 0 {
				if err := h.policy.Wait(ctx); err != nil {
					return stats, err
				}
			}
			errCtx := map[string]interface{}{"batch": i + 1, "ids": chunk}
			if err := h.send(ctx, h.tr.Archive(chunk), errCtx, &stats); err != nil {
				return stats, err
			}
		}
		return stats, nil
	}

	for _, id := range ids {
		errCtx := map[string]interface{}{"id": id}
		if err := h.send(ctx, h.tr.Remove(id), errCtx, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
