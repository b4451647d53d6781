package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/ryabkov82/crm-writer/internal/endpoint"
)

// Batching defaults.
const (
	DefaultBatchSize     = endpoint.MaxBatchSize
	DefaultPacing        = 100 * time.Millisecond
	DefaultProgressEvery = 200
)

// BatchPolicy controls how batchable operations chunk and pace their input.
type BatchPolicy struct {
	Size int
	// Pacing is slept between two consecutive batch requests.
	Pacing time.Duration
	// ProgressEvery logs progress after this many consumed rows.
	ProgressEvery int
}

// DefaultBatchPolicy returns 100-row batches paced by 100ms, with progress every 200 rows.
func DefaultBatchPolicy() BatchPolicy {
	return BatchPolicy{Size: DefaultBatchSize, Pacing: DefaultPacing, ProgressEvery: DefaultProgressEvery}
}

// Normalize fills unset values with defaults and clamps Size to the API maximum.
func (p BatchPolicy) Normalize() BatchPolicy {
	if p.Size <= 0 {
		p.Size = DefaultBatchSize
	}
	if p.Size > endpoint.MaxBatchSize {
		p.Size = endpoint.MaxBatchSize
	}
	if p.Pacing < 0 {
		p.Pacing = 0
	}
	if p.ProgressEvery <= 0 {
		p.ProgressEvery = DefaultProgressEvery
	}
	return p
}

// Wait sleeps for the pacing interval unless ctx is done first.
func (p BatchPolicy) Wait(ctx context.Context) error {
	if p.Pacing <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(p.Pacing)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Chunk splits items into consecutive slices of size; only the last may be shorter.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultBatchSize
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Batcher reads a RowSource, counting consumed rows and logging progress.
type Batcher struct {
	src      RowSource
	policy   BatchPolicy
	log      *slog.Logger
	rowsRead int64
	done     bool
}

// NewBatcher wraps src. A nil logger falls back to slog.Default().
func NewBatcher(src RowSource, policy BatchPolicy, log *slog.Logger) *Batcher {
	if log == nil {
		log = slog.Default()
	}
	return &Batcher{src: src, policy: policy.Normalize(), log: log}
}

// RowsRead returns the number of rows consumed so far.
func (b *Batcher) RowsRead() int64 {
	return b.rowsRead
}

// Next returns the next row, or io.EOF.
func (b *Batcher) Next(ctx context.Context) (Row, error) {
	if b.done {
		return nil, io.EOF
	}
	row, err := b.src.Next(ctx)
	if errors.Is(err, io.EOF) {
		b.done = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}

	b.rowsRead++
	if b.rowsRead%int64(b.policy.ProgressEvery) == 0 {
		b.log.Info("rows consumed", "rows", b.rowsRead)
	}
	return row, nil
}

// NextBatch returns up to policy.Size rows. It returns io.EOF only when no row is left.
func (b *Batcher) NextBatch(ctx context.Context) ([]Row, error) {
	batch := make([]Row, 0, b.policy.Size)
	for len(batch) < b.policy.Size {
		row, err := b.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, row)
	}
	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// ReadAll drains the source. Grouping and de-duplicating operations need the full input.
func (b *Batcher) ReadAll(ctx context.Context) ([]Row, error) {
	var rows []Row
	for {
		row, err := b.Next(ctx)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}
