package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = row("id", strconv.Itoa(i+1))
	}
	return rows
}

func TestChunkPreservesOrderAndLength(t *testing.T) {
	for _, n := range []int{0, 1, 99, 100, 101, 250} {
		items := make([]int, n)
		for i := range items {
			items[i] = i
		}

		chunks := Chunk(items, 100)

		var flat []int
		for i, c := range chunks {
			assert.LessOrEqual(t, len(c), 100)
			if i < len(chunks)-1 {
				assert.Len(t, c, 100)
			}
			flat = append(flat, c...)
		}
		assert.Len(t, flat, n)
		for i, v := range flat {
			assert.Equal(t, i, v)
		}
	}
}

func TestPolicyNormalize(t *testing.T) {
	p := BatchPolicy{Size: 500, Pacing: -time.Second}.Normalize()
	assert.Equal(t, DefaultBatchSize, p.Size)
	assert.Equal(t, time.Duration(0), p.Pacing)
	assert.Equal(t, DefaultProgressEvery, p.ProgressEvery)

	p = BatchPolicy{Size: 10, ProgressEvery: 3}.Normalize()
	assert.Equal(t, 10, p.Size)
	assert.Equal(t, 3, p.ProgressEvery)
}

func TestPolicyWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := BatchPolicy{Pacing: time.Hour}.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatcherSplits250Rows(t *testing.T) {
	b := NewBatcher(NewSliceSource(numberedRows(250)), DefaultBatchPolicy(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	var sizes []int
	for {
		batch, err := b.NextBatch(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(batch))
	}

	assert.Equal(t, []int{100, 100, 50}, sizes)
	assert.Equal(t, int64(250), b.RowsRead())

	_, err := b.NextBatch(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestBatcherReadAll(t *testing.T) {
	b := NewBatcher(NewSliceSource(numberedRows(3)), BatchPolicy{}, nil)

	rows, err := b.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "3", rows[2].Value("id"))
	assert.Equal(t, int64(3), b.RowsRead())
}

func TestBatcherEmptySource(t *testing.T) {
	b := NewBatcher(NewSliceSource(nil), BatchPolicy{}, nil)

	_, err := b.NextBatch(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	rows, err := b.ReadAll(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, rows)
}
