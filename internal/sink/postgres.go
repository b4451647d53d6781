package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTable receives error records when no table is configured.
const DefaultTable = "crm_writer_errors"

var postgresColumns = []string{"run_id", "operation", "status", "category", "message", "context", "recorded_at"}

// Conn is the subset of *pgxpool.Pool used by PostgresWriter.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// PostgresWriter bulk-loads records into a table tagged with the run id.
type PostgresWriter struct {
	conn      Conn
	table     string
	runID     string
	operation string
	now       func() time.Time
}

// NewPostgresWriter returns a writer into table (DefaultTable when empty).
func NewPostgresWriter(conn Conn, table, runID, operation string) *PostgresWriter {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresWriter{conn: conn, table: table, runID: runID, operation: operation, now: time.Now}
}

// Connect opens a pool for url and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Write creates the table if missing and copies records into it.
func (w *PostgresWriter) Write(ctx context.Context, records []ErrorRecord) error {
	ident := pgx.Identifier{w.table}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id      text        NOT NULL,
	operation   text        NOT NULL,
	status      text        NOT NULL,
	category    text        NOT NULL,
	message     text        NOT NULL,
	context     jsonb,
	recorded_at timestamptz NOT NULL
)`, ident.Sanitize())
	if _, err := w.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", w.table, err)
	}
	if len(records) == 0 {
		return nil
	}

	at := w.now().UTC()
	rows := make([][]any, len(records))
	for i, rec := range records {
		var ctxValue any
		if len(rec.Context) > 0 {
			ctxValue = string(rec.Context)
		}
		rows[i] = []any{w.runID, w.operation, rec.Status, rec.Category, rec.Message, ctxValue, at}
	}

	n, err := w.conn.CopyFrom(ctx, ident, postgresColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", w.table, err)
	}
	if n != int64(len(records)) {
		return fmt.Errorf("copy into %s: wrote %d of %d records", w.table, n, len(records))
	}
	return nil
}
