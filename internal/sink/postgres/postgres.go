// Package postgres stores import batches in PostgreSQL with COPY.
//
// Each BulkWrite is a single COPY FROM statement, so a batch is committed
// completely or not at all without an explicit transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/ingest/internal/schema"
	"github.com/JonMunkholm/ingest/internal/sink"
)

func init() {
	sink.Register("postgres", func(ctx context.Context, cfg sink.Config) (sink.Sink, error) {
		return Open(ctx, cfg)
	})
}

// pool is the subset of *pgxpool.Pool the sink uses.
type pool interface {
	CopyFrom(ctx context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Sink writes to one PostgreSQL table.
type Sink struct {
	pool   pool
	table  string
	cols   []string
	fields []schema.FieldSpec
}

var _ sink.Sink = (*Sink)(nil)

// Open creates a connection pool for cfg and verifies it with a ping.
func Open(ctx context.Context, cfg sink.Config) (*Sink, error) {
	cols, err := sink.Columns(cfg.Schema)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Sink{pool: p, table: cfg.Table, cols: cols, fields: cfg.Schema.Fields}, nil
}

// BulkWrite copies batch into the table.
func (s *Sink) BulkWrite(ctx context.Context, batch []schema.ValidatedRecord) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([][]any, len(batch))
	for i, rec := range batch {
		rows[i] = encodeRow(rec, s.fields)
	}

	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{s.table}, s.cols, pgx.CopyFromRows(rows))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return fmt.Errorf("postgres: copy into %s: %s (%s): %w", s.table, pgErr.Detail, pgErr.SQLState(), err)
		}
		return fmt.Errorf("postgres: copy into %s: %w", s.table, err)
	}
	if int(n) != len(batch) {
		return fmt.Errorf("postgres: copy into %s: wrote %d of %d rows", s.table, n, len(batch))
	}
	return nil
}

// EnsureTable creates the table when missing.
func (s *Sink) EnsureTable(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, CreateTableSQL(s.table, s.fields)); err != nil {
		return fmt.Errorf("postgres: create %s: %w", s.table, err)
	}
	return nil
}

// Recent returns the newest rows first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		return nil, nil
	}
	cols := append([]string{"id"}, s.cols...)
	cols = append(cols, "created_at")
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY id DESC LIMIT $1",
		strings.Join(quoted, ", "), pgx.Identifier{s.table}.Sanitize())

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query %s: %w", s.table, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s: %w", s.table, err)
	}
	return out, nil
}

func (s *Sink) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}

// CreateTableSQL renders the DDL for a schema-backed table. Every table gets
// a surrogate id and a created_at timestamp.
func CreateTableSQL(table string, fields []schema.FieldSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", pgx.Identifier{table}.Sanitize())
	b.WriteString("    id BIGSERIAL PRIMARY KEY")
	for _, f := range fields {
		fmt.Fprintf(&b, ",\n    %s %s", pgx.Identifier{f.Column}.Sanitize(), columnType(f.Type))
		if f.Required {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString(",\n    created_at TIMESTAMPTZ NOT NULL DEFAULT now()\n)")
	return b.String()
}

func columnType(t schema.FieldType) string {
	switch t {
	case schema.FieldDate:
		return "DATE"
	case schema.FieldNumeric:
		return "NUMERIC"
	case schema.FieldBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}
