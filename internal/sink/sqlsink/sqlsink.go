// Package sqlsink stores import batches through database/sql. It covers
// SQLite, MySQL and SQL Server, which have no COPY equivalent reachable from
// database/sql; a batch is written with multi-row INSERTs inside one
// transaction instead.
package sqlsink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/ingest/internal/schema"
	"github.com/JonMunkholm/ingest/internal/sink"
)

// Sink writes to one table through a Dialect.
type Sink struct {
	db     *sql.DB
	d      Dialect
	table  string
	cols   []string
	fields []schema.FieldSpec
}

var _ sink.Sink = (*Sink)(nil)

// New wraps an open database. The caller hands ownership of db to the Sink.
func New(db *sql.DB, d Dialect, table string, s *schema.Schema) (*Sink, error) {
	if !sink.ValidIdent(table) {
		return nil, fmt.Errorf("%w: %q", sink.ErrBadTable, table)
	}
	cols, err := sink.Columns(s)
	if err != nil {
		return nil, err
	}
	return &Sink{db: db, d: d, table: table, cols: cols, fields: s.Fields}, nil
}

func open(ctx context.Context, db *sql.DB, d Dialect, cfg sink.Config) (*Sink, error) {
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: ping: %w", d.Name, err)
	}

	s, err := New(db, d, cfg.Table, cfg.Schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// BulkWrite inserts batch in one transaction. Rows are split across
// statements to stay under the dialect's parameter limit.
func (s *Sink) BulkWrite(ctx context.Context, batch []schema.ValidatedRecord) (err error) {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", s.d.Name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	per := s.d.rowsPerStatement(len(s.cols))
	for start := 0; start < len(batch); start += per {
		end := min(start+per, len(batch))
		q, args := s.insert(batch[start:end])
		if _, err = tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("%s: insert rows %d-%d into %s: %w",
				s.d.Name, batch[start].Row, batch[end-1].Row, s.table, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.d.Name, err)
	}
	return nil
}

// insert renders one multi-row INSERT and its arguments.
func (s *Sink) insert(rows []schema.ValidatedRecord) (string, []any) {
	quoted := make([]string, len(s.cols))
	for i, c := range s.cols {
		quoted[i] = s.d.Quote(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", s.d.Quote(s.table), strings.Join(quoted, ", "))

	args := make([]any, 0, len(rows)*len(s.cols))
	for r, rec := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i, f := range s.fields {
			if i > 0 {
				b.WriteString(", ")
			}
			args = append(args, s.d.encode(rec.Values[f.Column], f.Type))
			b.WriteString(s.d.Placeholder(len(args)))
		}
		b.WriteByte(')')
	}
	return b.String(), args
}

// EnsureTable creates the table when missing.
func (s *Sink) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.d.CreateTableSQL(s.table, s.fields)); err != nil {
		return fmt.Errorf("%s: create %s: %w", s.d.Name, s.table, err)
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

	rows, err := s.db.QueryContext(ctx, s.d.recentSQL(s.table, cols), limit)
	if err != nil {
		return nil, fmt.Errorf("%s: query %s: %w", s.d.Name, s.table, err)
	}
	defer rows.Close()
	return scanMaps(rows)
}

func (s *Sink) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Sink) Close() error { return s.db.Close() }

// scanMaps reads every row into a column-keyed map. Driver byte slices are
// returned as strings.
func scanMaps(rows *sql.Rows) ([]map[string]any, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(names))
		for i, n := range names {
			if b, ok := vals[i].([]byte); ok {
				m[n] = string(b)
				continue
			}
			m[n] = vals[i]
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
