// Package sink defines the storage side of an import and a registry of
// backends.
//
// Each backend lives in its own subpackage and registers a Factory under its
// driver name in init. Import internal/sink/all to make every built-in
// backend available:
//
//	import _ "github.com/JonMunkholm/ingest/internal/sink/all"
//
//	s, err := sink.Open(ctx, sink.Config{Driver: "postgres", DSN: dsn, Table: "users", Schema: schema.People})
//
// A Sink writes one batch per BulkWrite call. The SQL backends store a batch
// completely or not at all. The mongo backend cannot roll back, so a failed
// batch there may be partly stored; its error says how many documents made it.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/ingest/internal/schema"
)

// Sink stores validated records for one target table or collection.
type Sink interface {
	// BulkWrite attempts to store batch. A non-nil error means the batch
	// counts as failed, even where the backend kept part of it.
	BulkWrite(ctx context.Context, batch []schema.ValidatedRecord) error
	// EnsureTable creates the destination if it does not exist.
	EnsureTable(ctx context.Context) error
	// Recent returns up to limit of the most recently stored records, newest first.
	Recent(ctx context.Context, limit int) ([]map[string]any, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend for one target.
type Config struct {
	Driver   string
	DSN      string
	Database string // mongo database name; ignored by SQL drivers
	Table    string
	Schema   *schema.Schema

	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration
}

var (
	ErrUnknownDriver = errors.New("sink: unknown driver")
	ErrBadTable      = errors.New("sink: invalid table name")
)

// Validate checks the fields every backend needs.
func (c Config) Validate() error {
	if c.DSN == "" {
		return errors.New("sink: DSN is empty")
	}
	if !ValidIdent(c.Table) {
		return fmt.Errorf("%w: %q", ErrBadTable, c.Table)
	}
	if c.Schema == nil {
		return errors.New("sink: schema is nil")
	}
	return nil
}

// Factory opens a backend.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under driver. It panics on duplicates.
func Register(driver string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[driver]; dup {
		panic("sink: Register called twice for driver " + driver)
	}
	factories[driver] = f
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open validates cfg and opens the backend registered for cfg.Driver.
func Open(ctx context.Context, cfg Config) (Sink, error) {
	mu.RLock()
	f, ok := factories[cfg.Driver]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %s)", ErrUnknownDriver, cfg.Driver, strings.Join(Drivers(), ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return f(ctx, cfg)
}

// ValidIdent reports whether s is safe to splice into SQL as a table or
// column name: ASCII letters, digits and underscores, not starting with a digit.
func ValidIdent(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Columns returns the destination columns for s, in schema order, after
// checking they are valid identifiers.
func Columns(s *schema.Schema) ([]string, error) {
	cols := s.Columns()
	for _, c := range cols {
		if !ValidIdent(c) {
			return nil, fmt.Errorf("sink: field %q is not a valid column name", c)
		}
	}
	return cols, nil
}
