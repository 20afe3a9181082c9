package sqlsink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/ingest/internal/schema"
	"github.com/JonMunkholm/ingest/internal/sink"
)

// SQLite stores dates as ISO text so they sort and compare as strings.
var SQLite = Dialect{
	Name:        "sqlite",
	Placeholder: questionMark,
	Quote:       func(s string) string { return `"` + s + `"` },
	Types: map[schema.FieldType]string{
		schema.FieldNumeric: "REAL",
		schema.FieldBool:    "INTEGER",
	},
	TextType:      "TEXT",
	IDColumn:      "id INTEGER PRIMARY KEY AUTOINCREMENT",
	CreatedColumn: "created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP",
	Recent:        limitQuery,
	MaxParams:     32766,
	Encode: func(v any, _ schema.FieldType) any {
		if t, ok := v.(time.Time); ok {
			return t.Format(schema.DateLayout)
		}
		return v
	},
}

func init() {
	sink.Register("sqlite", OpenSQLite)
}

// OpenSQLite opens a SQLite database. DSN is a file path or a "file:" URI.
func OpenSQLite(ctx context.Context, cfg sink.Config) (sink.Sink, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer at a time; this also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	cfg.MaxConns = 0

	s, err := open(ctx, db, SQLite, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: pragma: %w", err)
	}
	return s, nil
}
