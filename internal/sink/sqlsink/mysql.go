package sqlsink

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/JonMunkholm/ingest/internal/schema"
	"github.com/JonMunkholm/ingest/internal/sink"
)

var MySQL = Dialect{
	Name:        "mysql",
	Placeholder: questionMark,
	Quote:       func(s string) string { return "`" + s + "`" },
	Types: map[schema.FieldType]string{
		schema.FieldDate:    "DATE",
		schema.FieldNumeric: "DOUBLE",
		schema.FieldBool:    "BOOLEAN",
		schema.FieldEnum:    "VARCHAR(255)",
	},
	TextType:      "TEXT",
	IDColumn:      "id BIGINT AUTO_INCREMENT PRIMARY KEY",
	CreatedColumn: "created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
	Recent:        limitQuery,
	MaxParams:     65535,
}

func init() {
	sink.Register("mysql", OpenMySQL)
}

// OpenMySQL opens a MySQL database from a go-sql-driver DSN such as
// "user:pass@tcp(localhost:3306)/ingest". Time parsing is always enabled so
// DATE columns read back as time.Time.
func OpenMySQL(ctx context.Context, cfg sink.Config) (sink.Sink, error) {
	mc, err := mysqlConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("mysql: connector: %w", err)
	}
	return open(ctx, sql.OpenDB(conn), MySQL, cfg)
}

func mysqlConfig(cfg sink.Config) (*mysql.Config, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse DSN: %w", err)
	}
	mc.ParseTime = true
	if cfg.ConnectTimeout > 0 {
		mc.Timeout = cfg.ConnectTimeout
	}
	return mc, nil
}
