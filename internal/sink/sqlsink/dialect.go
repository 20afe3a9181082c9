package sqlsink

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/ingest/internal/schema"
)

// Dialect holds what differs between SQL backends.
type Dialect struct {
	Name string

	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Quote quotes an identifier that has already passed sink.ValidIdent.
	Quote func(ident string) string

	// Types maps field types to column types. Missing entries fall back to TextType.
	Types    map[schema.FieldType]string
	TextType string

	// IDColumn and CreatedColumn are the surrogate key and insert timestamp.
	IDColumn      string
	CreatedColumn string

	// CreateIfMissing wraps CREATE TABLE for backends without IF NOT EXISTS.
	CreateIfMissing func(table, create string) string

	// Recent renders a newest-first query whose only parameter is the limit.
	Recent func(table string, cols []string) string

	// MaxParams and MaxRows cap a single INSERT statement.
	MaxParams int
	MaxRows   int

	// Encode converts a validated value for the driver. nil means pass through.
	Encode func(v any, t schema.FieldType) any
}

func (d Dialect) rowsPerStatement(cols int) int {
	if cols <= 0 {
		return 1
	}
	n := d.MaxParams / cols
	if d.MaxRows > 0 && n > d.MaxRows {
		n = d.MaxRows
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (d Dialect) encode(v any, t schema.FieldType) any {
	if d.Encode == nil {
		return v
	}
	return d.Encode(v, t)
}

func (d Dialect) columnType(t schema.FieldType) string {
	if ct, ok := d.Types[t]; ok {
		return ct
	}
	return d.TextType
}

// CreateTableSQL renders the DDL for a schema-backed table.
func (d Dialect) CreateTableSQL(table string, fields []schema.FieldSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n    %s", d.Quote(table), d.IDColumn)
	for _, f := range fields {
		fmt.Fprintf(&b, ",\n    %s %s", d.Quote(f.Column), d.columnType(f.Type))
		if f.Required {
			b.WriteString(" NOT NULL")
		}
	}
	fmt.Fprintf(&b, ",\n    %s\n)", d.CreatedColumn)

	create := b.String()
	if d.CreateIfMissing != nil {
		return d.CreateIfMissing(table, create)
	}
	return strings.Replace(create, "CREATE TABLE ", "CREATE TABLE IF NOT EXISTS ", 1)
}

func (d Dialect) recentSQL(table string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
	}
	return d.Recent(d.Quote(table), quoted)
}

func questionMark(int) string { return "?" }

func limitQuery(table string, cols []string) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY id DESC LIMIT ?", strings.Join(cols, ", "), table)
}
