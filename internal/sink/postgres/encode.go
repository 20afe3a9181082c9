package postgres

// encode.go converts validated values to pgtype values for COPY.
//
// The validator has already produced typed Go values, so conversion only has
// to map them onto the column type and turn absent values into NULLs. A value
// of an unexpected Go type is passed through and left for the server to
// reject.

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/ingest/internal/schema"
)

func encodeRow(rec schema.ValidatedRecord, fields []schema.FieldSpec) []any {
	row := make([]any, len(fields))
	for i, f := range fields {
		row[i] = encodeValue(rec.Values[f.Column], f.Type)
	}
	return row
}

func encodeValue(v any, t schema.FieldType) any {
	switch t {
	case schema.FieldDate:
		return toPgDate(v)
	case schema.FieldNumeric:
		return toPgNumeric(v)
	case schema.FieldBool:
		return toPgBool(v)
	default:
		return toPgText(v)
	}
}

// toPgText treats nil and empty strings as NULL.
func toPgText(v any) any {
	switch x := v.(type) {
	case nil:
		return pgtype.Text{}
	case string:
		if x == "" {
			return pgtype.Text{}
		}
		return pgtype.Text{String: x, Valid: true}
	default:
		return v
	}
}

func toPgDate(v any) any {
	switch x := v.(type) {
	case nil:
		return pgtype.Date{}
	case time.Time:
		if x.IsZero() {
			return pgtype.Date{}
		}
		return pgtype.Date{Time: x, Valid: true}
	default:
		return v
	}
}

func toPgNumeric(v any) any {
	switch x := v.(type) {
	case nil:
		return pgtype.Numeric{}
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return pgtype.Numeric{}
		}
		var n pgtype.Numeric
		if err := n.Scan(strconv.FormatFloat(x, 'f', -1, 64)); err != nil {
			return pgtype.Numeric{}
		}
		return n
	case string:
		var n pgtype.Numeric
		if err := n.Scan(strings.TrimSpace(x)); err != nil {
			return pgtype.Numeric{}
		}
		return n
	default:
		return v
	}
}

func toPgBool(v any) any {
	switch x := v.(type) {
	case nil:
		return pgtype.Bool{}
	case bool:
		return pgtype.Bool{Bool: x, Valid: true}
	default:
		return v
	}
}
