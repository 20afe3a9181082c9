package schema

// validate.go checks structured records against a Schema.
//
// Validation is pure: it reads the record, never mutates it, and reports
// every failing field. A record either becomes a ValidatedRecord with typed
// values or a ValidationError, never both.

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JonMunkholm/ingest/internal/csv"
)

// Reason codes carried by FieldError.
const (
	CodeRequired     = "required"
	CodeTooShort     = "too_short"
	CodeTooLong      = "too_long"
	CodePattern      = "pattern"
	CodeInvalidDate  = "invalid_date"
	CodeInvalidNum   = "invalid_number"
	CodeInvalidBool  = "invalid_bool"
	CodeInvalidEnum  = "invalid_enum"
	CodeUnknownField = "unknown_field"
)

// FieldError is one reason a record was rejected.
type FieldError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationError reports a rejected record with every reason it failed.
type ValidationError struct {
	Row     int               `json:"row"`
	Line    int               `json:"line"`
	Record  map[string]string `json:"record"`
	Reasons []FieldError      `json:"reasons"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		parts[i] = r.Error()
	}
	return fmt.Sprintf("row %d: %s", e.Row, strings.Join(parts, "; "))
}

// Has reports whether the error includes a reason with code for field.
func (e *ValidationError) Has(field, code string) bool {
	for _, r := range e.Reasons {
		if r.Field == field && r.Code == code {
			return true
		}
	}
	return false
}

// ValidatedRecord is a record that passed validation. Values are keyed by
// storage column and hold string, time.Time, float64, bool or nil.
type ValidatedRecord struct {
	Row    int
	Values map[string]any
}

// Ordered returns the values in the given column order.
func (v ValidatedRecord) Ordered(columns []string) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = v.Values[c]
	}
	return out
}

// Validate checks rec against the schema.
func (s *Schema) Validate(rec csv.Record) (ValidatedRecord, *ValidationError) {
	var reasons []FieldError
	values := make(map[string]any, len(s.Fields))

	for i := range s.Fields {
		f := &s.Fields[i]
		raw, present := rec.Fields[f.Name]

		v, errs := f.check(raw, present)
		if len(errs) > 0 {
			reasons = append(reasons, errs...)
			continue
		}
		values[f.Column] = v
	}

	if s.Strict {
		var unknown []string
		for name := range rec.Fields {
			if !s.known[name] {
				unknown = append(unknown, name)
			}
		}
		// Map order is random; keep reasons deterministic.
		sort.Strings(unknown)
		for _, name := range unknown {
			reasons = append(reasons, FieldError{
				Field:   name,
				Value:   rec.Fields[name],
				Code:    CodeUnknownField,
				Message: "column is not part of the schema",
			})
		}
	}

	if len(reasons) > 0 {
		return ValidatedRecord{}, &ValidationError{
			Row:     rec.Row,
			Line:    rec.Line,
			Record:  rec.Fields,
			Reasons: reasons,
		}
	}
	return ValidatedRecord{Row: rec.Row, Values: values}, nil
}

// check validates one value and returns its typed form.
func (f *FieldSpec) check(raw string, present bool) (any, []FieldError) {
	value := raw
	if f.Trim || f.Type != FieldText {
		value = strings.TrimSpace(value)
	}

	if !present || value == "" {
		if f.Required {
			return nil, []FieldError{{Field: f.Name, Code: CodeRequired, Message: "required field is empty"}}
		}
		return nil, nil
	}

	var errs []FieldError
	fail := func(code, msg string) {
		errs = append(errs, FieldError{Field: f.Name, Value: raw, Code: code, Message: msg})
	}

	n := utf8.RuneCountInString(value)
	if f.MinLen > 0 && n < f.MinLen {
		fail(CodeTooShort, fmt.Sprintf("must be at least %d characters", f.MinLen))
	}
	if f.MaxLen > 0 && n > f.MaxLen {
		fail(CodeTooLong, fmt.Sprintf("must be at most %d characters", f.MaxLen))
	}
	if f.pattern != nil && !f.pattern.MatchString(value) {
		fail(CodePattern, "does not match the expected format")
	}

	var typed any = value
	switch f.Type {
	case FieldDate:
		t, err := time.Parse(f.Layout, value)
		if err != nil {
			fail(CodeInvalidDate, fmt.Sprintf("must be a valid date (%s)", layoutHint(f.Layout)))
		} else {
			typed = t
		}
	case FieldNumeric:
		x, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
		if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
			fail(CodeInvalidNum, "invalid number format")
		} else {
			typed = x
		}
	case FieldBool:
		b, ok := parseBool(value)
		if !ok {
			fail(CodeInvalidBool, "must be yes/no, true/false, or 1/0")
		} else {
			typed = b
		}
	case FieldEnum:
		canon, ok := matchEnum(value, f.EnumValues)
		if !ok {
			fail(CodeInvalidEnum, "value must be one of: "+strings.Join(f.EnumValues, ", "))
		} else {
			typed = canon
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return typed, nil
}

func layoutHint(layout string) string {
	if layout == DateLayout {
		return "YYYY-MM-DD"
	}
	return layout
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	}
	return false, false
}

func matchEnum(s string, values []string) (string, bool) {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return v, true
		}
	}
	return "", false
}
