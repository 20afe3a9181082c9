// Package schema declares what a valid record looks like and checks records
// against it.
//
// A Schema is a list of FieldSpecs. Validate checks every field of a record
// and reports all failures at once, so an operator can fix a row in one pass.
// Schemas are usually declared in Go (see People) but can also be loaded from
// YAML with Parse or Load.
package schema

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DateLayout is the default layout for FieldDate values.
const DateLayout = "2006-01-02"

// FieldType represents the expected data type for a CSV field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldNumeric
	FieldBool
)

var fieldTypeNames = map[FieldType]string{
	FieldText:    "text",
	FieldEnum:    "enum",
	FieldDate:    "date",
	FieldNumeric: "numeric",
	FieldBool:    "bool",
}

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return "value"
}

// MarshalText renders the type name, e.g. "date".
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseFieldType maps a type name to a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" || key == "string" {
		return FieldText, nil
	}
	for t, name := range fieldTypeNames {
		if name == key {
			return t, nil
		}
	}
	return FieldText, fmt.Errorf("unknown field type %q", s)
}

// UnmarshalYAML accepts the type by name.
func (t *FieldType) UnmarshalYAML(node *yaml.Node) error {
	var name string
	if err := node.Decode(&name); err != nil {
		return err
	}
	ft, err := ParseFieldType(name)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*t = ft
	return nil
}

// FieldSpec defines validation rules for a single CSV column.
type FieldSpec struct {
	Name       string    `yaml:"name" json:"name"`                     // Header name, matched case-insensitively
	Column     string    `yaml:"column,omitempty" json:"column"`       // Storage name, defaults to Name
	Type       FieldType `yaml:"type" json:"type"`                     // Expected data type
	Required   bool      `yaml:"required" json:"required"`             // Value must be present and non-empty
	Trim       bool      `yaml:"trim" json:"trim"`                     // Trim surrounding whitespace from text
	MinLen     int       `yaml:"min_length,omitempty" json:"min_length,omitempty"`
	MaxLen     int       `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Pattern    string    `yaml:"pattern,omitempty" json:"pattern,omitempty"` // Regexp the whole value must match
	Layout     string    `yaml:"layout,omitempty" json:"layout,omitempty"`   // Date layout, defaults to DateLayout
	EnumValues []string  `yaml:"enum,omitempty" json:"enum,omitempty"`       // Valid values for FieldEnum

	pattern *regexp.Regexp
}

// Schema is a compiled set of field rules.
type Schema struct {
	Name   string      `yaml:"name" json:"name"`
	Strict bool        `yaml:"strict" json:"strict"` // Reject columns the schema does not declare
	Fields []FieldSpec `yaml:"fields" json:"fields"`

	known map[string]bool
}

var (
	// ErrNoFields is returned for a schema without fields.
	ErrNoFields = errors.New("schema has no fields")
	// ErrDuplicateField is returned when two fields share a name or column.
	ErrDuplicateField = errors.New("duplicate field")
)

// New compiles a schema. Field names are lowercased to match parsed headers.
func New(name string, strict bool, fields ...FieldSpec) (*Schema, error) {
	s := &Schema{Name: name, Strict: strict, Fields: fields}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return s, nil
}

// Must is like New but panics on error. Use it for package-level schemas.
func Must(name string, strict bool, fields ...FieldSpec) *Schema {
	s, err := New(name, strict, fields...)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return s
}

// Parse reads a schema from YAML.
//
//	name: users
//	strict: true
//	fields:
//	  - name: firstname
//	    required: true
//	    trim: true
//	  - name: birthday
//	    type: date
//	    required: true
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if err := s.compile(); err != nil {
		return nil, fmt.Errorf("schema %s: %w", s.Name, err)
	}
	return &s, nil
}

// Load reads a YAML schema from path.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return Parse(data)
}

func (s *Schema) compile() error {
	if len(s.Fields) == 0 {
		return ErrNoFields
	}

	s.known = make(map[string]bool, len(s.Fields))
	columns := make(map[string]bool, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		f.Name = strings.ToLower(strings.TrimSpace(f.Name))
		if f.Name == "" {
			return fmt.Errorf("field %d: empty name", i+1)
		}
		if f.Column == "" {
			f.Column = f.Name
		}
		if s.known[f.Name] || columns[f.Column] {
			return fmt.Errorf("%w: %q", ErrDuplicateField, f.Name)
		}
		s.known[f.Name] = true
		columns[f.Column] = true

		if f.MaxLen > 0 && f.MinLen > f.MaxLen {
			return fmt.Errorf("field %s: min_length %d exceeds max_length %d", f.Name, f.MinLen, f.MaxLen)
		}
		if f.Pattern != "" {
			re, err := regexp.Compile("^(?:" + f.Pattern + ")$")
			if err != nil {
				return fmt.Errorf("field %s: bad pattern: %w", f.Name, err)
			}
			f.pattern = re
		}
		if f.Type == FieldDate && f.Layout == "" {
			f.Layout = DateLayout
		}
		if f.Type == FieldEnum && len(f.EnumValues) == 0 {
			return fmt.Errorf("field %s: enum without values", f.Name)
		}
	}
	return nil
}

// Columns returns storage column names in declaration order.
func (s *Schema) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Column
	}
	return cols
}

// MissingColumns lists required fields absent from header. Every row of such
// a file will fail validation.
func (s *Schema) MissingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[strings.ToLower(h)] = true
	}
	var missing []string
	for _, f := range s.Fields {
		if f.Required && !present[f.Name] {
			missing = append(missing, f.Name)
		}
	}
	return missing
}
