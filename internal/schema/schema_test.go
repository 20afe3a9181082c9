package schema

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/ingest/internal/csv"
)

func record(row int, fields map[string]string) csv.Record {
	return csv.Record{Row: row, Line: row + 1, Fields: fields}
}

// ============================================================================
// People
// ============================================================================

func TestPeople_Valid(t *testing.T) {
	rec := record(1, map[string]string{
		"firstname":    "  Ada ",
		"lastname":     "Lovelace",
		"birthday":     "1815-12-10",
		"favorite_pet": "",
	})

	v, verr := People.Validate(rec)
	if verr != nil {
		t.Fatalf("Validate() error = %v", verr)
	}
	if v.Row != 1 {
		t.Errorf("Row = %d, want 1", v.Row)
	}
	if v.Values["firstname"] != "Ada" {
		t.Errorf("firstname = %q, want trimmed %q", v.Values["firstname"], "Ada")
	}
	want := time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC)
	if got, ok := v.Values["birthday"].(time.Time); !ok || !got.Equal(want) {
		t.Errorf("birthday = %v, want %v", v.Values["birthday"], want)
	}
	if v.Values["favorite_pet"] != nil {
		t.Errorf("favorite_pet = %v, want nil for empty optional", v.Values["favorite_pet"])
	}
}

func TestPeople_CollectsEveryReason(t *testing.T) {
	rec := record(3, map[string]string{
		"firstname":    "",
		"lastname":     "   ",
		"birthday":     "not-a-date",
		"favorite_pet": "dog",
	})

	_, verr := People.Validate(rec)
	if verr == nil {
		t.Fatal("Validate() expected error")
	}
	if verr.Row != 3 {
		t.Errorf("Row = %d, want 3", verr.Row)
	}
	if len(verr.Reasons) != 3 {
		t.Fatalf("got %d reasons, want 3: %v", len(verr.Reasons), verr)
	}
	for _, want := range []struct{ field, code string }{
		{"firstname", CodeRequired},
		{"lastname", CodeRequired},
		{"birthday", CodeInvalidDate},
	} {
		if !verr.Has(want.field, want.code) {
			t.Errorf("missing reason %s/%s in %v", want.field, want.code, verr)
		}
	}
	if verr.Record["favorite_pet"] != "dog" {
		t.Errorf("Record not carried on error: %v", verr.Record)
	}
	if !strings.HasPrefix(verr.Error(), "row 3: ") {
		t.Errorf("Error() = %q, want row prefix", verr.Error())
	}
}

func TestPeople_Birthday(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"2000-01-31", true},
		{"2024-02-29", true},
		{"2023-02-29", false},
		{"2023-02-30", false},
		{"2023-13-01", false},
		{"2023-1-5", false},
		{"01/05/2023", false},
		{"20230105", false},
		{" 2000-01-31 ", true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			_, verr := People.Validate(record(1, map[string]string{
				"firstname": "A", "lastname": "B", "birthday": tt.value,
			}))
			if tt.valid && verr != nil {
				t.Errorf("Validate(%q) error = %v, want valid", tt.value, verr)
			}
			if !tt.valid && (verr == nil || !verr.Has("birthday", CodeInvalidDate)) {
				t.Errorf("Validate(%q) = %v, want invalid_date", tt.value, verr)
			}
		})
	}
}

func TestPeople_MissingColumnIsRequiredFailure(t *testing.T) {
	_, verr := People.Validate(record(1, map[string]string{"firstname": "A", "lastname": "B"}))
	if verr == nil || !verr.Has("birthday", CodeRequired) {
		t.Fatalf("Validate() = %v, want birthday required", verr)
	}
}

func TestPeople_IgnoresUnknownColumns(t *testing.T) {
	_, verr := People.Validate(record(1, map[string]string{
		"firstname": "A", "lastname": "B", "birthday": "1990-05-05", "shoe_size": "42",
	}))
	if verr != nil {
		t.Fatalf("Validate() error = %v, want unknown column ignored", verr)
	}
}

func TestPeople_DoesNotMutateRecord(t *testing.T) {
	fields := map[string]string{"firstname": " Ada ", "lastname": "L", "birthday": "1815-12-10"}
	People.Validate(record(1, fields))
	if fields["firstname"] != " Ada " {
		t.Errorf("record mutated: firstname = %q", fields["firstname"])
	}
}

// ============================================================================
// Field rules
// ============================================================================

func TestFieldRules(t *testing.T) {
	s := Must("rules", true,
		FieldSpec{Name: "code", MinLen: 2, MaxLen: 4, Pattern: `[A-Z]+`},
		FieldSpec{Name: "amount", Type: FieldNumeric},
		FieldSpec{Name: "active", Type: FieldBool},
		FieldSpec{Name: "tier", Type: FieldEnum, EnumValues: []string{"Gold", "Silver"}},
	)

	tests := []struct {
		name      string
		fields    map[string]string
		wantCodes map[string]string
		wantValue map[string]any
	}{
		{
			name:      "all valid",
			fields:    map[string]string{"code": "ABC", "amount": "1,250.50", "active": "Yes", "tier": "gold"},
			wantValue: map[string]any{"code": "ABC", "amount": 1250.5, "active": true, "tier": "Gold"},
		},
		{
			name:      "too short and pattern",
			fields:    map[string]string{"code": "a"},
			wantCodes: map[string]string{"code": CodeTooShort},
		},
		{
			name:      "too long",
			fields:    map[string]string{"code": "ABCDE"},
			wantCodes: map[string]string{"code": CodeTooLong},
		},
		{
			name:      "bad number",
			fields:    map[string]string{"amount": "12abc"},
			wantCodes: map[string]string{"amount": CodeInvalidNum},
		},
		{
			name:      "NaN rejected",
			fields:    map[string]string{"amount": "NaN"},
			wantCodes: map[string]string{"amount": CodeInvalidNum},
		},
		{
			name:      "bad bool",
			fields:    map[string]string{"active": "maybe"},
			wantCodes: map[string]string{"active": CodeInvalidBool},
		},
		{
			name:      "bad enum",
			fields:    map[string]string{"tier": "bronze"},
			wantCodes: map[string]string{"tier": CodeInvalidEnum},
		},
		{
			name:      "strict rejects unknown",
			fields:    map[string]string{"code": "AB", "extra": "x"},
			wantCodes: map[string]string{"extra": CodeUnknownField},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, verr := s.Validate(record(1, tt.fields))
			if len(tt.wantCodes) == 0 {
				if verr != nil {
					t.Fatalf("Validate() error = %v", verr)
				}
				for k, want := range tt.wantValue {
					if v.Values[k] != want {
						t.Errorf("Values[%s] = %v (%T), want %v (%T)", k, v.Values[k], v.Values[k], want, want)
					}
				}
				return
			}
			if verr == nil {
				t.Fatal("Validate() expected error")
			}
			for field, code := range tt.wantCodes {
				if !verr.Has(field, code) {
					t.Errorf("missing %s/%s in %v", field, code, verr)
				}
			}
		})
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fields  []FieldSpec
		wantErr error
	}{
		{"no fields", nil, ErrNoFields},
		{"duplicate name", []FieldSpec{{Name: "a"}, {Name: "A"}}, ErrDuplicateField},
		{"duplicate column", []FieldSpec{{Name: "a", Column: "x"}, {Name: "b", Column: "x"}}, ErrDuplicateField},
		{"bad pattern", []FieldSpec{{Name: "a", Pattern: "("}}, nil},
		{"enum without values", []FieldSpec{{Name: "a", Type: FieldEnum}}, nil},
		{"empty name", []FieldSpec{{Name: " "}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("t", false, tt.fields...)
			if err == nil {
				t.Fatal("New() expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestColumnsAndOrdered(t *testing.T) {
	s := Must("t", false,
		FieldSpec{Name: "First Name", Column: "first_name"},
		FieldSpec{Name: "pet"},
	)
	cols := s.Columns()
	if strings.Join(cols, ",") != "first_name,pet" {
		t.Fatalf("Columns() = %v", cols)
	}

	v, verr := s.Validate(record(1, map[string]string{"first name": "Ada", "pet": "cat"}))
	if verr != nil {
		t.Fatalf("Validate() error = %v", verr)
	}
	got := v.Ordered(cols)
	if got[0] != "Ada" || got[1] != "cat" {
		t.Errorf("Ordered() = %v", got)
	}
}

func TestMissingColumns(t *testing.T) {
	got := People.MissingColumns([]string{"firstname", "favorite_pet"})
	if strings.Join(got, ",") != "lastname,birthday" {
		t.Errorf("MissingColumns() = %v, want [lastname birthday]", got)
	}
	if got := People.MissingColumns([]string{"firstname", "lastname", "birthday"}); len(got) != 0 {
		t.Errorf("MissingColumns() = %v, want none", got)
	}
}

// ============================================================================
// YAML
// ============================================================================

const usersYAML = `
name: users
strict: true
fields:
  - name: firstname
    required: true
    trim: true
  - name: birthday
    type: date
    required: true
  - name: score
    type: numeric
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(usersYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if s.Name != "users" || !s.Strict || len(s.Fields) != 3 {
		t.Fatalf("Parse() = %+v", s)
	}
	if s.Fields[1].Type != FieldDate || s.Fields[1].Layout != DateLayout {
		t.Errorf("birthday spec = %+v", s.Fields[1])
	}

	_, verr := s.Validate(record(1, map[string]string{"firstname": "Ada", "birthday": "1815-12-10", "score": "x"}))
	if verr == nil || !verr.Has("score", CodeInvalidNum) {
		t.Errorf("Validate() = %v, want invalid score", verr)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "fields: [\n"},
		{"unknown type", "name: x\nfields:\n  - name: a\n    type: uuid\n"},
		{"no fields", "name: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("Parse() expected error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	if err := os.WriteFile(path, []byte(usersYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Name != "users" {
		t.Errorf("Name = %q", s.Name)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestFieldType_String(t *testing.T) {
	for _, name := range []string{"text", "enum", "date", "numeric", "bool"} {
		ft, err := ParseFieldType(name)
		if err != nil {
			t.Fatalf("ParseFieldType(%q) error = %v", name, err)
		}
		if ft.String() != name {
			t.Errorf("String() = %q, want %q", ft.String(), name)
		}
	}
}
