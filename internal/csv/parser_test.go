package csv

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

// readAll drains a parser with Next.
func readAll(t *testing.T, p *Parser) ([]Record, error) {
	t.Helper()
	var out []Record
	for {
		rec, err := p.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// ============================================================================
// Next
// ============================================================================

func TestParser_HeaderAndRows(t *testing.T) {
	input := "firstname,lastname,birthday,favorite_pet\n" +
		"Ada,Lovelace,1815-12-10,cat\n" +
		"Alan,Turing,1912-06-23,\n"

	p := NewParser(strings.NewReader(input), Options{})
	recs, err := readAll(t, p)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	wantHeader := Header{"firstname", "lastname", "birthday", "favorite_pet"}
	if len(p.Header()) != len(wantHeader) {
		t.Fatalf("Header() = %v, want %v", p.Header(), wantHeader)
	}
	for i := range wantHeader {
		if p.Header()[i] != wantHeader[i] {
			t.Errorf("Header()[%d] = %q, want %q", i, p.Header()[i], wantHeader[i])
		}
	}

	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Row != 1 || recs[1].Row != 2 {
		t.Errorf("rows = %d,%d, want 1,2", recs[0].Row, recs[1].Row)
	}
	if recs[0].Line != 2 || recs[1].Line != 3 {
		t.Errorf("lines = %d,%d, want 2,3", recs[0].Line, recs[1].Line)
	}
	if recs[0].Fields["lastname"] != "Lovelace" {
		t.Errorf("lastname = %q, want %q", recs[0].Fields["lastname"], "Lovelace")
	}
	if v, ok := recs[1].Fields["favorite_pet"]; !ok || v != "" {
		t.Errorf("favorite_pet = %q (present %v), want empty and present", v, ok)
	}
	if p.Rows() != 2 {
		t.Errorf("Rows() = %d, want 2", p.Rows())
	}
}

func TestParser_Normalization(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		opts       Options
		wantHeader string
		wantValue  string
	}{
		{
			name:       "trims fields by default",
			input:      "name\n  Ada  \n",
			wantHeader: "name",
			wantValue:  "Ada",
		},
		{
			name:       "keeps space when asked",
			input:      "name\n  Ada  \n",
			opts:       Options{KeepSpace: true},
			wantHeader: "name",
			wantValue:  "  Ada  ",
		},
		{
			name:       "header is lowercased and cleaned",
			input:      "=\"FirstName\"\nAda\n",
			wantHeader: "firstname",
			wantValue:  "Ada",
		},
		{
			name:       "quoted field with comma and newline",
			input:      "note\n\"one, two\nthree\"\n",
			wantHeader: "note",
			wantValue:  "one, two\nthree",
		},
		{
			name:       "escaped quotes",
			input:      "note\n\"say \"\"hi\"\"\"\n",
			wantHeader: "note",
			wantValue:  `say "hi"`,
		},
		{
			name:       "semicolon separator",
			input:      "a;b\nx;y\n",
			opts:       Options{Comma: ';'},
			wantHeader: "a",
			wantValue:  "x",
		},
		{
			name:       "CRLF line endings",
			input:      "name\r\nAda\r\n",
			wantHeader: "name",
			wantValue:  "Ada",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(strings.NewReader(tt.input), tt.opts)
			recs, err := readAll(t, p)
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if len(recs) != 1 {
				t.Fatalf("got %d records, want 1", len(recs))
			}
			if p.Header()[0] != tt.wantHeader {
				t.Errorf("header = %q, want %q", p.Header()[0], tt.wantHeader)
			}
			if got := recs[0].Fields[tt.wantHeader]; got != tt.wantValue {
				t.Errorf("value = %q, want %q", got, tt.wantValue)
			}
		})
	}
}

func TestParser_EmptyLinesDoNotConsumeRows(t *testing.T) {
	input := "\n\nname,pet\n\nAda,cat\n   \n,\nAlan,dog\n\n"

	p := NewParser(strings.NewReader(input), Options{})
	recs, err := readAll(t, p)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Row != 1 || recs[1].Row != 2 {
		t.Errorf("rows = %d,%d, want 1,2", recs[0].Row, recs[1].Row)
	}
}

func TestParser_EmptyAndHeaderOnlyInput(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantHeader bool
	}{
		{"empty input", "", false},
		{"only blank lines", "\n\n  \n", false},
		{"header only", "firstname,lastname\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(strings.NewReader(tt.input), Options{})
			recs, err := readAll(t, p)
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if len(recs) != 0 {
				t.Errorf("got %d records, want 0", len(recs))
			}
			if (p.Header() != nil) != tt.wantHeader {
				t.Errorf("Header() = %v, want present=%v", p.Header(), tt.wantHeader)
			}
		})
	}
}

func TestParser_StructuralErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantLine int
		wantErr  error
		wantRows int
	}{
		{
			name:     "too few fields",
			input:    "a,b,c\n1,2,3\n1,2\n",
			wantLine: 3,
			wantErr:  ErrFieldCount,
			wantRows: 1,
		},
		{
			name:     "too many fields",
			input:    "a,b\n1,2,3\n",
			wantLine: 2,
			wantErr:  ErrFieldCount,
		},
		{
			name:     "duplicate header",
			input:    "a,B,b\n1,2,3\n",
			wantLine: 1,
			wantErr:  ErrDuplicateHeader,
		},
		{
			name:     "blank header cell",
			input:    "a,,c\n1,2,3\n",
			wantLine: 1,
			wantErr:  ErrEmptyHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(strings.NewReader(tt.input), Options{})
			recs, err := readAll(t, p)

			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error = %v (%T), want *ParseError", err, err)
			}
			if pe.Line != tt.wantLine {
				t.Errorf("Line = %d, want %d", pe.Line, tt.wantLine)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.wantErr)
			}
			if len(recs) != tt.wantRows {
				t.Errorf("records before error = %d, want %d", len(recs), tt.wantRows)
			}

			// The parser stays finished after a fatal error.
			if _, err := p.Next(); err != io.EOF {
				t.Errorf("Next() after error = %v, want io.EOF", err)
			}
		})
	}
}

func TestParser_UnterminatedQuote(t *testing.T) {
	p := NewParser(strings.NewReader("name,pet\n\"Ada,cat\n"), Options{})
	_, err := readAll(t, p)

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v (%T), want *ParseError", err, err)
	}
	if pe.Line < 2 {
		t.Errorf("Line = %d, want >= 2", pe.Line)
	}
}

func TestParser_FormulaHeaderKeepsStrictRows(t *testing.T) {
	p := NewParser(strings.NewReader("=\"FirstName\",lastname\nAda,L\nBad\"quote,x\n"), Options{})

	rec, err := p.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if got := p.Header(); len(got) != 2 || got[0] != "firstname" || got[1] != "lastname" {
		t.Fatalf("Header() = %v, want [firstname lastname]", got)
	}
	if rec.Fields["firstname"] != "Ada" {
		t.Errorf("firstname = %q, want %q", rec.Fields["firstname"], "Ada")
	}

	_, err = p.Next()
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v (%T), want *ParseError for a bare quote in a data row", err, err)
	}
	if pe.Line != 3 {
		t.Errorf("Line = %d, want 3", pe.Line)
	}
}

func TestParser_ReadErrorPassesThrough(t *testing.T) {
	disk := errors.New("disk gone")
	r := io.MultiReader(strings.NewReader("name\nAda\n"), errAfter{err: disk})

	_, err := readAll(t, NewParser(r, Options{}))
	if !errors.Is(err, disk) {
		t.Fatalf("error = %v, want %v", err, disk)
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		t.Errorf("read failure reported as ParseError: %v", err)
	}
}

type errAfter struct{ err error }

func (e errAfter) Read([]byte) (int, error) { return 0, e.err }

// ============================================================================
// Run / Pause / Resume
// ============================================================================

func TestParser_RunEmitsInOrder(t *testing.T) {
	input := "n\n1\n2\n3\n4\n5\n"
	p := NewParser(strings.NewReader(input), Options{})

	out := make(chan Record)
	errc := make(chan error, 1)
	go func() {
		errc <- p.Run(context.Background(), out)
		close(out)
	}()

	var got []string
	for rec := range out {
		got = append(got, rec.Fields["n"])
	}
	if err := <-errc; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Join(got, "") != "12345" {
		t.Errorf("emitted %v, want 1..5 in order", got)
	}
}

func TestParser_PauseBlocksEmission(t *testing.T) {
	input := "n\n1\n2\n3\n"
	p := NewParser(strings.NewReader(input), Options{})
	p.Pause()
	if !p.Paused() {
		t.Fatal("Paused() = false after Pause()")
	}

	// Buffered so only the gate can hold records back.
	out := make(chan Record, 10)
	errc := make(chan error, 1)
	go func() { errc <- p.Run(context.Background(), out) }()

	select {
	case rec := <-out:
		t.Fatalf("record %d emitted while paused", rec.Row)
	case <-time.After(50 * time.Millisecond):
	}

	p.Resume()
	p.Resume() // idempotent

	if err := <-errc; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out) != 3 {
		t.Errorf("emitted %d records after resume, want 3", len(out))
	}
}

func TestParser_RunCancelledWhilePaused(t *testing.T) {
	p := NewParser(strings.NewReader("n\n1\n"), Options{})
	p.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx, make(chan Record)) }()

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestParser_RunReturnsParseError(t *testing.T) {
	p := NewParser(strings.NewReader("a,b\n1,2\n3\n"), Options{})
	out := make(chan Record, 10)

	err := p.Run(context.Background(), out)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Run() error = %v, want *ParseError", err)
	}
	if len(out) != 1 {
		t.Errorf("emitted %d records before error, want 1", len(out))
	}
}

func TestCleanHeader(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"FirstName", "firstname"},
		{"  birthday ", "birthday"},
		{`="favorite_pet"`, "favorite_pet"},
		{"'lastname'", "lastname"},
		{"=total", "total"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CleanHeader(tt.in); got != tt.want {
			t.Errorf("CleanHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
