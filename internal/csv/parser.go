// Package csv turns a decoded byte stream into header-keyed records.
//
// The first non-empty line is the header. Every later non-empty line becomes
// one Record numbered from 1. Malformed structure (a broken quote, a line
// with the wrong number of fields) stops parsing with a *ParseError; content
// problems are left to the validator.
//
// The parser can be paused by its consumer. While paused, Run does not emit
// records even when input is already buffered.
package csv

import (
	"context"
	stdcsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

var (
	// ErrFieldCount reports a data line whose field count differs from the header.
	ErrFieldCount = errors.New("wrong number of fields")
	// ErrDuplicateHeader reports a column name used twice in the header.
	ErrDuplicateHeader = errors.New("duplicate column in header")
	// ErrEmptyHeader reports a blank column name in the header.
	ErrEmptyHeader = errors.New("empty column name in header")
)

// ParseError is a structural failure in the input. It aborts the import.
type ParseError struct {
	Line   int // 1-based physical line
	Column int // 1-based byte column, 0 when unknown
	Err    error
}

func (e *ParseError) Error() string {
	if e.Column > 0 {
		return fmt.Sprintf("parse error on line %d, column %d: %v", e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("parse error on line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Header is the ordered list of normalized column names.
type Header []string

// Record is one data line keyed by header name.
type Record struct {
	Row    int // 1-based data row, header excluded
	Line   int // physical line the record started on
	Fields map[string]string
}

// Options controls parsing. The zero value reads comma-separated input and
// trims surrounding whitespace from every field.
type Options struct {
	Comma      rune
	KeepSpace  bool
	LazyQuotes bool
}

// Parser reads records from a stream. Next and Run must be called from a
// single goroutine; Pause and Resume may be called from any goroutine.
type Parser struct {
	r      *stdcsv.Reader
	opts   Options
	header Header
	row    int
	done   bool
	gate   *gate
}

// NewParser returns a parser reading from r.
func NewParser(r io.Reader, opts Options) *Parser {
	cr := stdcsv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = opts.LazyQuotes
	cr.ReuseRecord = true

	return &Parser{r: cr, opts: opts, gate: newGate()}
}

// Header returns the header once it has been read, nil before.
func (p *Parser) Header() Header { return p.header }

// Rows returns the number of records produced so far.
func (p *Parser) Rows() int { return p.row }

// Next returns the next record, or io.EOF once input is exhausted.
// Input with no header at all yields io.EOF immediately.
func (p *Parser) Next() (Record, error) {
	if p.done {
		return Record{}, io.EOF
	}

	for {
		// Header cells may carry an Excel formula wrapper (="Name"), which
		// strict quoting rejects. Data rows keep the configured mode.
		p.r.LazyQuotes = p.opts.LazyQuotes || p.header == nil
		fields, err := p.r.Read()
		if err == io.EOF {
			p.done = true
			return Record{}, io.EOF
		}
		if err != nil {
			p.done = true
			return Record{}, p.wrapErr(err)
		}

		line, _ := p.r.FieldPos(0)
		if isEmptyRow(fields) {
			continue
		}

		if p.header == nil {
			h, err := makeHeader(fields)
			if err != nil {
				p.done = true
				return Record{}, &ParseError{Line: line, Err: err}
			}
			p.header = h
			continue
		}

		if len(fields) != len(p.header) {
			p.done = true
			return Record{}, &ParseError{
				Line: line,
				Err:  fmt.Errorf("%w: expected %d, got %d", ErrFieldCount, len(p.header), len(fields)),
			}
		}

		p.row++
		rec := Record{Row: p.row, Line: line, Fields: make(map[string]string, len(fields))}
		for i, v := range fields {
			if !p.opts.KeepSpace {
				v = strings.TrimSpace(v)
			}
			rec.Fields[p.header[i]] = v
		}
		return rec, nil
	}
}

// Run emits every record on out in input order and returns nil at end of
// input. Before each send it waits while the parser is paused. Run does not
// close out.
func (p *Parser) Run(ctx context.Context, out chan<- Record) error {
	for {
		rec, err := p.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if err := p.gate.wait(ctx); err != nil {
			return err
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pause stops emission until Resume is called. It is idempotent.
func (p *Parser) Pause() { p.gate.pause() }

// Resume releases a paused parser. It is idempotent.
func (p *Parser) Resume() { p.gate.resume() }

// Paused reports whether the parser is currently paused.
func (p *Parser) Paused() bool { return p.gate.isPaused() }

func (p *Parser) wrapErr(err error) error {
	var pe *stdcsv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{Line: pe.Line, Column: pe.Column, Err: pe.Err}
	}
	// Read failures are already typed by the source layer.
	return err
}

// makeHeader normalizes header cells and rejects blank or repeated names.
func makeHeader(fields []string) (Header, error) {
	h := make(Header, len(fields))
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		name := CleanHeader(f)
		if name == "" {
			return nil, fmt.Errorf("%w: column %d", ErrEmptyHeader, i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateHeader, name)
		}
		seen[name] = true
		h[i] = name
	}
	return h, nil
}

// CleanHeader lowercases a header cell and strips whitespace, an Excel
// formula wrapper (="...") and surrounding quotes.
func CleanHeader(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}
	s = strings.Trim(s, `"'`)
	return strings.ToLower(strings.TrimSpace(s))
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// gate blocks emission while paused.
type gate struct {
	mu     sync.Mutex
	paused bool
	open   chan struct{} // closed while not paused
}

func newGate() *gate {
	g := &gate{open: make(chan struct{})}
	close(g.open)
	return g
}

func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.open = make(chan struct{})
	}
}

func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.open)
	}
}

func (g *gate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
