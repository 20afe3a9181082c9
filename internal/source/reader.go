package source

// reader.go layers decoding and progress tracking over a raw source stream.
//
// Spreadsheet exports commonly start with a byte order mark and sometimes
// carry stray non-UTF-8 bytes. Decoding happens in a streaming transform so
// memory stays bounded by the transform buffer, not the file size.

import (
	"errors"
	"io"
	"sync/atomic"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CountingReader tracks bytes read from the raw source. BytesRead is safe to
// call from other goroutines while the import is running.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
	Total  int64 // 0 if unknown
}

// NewCountingReader creates a counting reader with an optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of raw bytes consumed so far.
func (r *CountingReader) BytesRead() int64 { return r.read.Load() }

// Progress returns the read progress as a percentage (0-100).
// Returns 0 if total is unknown.
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	p := int(r.BytesRead() * 100 / r.Total)
	if p > 100 {
		p = 100
	}
	return p
}

// errReader turns read failures into *IOError so callers can tell them apart
// from malformed content.
type errReader struct {
	name   string
	reader io.Reader
}

func (r *errReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if err != nil && err != io.EOF {
		var ioErr *IOError
		if !errors.As(err, &ioErr) {
			err = &IOError{Op: "read", Name: r.name, Err: err}
		}
	}
	return n, err
}

// Decoder returns a reader that strips a leading byte order mark and emits
// valid UTF-8. UTF-16 input is recognised by its BOM and transcoded; invalid
// UTF-8 bytes become U+FFFD.
func Decoder(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// Wrap prepares a raw stream for parsing. The order matters: bytes are
// counted as they leave the source, then decoded, and read failures are
// tagged last so decoding errors are reported against the source too.
func Wrap(name string, r io.Reader, total int64) (io.Reader, *CountingReader) {
	counter := NewCountingReader(r, total)
	return &errReader{name: name, reader: Decoder(counter)}, counter
}
