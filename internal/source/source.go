// Package source opens the byte streams an import reads from.
//
// A Source hands out an io.ReadCloser; Wrap layers the decoding and byte
// counting every import needs on top of it. Failures to open or read are
// reported as *IOError, which the pipeline treats as fatal.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Source is something an import can read CSV bytes from.
type Source interface {
	// Open returns a reader positioned at the first byte of input.
	Open(ctx context.Context) (io.ReadCloser, error)
	// Name identifies the source in logs and errors.
	Name() string
}

// IOError reports a failure to open or read a source.
type IOError struct {
	Op   string // "open" or "read"
	Name string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ErrInvalidName is returned by InDir for names that escape the directory.
var ErrInvalidName = errors.New("invalid file name")

// ErrConsumed is returned when a Stream is opened twice.
var ErrConsumed = errors.New("stream already consumed")

// File reads from a path on the local filesystem.
type File struct {
	path string
}

// NewFile returns a Source for the file at path.
func NewFile(path string) *File { return &File{path: path} }

// InDir returns a Source for name inside dir. name must be a plain file
// name; anything with a directory component is rejected.
func InDir(dir, name string) (*File, error) {
	base := strings.TrimSpace(name)
	if base == "" || base == "." || base == ".." ||
		strings.ContainsAny(base, `/\`) || filepath.Base(base) != base {
		return nil, &IOError{Op: "open", Name: name, Err: ErrInvalidName}
	}
	return &File{path: filepath.Join(dir, base)}, nil
}

// Name returns the file's base name.
func (f *File) Name() string { return filepath.Base(f.path) }

// Path returns the full path.
func (f *File) Path() string { return f.path }

// Open opens the file. A cancelled context is reported before the
// filesystem is touched.
func (f *File) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, &IOError{Op: "open", Name: f.path, Err: err}
	}
	return fh, nil
}

// Stream adapts an already-open reader, such as a multipart upload.
// It can be opened once.
type Stream struct {
	name string
	r    io.Reader

	mu     sync.Mutex
	opened bool
}

// NewStream returns a Source over r.
func NewStream(name string, r io.Reader) *Stream {
	return &Stream{name: name, r: r}
}

// Name returns the name given to NewStream.
func (s *Stream) Name() string { return s.name }

// Open returns the wrapped reader. Closing it closes r when r is an io.Closer.
func (s *Stream) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil, &IOError{Op: "open", Name: s.name, Err: ErrConsumed}
	}
	s.opened = true

	if rc, ok := s.r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(s.r), nil
}
