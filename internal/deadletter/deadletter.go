// Package deadletter keeps batches the sink refused so they can be inspected
// or replayed later.
//
// Entries are MessagePack values appended to a single file. MessagePack is
// self-delimiting, so the file is simply a sequence of encoded entries and
// can be read back with a streaming decoder.
package deadletter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/JonMunkholm/ingest/internal/pipeline"
	"github.com/JonMunkholm/ingest/internal/schema"
)

// Entry is one parked batch.
type Entry struct {
	RunID    string    `msgpack:"run_id"`
	Batch    int       `msgpack:"batch"`
	FirstRow int       `msgpack:"first_row"`
	LastRow  int       `msgpack:"last_row"`
	Digest   string    `msgpack:"digest"`
	Error    string    `msgpack:"error"`
	ParkedAt time.Time `msgpack:"parked_at"`
	Rows     []Row     `msgpack:"rows"`
}

// Row is one validated record of a parked batch.
type Row struct {
	Row    int            `msgpack:"row"`
	Values map[string]any `msgpack:"values"`
}

// File appends entries to a file. It is safe for concurrent use, so one File
// can serve every import the process runs.
type File struct {
	mu   sync.Mutex
	path string
	f    *os.File
	enc  *msgpack.Encoder
	now  func() time.Time
}

// Open opens path for appending, creating it and its directory if needed.
func Open(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("deadletter: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("deadletter: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("deadletter: open %s: %w", path, err)
	}
	return &File{path: path, f: f, enc: msgpack.NewEncoder(f), now: time.Now}, nil
}

// Path returns the file location.
func (d *File) Path() string { return d.path }

// Park implements pipeline.DeadLetter.
func (d *File) Park(ctx context.Context, perr pipeline.PersistenceError, batch []schema.ValidatedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := Entry{
		RunID:    perr.RunID,
		Batch:    perr.Batch,
		FirstRow: perr.FirstRow,
		LastRow:  perr.LastRow,
		Digest:   perr.Digest,
		ParkedAt: d.now().UTC(),
		Rows:     make([]Row, len(batch)),
	}
	if perr.Err != nil {
		entry.Error = perr.Err.Error()
	}
	for i, rec := range batch {
		entry.Rows[i] = Row{Row: rec.Row, Values: rec.Values}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return os.ErrClosed
	}
	if err := d.enc.Encode(&entry); err != nil {
		return fmt.Errorf("deadletter: encode batch %d: %w", perr.Batch, err)
	}
	return nil
}

// Close closes the underlying file.
func (d *File) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

// Decode reads every entry from r until end of input. Input that ends inside
// an entry fails with io.ErrUnexpectedEOF.
func Decode(r io.Reader) ([]Entry, error) {
	br := bufio.NewReader(r)
	dec := msgpack.NewDecoder(br)
	var out []Entry
	for {
		if _, err := br.Peek(1); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("deadletter: read entry %d: %w", len(out)+1, err)
		}

		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			return out, fmt.Errorf("deadletter: decode entry %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
}

// ReadFile reads every entry in the file at path.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
