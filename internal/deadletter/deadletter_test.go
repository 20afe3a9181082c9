package deadletter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/JonMunkholm/ingest/internal/pipeline"
	"github.com/JonMunkholm/ingest/internal/schema"
)

func sampleBatch() []schema.ValidatedRecord {
	bday := time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC)
	return []schema.ValidatedRecord{
		{Row: 3, Values: map[string]any{"firstname": "Ada", "birthday": bday, "favorite_pet": nil}},
		{Row: 4, Values: map[string]any{"firstname": "Alan", "birthday": bday, "favorite_pet": "cat"}},
	}
}

func TestFile_ParkAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dl", "failed.msgpack")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	perr := pipeline.PersistenceError{
		RunID: "run-1", Batch: 2, FirstRow: 3, LastRow: 4, Size: 2,
		Digest: "00000000deadbeef", Err: errors.New("unique violation"),
	}
	if err := d.Park(context.Background(), perr, sampleBatch()); err != nil {
		t.Fatalf("Park() error = %v", err)
	}
	perr.Batch = 3
	perr.Err = nil
	if err := d.Park(context.Background(), perr, sampleBatch()[:1]); err != nil {
		t.Fatalf("Park() error = %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	e := entries[0]
	if e.RunID != "run-1" || e.Batch != 2 || e.FirstRow != 3 || e.LastRow != 4 {
		t.Errorf("entry = %+v", e)
	}
	if e.Error != "unique violation" || e.Digest != "00000000deadbeef" {
		t.Errorf("Error=%q Digest=%q", e.Error, e.Digest)
	}
	if !e.ParkedAt.Equal(fixed) {
		t.Errorf("ParkedAt = %v, want %v", e.ParkedAt, fixed)
	}
	if len(e.Rows) != 2 || e.Rows[1].Row != 4 || e.Rows[1].Values["favorite_pet"] != "cat" {
		t.Errorf("rows = %+v", e.Rows)
	}
	if v, ok := e.Rows[0].Values["birthday"].(time.Time); !ok || v.Year() != 1815 {
		t.Errorf("birthday = %#v, want time.Time in 1815", e.Rows[0].Values["birthday"])
	}
	if e.Rows[0].Values["favorite_pet"] != nil {
		t.Errorf("favorite_pet = %#v, want nil", e.Rows[0].Values["favorite_pet"])
	}

	if entries[1].Batch != 3 || entries[1].Error != "" || len(entries[1].Rows) != 1 {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestFile_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed.msgpack")
	for i := 1; i <= 2; i++ {
		d, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := d.Park(context.Background(), pipeline.PersistenceError{Batch: i}, sampleBatch()); err != nil {
			t.Fatal(err)
		}
		d.Close()
	}

	entries, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Batch != 1 || entries[1].Batch != 2 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestFile_ParkAfterClose(t *testing.T) {
	d, err := Open(filepath.Join(t.TempDir(), "x.msgpack"))
	if err != nil {
		t.Fatal(err)
	}
	d.Close()
	if err := d.Park(context.Background(), pipeline.PersistenceError{}, nil); err == nil {
		t.Error("Park() after Close expected error")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestFile_ParkCancelled(t *testing.T) {
	d, err := Open(filepath.Join(t.TempDir(), "x.msgpack"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Park(ctx, pipeline.PersistenceError{}, sampleBatch()); !errors.Is(err, context.Canceled) {
		t.Errorf("Park() error = %v, want context.Canceled", err)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("Open(\"\") expected error")
	}
}

func TestDecode(t *testing.T) {
	entries, err := Decode(bytes.NewReader(nil))
	if err != nil || len(entries) != 0 {
		t.Errorf("Decode(empty) = %v, %v", entries, err)
	}

	if _, err := Decode(bytes.NewReader([]byte{0x85, 0xa1})); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Decode(truncated header) error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestDecode_TruncatedTail(t *testing.T) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	for i := 1; i <= 2; i++ {
		if err := enc.Encode(&Entry{RunID: "run-1", Batch: i, Digest: "abc"}); err != nil {
			t.Fatal(err)
		}
	}
	whole := buf.Len()

	tests := []struct {
		name    string
		cut     int
		want    int
		wantErr bool
	}{
		{"complete", 0, 2, false},
		{"last entry cut short", 5, 1, true},
		{"one byte into last entry", whole/2 - 1, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := Decode(bytes.NewReader(buf.Bytes()[:whole-tt.cut]))
			if tt.wantErr != errors.Is(err, io.ErrUnexpectedEOF) {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(entries) != tt.want {
				t.Errorf("Decode() returned %d entries, want %d", len(entries), tt.want)
			}
		})
	}
}
