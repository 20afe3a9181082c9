package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/JonMunkholm/ingest/internal/schema"
)

// PersistenceError records a batch the sink refused. The import carries on
// with the next batch. The whole batch counts as not stored, though a sink
// without rollback may have kept a prefix of it.
type PersistenceError struct {
	RunID    string
	Batch    int    // 1-based flush sequence
	FirstRow int    // first data row in the batch
	LastRow  int    // last data row in the batch
	Size     int    // records in the batch
	Digest   string // xxh3 of the batch contents
	Err      error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("batch %d (rows %d-%d): %v", e.Batch, e.FirstRow, e.LastRow, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// MarshalJSON renders Err as its message.
func (e PersistenceError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		RunID    string `json:"run_id,omitempty"`
		Batch    int    `json:"batch"`
		FirstRow int    `json:"first_row"`
		LastRow  int    `json:"last_row"`
		Size     int    `json:"size"`
		Digest   string `json:"digest"`
		Error    string `json:"error"`
	}{e.RunID, e.Batch, e.FirstRow, e.LastRow, e.Size, e.Digest, msg})
}

// RunResult is the outcome of an import that reached end of input.
//
// TotalRows always equals ValidatedCount plus len(Errors). PersistedCount
// is ValidatedCount minus the records of failed batches.
type RunResult struct {
	RunID             string                    `json:"run_id"`
	Source            string                    `json:"source"`
	TotalRows         int                       `json:"total_rows"`
	ValidatedCount    int                       `json:"validated_count"`
	PersistedCount    int                       `json:"persisted_count"`
	Batches           int                       `json:"batches"`
	Errors            []*schema.ValidationError `json:"errors"`
	PersistenceErrors []PersistenceError        `json:"persistence_errors"`
	BytesRead         int64                     `json:"bytes_read"`
	Duration          time.Duration             `json:"duration"`
}

// OK reports whether every row was validated and stored.
func (r *RunResult) OK() bool {
	return len(r.Errors) == 0 && len(r.PersistenceErrors) == 0
}

// aggregator accumulates counts and error logs for one run. It is owned by
// the consumer goroutine.
type aggregator struct {
	total     int
	validated int
	persisted int
	batches   int
	errors    []*schema.ValidationError
	persist   []PersistenceError
}

func (a *aggregator) accept() {
	a.total++
	a.validated++
}

func (a *aggregator) reject(err *schema.ValidationError) {
	a.total++
	a.errors = append(a.errors, err)
}

func (a *aggregator) flushed(size int, perr *PersistenceError) {
	a.batches++
	if perr != nil {
		a.persist = append(a.persist, *perr)
		return
	}
	a.persisted += size
}

// result freezes the aggregator. Slices are copied so later use of the
// aggregator cannot change the result.
func (a *aggregator) result() *RunResult {
	errs := make([]*schema.ValidationError, len(a.errors))
	copy(errs, a.errors)
	perrs := make([]PersistenceError, len(a.persist))
	copy(perrs, a.persist)

	return &RunResult{
		TotalRows:         a.total,
		ValidatedCount:    a.validated,
		PersistedCount:    a.persisted,
		Batches:           a.batches,
		Errors:            errs,
		PersistenceErrors: perrs,
	}
}
