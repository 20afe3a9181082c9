package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/JonMunkholm/ingest/internal/metrics"
	"github.com/JonMunkholm/ingest/internal/schema"
)

// state of the batch accumulator.
type state int

const (
	stateFilling state = iota
	stateFlushing
	stateTerminal
)

func (s state) String() string {
	switch s {
	case stateFilling:
		return "filling"
	case stateFlushing:
		return "flushing"
	default:
		return "terminal"
	}
}

// flowControl is the upstream side the accumulator throttles.
type flowControl interface {
	Pause()
	Resume()
}

// accumulator groups validated records into bounded batches and writes each
// one to the sink. Only the consumer goroutine touches it, so at most one
// flush is ever in flight.
type accumulator struct {
	size       int
	sink       Sink
	deadLetter DeadLetter
	flow       flowControl
	agg        *aggregator
	log        *slog.Logger
	runID      string
	job        string
	progress   func() int

	state   state
	batch   []schema.ValidatedRecord
	flushes int
}

func (a *accumulator) add(ctx context.Context, rec schema.ValidatedRecord) {
	if a.state != stateFilling {
		panic(fmt.Sprintf("pipeline: add in state %s", a.state))
	}
	if a.batch == nil {
		a.batch = make([]schema.ValidatedRecord, 0, a.size)
	}
	a.batch = append(a.batch, rec)
	if len(a.batch) == a.size {
		// Stop upstream before writing so nothing arrives mid-flush.
		a.flow.Pause()
		a.flush(ctx)
		a.flow.Resume()
	}
}

// finish flushes the partial final batch and makes the accumulator terminal.
func (a *accumulator) finish(ctx context.Context) {
	if len(a.batch) > 0 {
		a.flush(ctx)
	}
	a.state = stateTerminal
}

func (a *accumulator) flush(ctx context.Context) {
	a.state = stateFlushing
	batch := a.batch
	a.flushes++

	start := time.Now()
	err := a.sink.BulkWrite(ctx, batch)
	elapsed := time.Since(start)
	metrics.RecordStep(a.job, "flush", err, elapsed)
	metrics.RecordBatches(a.job, 1)

	var perr *PersistenceError
	if err != nil {
		perr = &PersistenceError{
			RunID:    a.runID,
			Batch:    a.flushes,
			FirstRow: batch[0].Row,
			LastRow:  batch[len(batch)-1].Row,
			Size:     len(batch),
			Digest:   digest(batch),
			Err:      err,
		}
		a.log.Error("batch write failed",
			"batch", perr.Batch,
			"first_row", perr.FirstRow,
			"last_row", perr.LastRow,
			"size", perr.Size,
			"digest", perr.Digest,
			"error", err,
		)
		metrics.RecordRow(a.job, metrics.KindFailed, int64(len(batch)))
		a.park(ctx, *perr, batch)
	} else {
		a.log.Debug("batch written",
			"batch", a.flushes,
			"size", len(batch),
			"elapsed", elapsed.Truncate(time.Millisecond),
			"progress_pct", a.progress(),
		)
		metrics.RecordRow(a.job, metrics.KindPersisted, int64(len(batch)))
	}
	a.agg.flushed(len(batch), perr)

	// Sinks and dead letters may keep the old slice, so start a fresh one.
	a.batch = nil
	a.state = stateFilling
}

// park hands a failed batch to the dead letter, if configured. Failure here
// is logged and does not change the run.
func (a *accumulator) park(ctx context.Context, perr PersistenceError, batch []schema.ValidatedRecord) {
	if a.deadLetter == nil {
		return
	}
	if err := a.deadLetter.Park(ctx, perr, batch); err != nil {
		a.log.Warn("dead letter write failed", "batch", perr.Batch, "error", err)
	}
}

// digest fingerprints a batch so a failed one can be matched to its
// dead-letter entry or a retry.
func digest(batch []schema.ValidatedRecord) string {
	h := xxh3.New()
	var buf [8]byte
	for _, rec := range batch {
		binary.LittleEndian.PutUint64(buf[:], uint64(rec.Row))
		h.Write(buf[:])

		keys := make([]string, 0, len(rec.Values))
		for k := range rec.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.WriteString(k)
			h.Write([]byte{0})
			writeValue(h, rec.Values[k])
			h.Write([]byte{0})
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

func writeValue(h *xxh3.Hasher, v any) {
	switch x := v.(type) {
	case nil:
		h.Write([]byte{0xff})
	case string:
		h.WriteString(x)
	case time.Time:
		h.WriteString(x.UTC().Format(time.RFC3339Nano))
	case float64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(x))
		h.Write(buf[:])
	case bool:
		if x {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{2})
		}
	default:
		h.WriteString(fmt.Sprint(x))
	}
}
