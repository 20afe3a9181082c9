// Package pipeline runs one streaming CSV import: read, parse, validate,
// batch and persist.
//
// A producer goroutine reads and parses the source; a consumer goroutine
// validates each record, accumulates validated records into batches of at
// most BatchSize and writes full batches to the Sink. The two are joined by
// an unbuffered channel, and the consumer pauses the parser while a batch is
// being written, so memory stays bounded by one batch.
//
// Row-level validation errors and batch-level write errors are collected in
// the RunResult. Source and parse failures are fatal: Run returns them and no
// result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/ingest/internal/csv"
	"github.com/JonMunkholm/ingest/internal/metrics"
	"github.com/JonMunkholm/ingest/internal/schema"
	"github.com/JonMunkholm/ingest/internal/source"
)

// DefaultBatchSize is used when Config.BatchSize is not positive.
const DefaultBatchSize = 1000

var (
	ErrNilSource = errors.New("pipeline: source is nil")
	ErrNilSchema = errors.New("pipeline: schema is nil")
	ErrNilSink   = errors.New("pipeline: sink is nil")
)

// Sink persists a batch of validated records in one call.
type Sink interface {
	BulkWrite(ctx context.Context, batch []schema.ValidatedRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, batch []schema.ValidatedRecord) error

func (f SinkFunc) BulkWrite(ctx context.Context, batch []schema.ValidatedRecord) error {
	return f(ctx, batch)
}

// Validator checks one record. *schema.Schema implements it.
type Validator interface {
	Validate(rec csv.Record) (schema.ValidatedRecord, *schema.ValidationError)
}

// DeadLetter keeps batches the sink refused.
type DeadLetter interface {
	Park(ctx context.Context, perr PersistenceError, batch []schema.ValidatedRecord) error
}

// Config describes one import run.
type Config struct {
	Source     source.Source
	Schema     Validator
	Sink       Sink
	BatchSize  int         // records per bulk write, DefaultBatchSize when <= 0
	Size       int64       // source size in bytes for progress, 0 if unknown
	Parser     csv.Options // delimiter and trimming
	DeadLetter DeadLetter  // optional
	Logger     *slog.Logger
	RunID      string // generated when empty
	Job        string // metrics label, defaults to the source name
}

func (c *Config) validate() error {
	if c.Source == nil {
		return ErrNilSource
	}
	if c.Schema == nil {
		return ErrNilSchema
	}
	if s, ok := c.Schema.(*schema.Schema); ok && s == nil {
		return ErrNilSchema
	}
	if c.Sink == nil {
		return ErrNilSink
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	if c.Job == "" {
		c.Job = c.Source.Name()
	}
	return nil
}

// Run executes one import and returns its result once the final batch has
// been written. It returns a nil result with a *source.IOError,
// *csv.ParseError, configuration error or context error when the run
// cannot complete.
func Run(ctx context.Context, cfg Config) (res *RunResult, err error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger.With("run_id", cfg.RunID)
	start := time.Now()
	defer func() { metrics.RecordStep(cfg.Job, "run", err, time.Since(start)) }()

	rc, err := cfg.Source.Open(ctx)
	if err != nil {
		var ioErr *source.IOError
		if !errors.As(err, &ioErr) && ctx.Err() == nil {
			err = &source.IOError{Op: "open", Name: cfg.Source.Name(), Err: err}
		}
		log.Error("import aborted", "stage", "open", "error", err)
		return nil, err
	}
	defer rc.Close()

	r, counter := source.Wrap(cfg.Source.Name(), rc, cfg.Size)
	parser := csv.NewParser(r, cfg.Parser)
	agg := &aggregator{}
	acc := &accumulator{
		size:       cfg.BatchSize,
		sink:       cfg.Sink,
		deadLetter: cfg.DeadLetter,
		flow:       parser,
		agg:        agg,
		log:        log,
		runID:      cfg.RunID,
		job:        cfg.Job,
		progress:   counter.Progress,
	}

	log.Info("import started", "batch_size", cfg.BatchSize)

	records := make(chan csv.Record)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := parser.Run(gctx, records); err != nil {
			// records stays open; the consumer stops on gctx instead of
			// mistaking a fatal error for end of input.
			return err
		}
		close(records)
		return nil
	})

	g.Go(func() error {
		return consume(gctx, records, cfg.Schema, acc, agg, parser, log, cfg.Job)
	})

	if err := g.Wait(); err != nil {
		log.Error("import aborted",
			"stage", stageOf(err),
			"rows", agg.total,
			"error", err,
		)
		return nil, err
	}

	res = agg.result()
	res.RunID = cfg.RunID
	res.Source = cfg.Source.Name()
	res.BytesRead = counter.BytesRead()
	res.Duration = time.Since(start)

	log.Info("import finished",
		"total_rows", res.TotalRows,
		"validated", res.ValidatedCount,
		"persisted", res.PersistedCount,
		"rejected", len(res.Errors),
		"failed_batches", len(res.PersistenceErrors),
		"batches", res.Batches,
		"duration", res.Duration.Truncate(time.Millisecond),
	)
	return res, nil
}

// consume validates records in arrival order and feeds the accumulator.
func consume(
	ctx context.Context,
	records <-chan csv.Record,
	v Validator,
	acc *accumulator,
	agg *aggregator,
	parser *csv.Parser,
	log *slog.Logger,
	job string,
) error {
	checkedHeader := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-records:
			if !ok {
				acc.finish(ctx)
				return ctx.Err()
			}
			if !checkedHeader {
				checkedHeader = true
				warnMissingColumns(log, v, parser.Header())
			}

			metrics.RecordRow(job, metrics.KindProcessed, 1)
			valid, verr := v.Validate(rec)
			if verr != nil {
				agg.reject(verr)
				metrics.RecordRow(job, metrics.KindRejected, 1)
				log.Warn("row rejected", "row", verr.Row, "line", verr.Line, "reason", verr.Error())
				continue
			}
			agg.accept()
			acc.add(ctx, valid)
		}
	}
}

// warnMissingColumns logs once when the header lacks required columns.
func warnMissingColumns(log *slog.Logger, v Validator, header csv.Header) {
	mc, ok := v.(interface{ MissingColumns([]string) []string })
	if !ok {
		return
	}
	if missing := mc.MissingColumns(header); len(missing) > 0 {
		log.Warn("header is missing required columns; every row will be rejected", "missing", missing)
	}
}

func stageOf(err error) string {
	var ioErr *source.IOError
	var parseErr *csv.ParseError
	switch {
	case errors.As(err, &ioErr):
		return "read"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "unknown"
	}
}

// RunReader is a convenience for callers holding a plain reader.
func RunReader(ctx context.Context, name string, r io.Reader, cfg Config) (*RunResult, error) {
	if r == nil {
		return nil, fmt.Errorf("pipeline: reader for %s is nil", name)
	}
	cfg.Source = source.NewStream(name, r)
	return Run(ctx, cfg)
}
