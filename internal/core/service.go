package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/ingest/internal/logging"
	"github.com/JonMunkholm/ingest/internal/pipeline"
	"github.com/JonMunkholm/ingest/internal/sink"
	"github.com/JonMunkholm/ingest/internal/source"
)

// MaxRecentLimit caps how many stored records Recent returns.
const MaxRecentLimit = 1000

// DefaultImportTimeout bounds a single run when Options.Timeout is unset.
const DefaultImportTimeout = 10 * time.Minute

// SinkOpener opens the sink for a target. The service calls it once per
// target and keeps the result until Close.
type SinkOpener func(ctx context.Context, def TargetDefinition) (sink.Sink, error)

// SinkOpenerFor opens every target through sink.Open with base, filling in
// the target's table and schema.
func SinkOpenerFor(base sink.Config) SinkOpener {
	return func(ctx context.Context, def TargetDefinition) (sink.Sink, error) {
		cfg := base
		cfg.Table = def.Table
		cfg.Schema = def.Schema
		return sink.Open(ctx, cfg)
	}
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	BatchSize     int
	Timeout       time.Duration
	ImportsDir    string
	MaxConcurrent int
	MaxWait       time.Duration
	EnsureSchema  bool
	DeadLetter    pipeline.DeadLetter
	HistorySize   int
}

// Service runs imports against registered targets.
type Service struct {
	open    SinkOpener
	opts    Options
	limiter *RunLimiter

	mu    sync.Mutex
	sinks map[string]sink.Sink

	history *history
}

// NewService creates a Service. open must not be nil.
func NewService(open SinkOpener, opts Options) (*Service, error) {
	if open == nil {
		return nil, errors.New("core: sink opener is nil")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = pipeline.DefaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultImportTimeout
	}
	if opts.ImportsDir == "" {
		opts.ImportsDir = "."
	}
	return &Service{
		open:    open,
		opts:    opts,
		limiter: NewRunLimiter(opts.MaxConcurrent, opts.MaxWait),
		sinks:   make(map[string]sink.Sink),
		history: newHistory(opts.HistorySize),
	}, nil
}

// Targets lists the registered targets.
func (s *Service) Targets() []TargetDefinition { return All() }

// sinkFor returns the cached sink for def, opening it on first use. The
// lock is not held while connecting; if two callers race, the first sink
// stored wins and the other is closed.
func (s *Service) sinkFor(ctx context.Context, def TargetDefinition) (sink.Sink, error) {
	s.mu.Lock()
	sk, ok := s.sinks[def.Key]
	s.mu.Unlock()
	if ok {
		return sk, nil
	}

	sk, err := s.open(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("open sink for %s: %w", def.Key, err)
	}
	if s.opts.EnsureSchema {
		if err := sk.EnsureTable(ctx); err != nil {
			sk.Close()
			return nil, fmt.Errorf("prepare sink for %s: %w", def.Key, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sinks[def.Key]; ok {
		sk.Close()
		return existing, nil
	}
	s.sinks[def.Key] = sk
	return sk, nil
}

// Prepare opens the sink of every registered target, so connection problems
// surface before the first import.
func (s *Service) Prepare(ctx context.Context) error {
	for _, def := range All() {
		if _, err := s.sinkFor(ctx, def); err != nil {
			return err
		}
	}
	return nil
}

// Import streams r into the target key. size is the input length in bytes
// for progress reporting, 0 when unknown.
func (s *Service) Import(ctx context.Context, key, name string, r io.Reader, size int64) (*pipeline.RunResult, error) {
	return s.run(ctx, key, source.NewStream(name, r), size)
}

// ImportFile imports fileName from the imports directory. Names with a
// directory component fail with source.ErrInvalidName.
func (s *Service) ImportFile(ctx context.Context, key, fileName string) (*pipeline.RunResult, error) {
	f, err := source.InDir(s.opts.ImportsDir, fileName)
	if err != nil {
		return nil, err
	}
	var size int64
	if fi, err := os.Stat(f.Path()); err == nil {
		size = fi.Size()
	}
	return s.run(ctx, key, f, size)
}

func (s *Service) run(ctx context.Context, key string, src source.Source, size int64) (*pipeline.RunResult, error) {
	def, err := Lookup(key)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	sk, err := s.sinkFor(ctx, def)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	runID := uuid.NewString()
	log := logging.ForRun(ctx, runID, key, src.Name())
	if ua := UserAgentFromContext(ctx); ua != "" {
		log = log.With("user_agent", ua)
	}

	started := time.Now()
	res, err := pipeline.Run(runCtx, pipeline.Config{
		Source:     src,
		Schema:     def.Schema,
		Sink:       sk,
		BatchSize:  s.opts.BatchSize,
		Size:       size,
		DeadLetter: s.opts.DeadLetter,
		Logger:     log,
		RunID:      runID,
		Job:        key,
	})
	s.history.add(summarize(runID, key, src.Name(), ClientIPFromContext(ctx), started, res, err))
	return res, err
}

// Recent returns up to limit of the newest records stored for key. limit is
// clamped to [1, MaxRecentLimit].
func (s *Service) Recent(ctx context.Context, key string, limit int) ([]map[string]any, error) {
	def, err := Lookup(key)
	if err != nil {
		return nil, err
	}
	sk, err := s.sinkFor(ctx, def)
	if err != nil {
		return nil, err
	}
	return sk.Recent(ctx, clampLimit(limit))
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return MaxRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return limit
	}
}

// Ping checks every opened sink.
func (s *Service) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sk := range s.sinks {
		if err := sk.Ping(ctx); err != nil {
			return fmt.Errorf("sink %s: %w", key, err)
		}
	}
	return nil
}

// History returns summaries of recent runs, newest first.
func (s *Service) History() []RunSummary { return s.history.list() }

// LimiterStatus reports import concurrency.
func (s *Service) LimiterStatus() LimiterStatus { return s.limiter.Status() }

// WaitForImports blocks until running imports finish or ctx ends.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// Close closes every opened sink.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for key, sk := range s.sinks {
		if err := sk.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", key, err))
		}
		delete(s.sinks, key)
	}
	return errors.Join(errs...)
}
