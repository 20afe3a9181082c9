// Command ingest runs imports from the command line against the configured
// sink, without the HTTP server.
//
//	ingest [-target users] [-json] file.csv...
//	ingest -dead-letter failed.msgpack
//
// Configuration comes from the same environment variables (and .env file) as
// the server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/ingest/internal/config"
	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/JonMunkholm/ingest/internal/core/targets"
	"github.com/JonMunkholm/ingest/internal/deadletter"
	"github.com/JonMunkholm/ingest/internal/logging"
	"github.com/JonMunkholm/ingest/internal/pipeline"
	_ "github.com/JonMunkholm/ingest/internal/sink/all" // Register all sink drivers
)

type options struct {
	target     string
	asJSON     bool
	deadLetter string
	files      []string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.StringVar(&o.target, "target", "users", "import target key")
	fs.BoolVar(&o.asJSON, "json", false, "print run results as JSON")
	fs.StringVar(&o.deadLetter, "dead-letter", "", "print the batches parked in this dead-letter file and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.files = fs.Args()
	if o.deadLetter == "" && len(o.files) == 0 {
		return o, errors.New("no input files")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		os.Exit(2)
	}

	if opts.deadLetter != "" {
		if err := dumpDeadLetter(os.Stdout, opts.deadLetter); err != nil {
			fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
			os.Exit(1)
		}
		return
	}

	_ = godotenv.Overload()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Import.SchemaDir != "" {
		if _, err := targets.LoadDir(cfg.Import.SchemaDir); err != nil {
			slog.Error("failed to load target schemas", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, os.Stdout); err != nil {
		slog.Error("import failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, out io.Writer) error {
	var dl pipeline.DeadLetter
	if cfg.Import.DeadLetterPath != "" {
		f, err := deadletter.Open(cfg.Import.DeadLetterPath)
		if err != nil {
			return err
		}
		defer f.Close()
		dl = f
	}

	svc, err := core.NewServiceFromConfig(cfg, dl)
	if err != nil {
		return err
	}
	defer svc.Close()

	var failed int
	for _, path := range opts.files {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		var size int64
		if fi, err := f.Stat(); err == nil {
			size = fi.Size()
		}
		res, err := svc.Import(ctx, opts.target, filepath.Base(path), f, size)
		f.Close()
		if err != nil {
			fmt.Fprintf(out, "%s: %s\n", path, core.FormatUserError(err))
			failed++
			continue
		}
		if err := report(out, path, res, opts.asJSON); err != nil {
			return err
		}
		if !res.OK() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d imports incomplete", failed, len(opts.files))
	}
	return nil
}

func report(out io.Writer, path string, res *pipeline.RunResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(out, "%s: %d rows, %d valid, %d stored, %d rejected, %d failed batches\n",
		path, res.TotalRows, res.ValidatedCount, res.PersistedCount, len(res.Errors), len(res.PersistenceErrors))
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  line %d: %v\n", e.Line, e)
	}
	for _, pe := range res.PersistenceErrors {
		fmt.Fprintf(out, "  %v\n", pe)
	}
	return nil
}

func dumpDeadLetter(out io.Writer, path string) error {
	entries, err := deadletter.ReadFile(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(out, "run %s batch %d rows %d-%d digest %s: %s\n",
			e.RunID, e.Batch, e.FirstRow, e.LastRow, e.Digest, e.Error)
	}
	fmt.Fprintf(out, "%d parked batches\n", len(entries))
	return nil
}
