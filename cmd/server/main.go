package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/ingest/internal/config"
	"github.com/JonMunkholm/ingest/internal/core"
	"github.com/JonMunkholm/ingest/internal/core/targets"
	"github.com/JonMunkholm/ingest/internal/deadletter"
	"github.com/JonMunkholm/ingest/internal/logging"
	"github.com/JonMunkholm/ingest/internal/metrics"
	"github.com/JonMunkholm/ingest/internal/metrics/datadog"
	"github.com/JonMunkholm/ingest/internal/metrics/prom"
	"github.com/JonMunkholm/ingest/internal/pipeline"
	_ "github.com/JonMunkholm/ingest/internal/sink/all" // Register all sink drivers
	"github.com/JonMunkholm/ingest/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"sink_driver", cfg.Sink.Driver,
		"batch_size", cfg.Import.BatchSize,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	if err := run(cfg, stop); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// run serves until stop fires. Everything it opens is closed before it
// returns, on error paths too.
func run(cfg *config.Config, stop <-chan os.Signal) error {
	var serverOpts []web.Option
	metricsHandler, err := setupMetrics(cfg.Metrics)
	if err != nil {
		return fmt.Errorf("set up metrics: %w", err)
	}
	if metricsHandler != nil {
		serverOpts = append(serverOpts, web.WithMetricsHandler(metricsHandler))
	}

	if cfg.Import.SchemaDir != "" {
		keys, err := targets.LoadDir(cfg.Import.SchemaDir)
		if err != nil {
			return fmt.Errorf("load target schemas from %s: %w", cfg.Import.SchemaDir, err)
		}
		slog.Info("target schemas loaded", "dir", cfg.Import.SchemaDir, "targets", keys)
	}

	var dl pipeline.DeadLetter
	if cfg.Import.DeadLetterPath != "" {
		f, err := deadletter.Open(cfg.Import.DeadLetterPath)
		if err != nil {
			return fmt.Errorf("open dead-letter file: %w", err)
		}
		defer f.Close()
		dl = f
		slog.Info("dead-letter file opened", "path", f.Path())
	}

	service, err := core.NewServiceFromConfig(cfg, dl)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	defer func() {
		if err := service.Close(); err != nil {
			slog.Error("failed to close sinks", "error", err)
		}
	}()

	// Connect every target's sink before serving.
	if err := service.Prepare(context.Background()); err != nil {
		return fmt.Errorf("connect %s sink: %w", cfg.Sink.Driver, err)
	}
	slog.Info("sinks connected", "driver", cfg.Sink.Driver, "targets", core.Count())

	server := web.NewServer(service, cfg, serverOpts...)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-stop

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests first, then let running imports finish.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		if st := service.LimiterStatus(); st.Active > 0 {
			slog.Info("waiting for imports to complete", "active", st.Active)
			if err := service.WaitForImports(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			}
		}
		if err := metrics.Flush(); err != nil {
			slog.Warn("failed to flush metrics", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	<-done
	return nil
}

// setupMetrics installs the configured backend. It returns the scrape
// handler for Prometheus and nil otherwise.
func setupMetrics(mc config.MetricsConfig) (http.Handler, error) {
	switch strings.ToLower(mc.Backend) {
	case "prometheus":
		b, err := prom.NewBackend()
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		slog.Info("metrics enabled", "backend", "prometheus", "path", "/metrics")
		return b.Handler(), nil
	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       mc.DatadogAddr,
			Namespace:  mc.Namespace,
			GlobalTags: mc.Tags,
		})
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		slog.Info("metrics enabled", "backend", "datadog", "addr", mc.DatadogAddr)
		return nil, nil
	default:
		return nil, nil
	}
}
