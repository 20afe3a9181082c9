package core

import (
	"strings"

	"github.com/JonMunkholm/ingest/internal/config"
	"github.com/JonMunkholm/ingest/internal/pipeline"
	"github.com/JonMunkholm/ingest/internal/sink"
)

// SinkConfig maps the sink section of the application config onto a
// sink.Config. Table and Schema are filled in per target.
func SinkConfig(sc config.SinkConfig) sink.Config {
	return sink.Config{
		Driver:          strings.ToLower(sc.Driver),
		DSN:             sc.DSN,
		Database:        sc.Database,
		MaxConns:        sc.MaxConns,
		MinConns:        sc.MinConns,
		MaxConnLifetime: sc.MaxConnLifetime,
		ConnectTimeout:  sc.ConnectTimeout,
	}
}

// NewServiceFromConfig builds a Service that opens sinks through the sink
// registry using cfg. dl may be nil.
func NewServiceFromConfig(cfg *config.Config, dl pipeline.DeadLetter) (*Service, error) {
	return NewService(SinkOpenerFor(SinkConfig(cfg.Sink)), Options{
		BatchSize:     cfg.Import.BatchSize,
		Timeout:       cfg.Import.Timeout,
		ImportsDir:    cfg.Import.Dir,
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWait:       cfg.Import.MaxWaitTime,
		EnsureSchema:  cfg.Sink.EnsureSchema,
		DeadLetter:    dl,
	})
}
