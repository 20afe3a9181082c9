// Package prom implements a Prometheus backend for the metrics package.
//
// Collectors live in a private registry that is exposed for scraping through
// Handler, so importing this package never touches the global default
// registry.
package prom

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/ingest/internal/metrics"
)

// Backend is a scrape-based Prometheus metrics backend.
type Backend struct {
	reg *prometheus.Registry

	stepCounter   *prometheus.CounterVec   // ingest_step_total
	stepDuration  *prometheus.HistogramVec // ingest_step_duration_seconds
	recordCounter *prometheus.CounterVec   // ingest_records_total
	batchCounter  *prometheus.CounterVec   // ingest_batches_total
}

// NewBackend builds a backend with its own registry. Go runtime and process
// collectors are registered alongside the import metrics.
func NewBackend() (*Backend, error) {
	reg := prometheus.NewRegistry()

	b := &Backend{
		reg: reg,
		stepCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metrics.StepTotal,
				Help: "Import step executions, partitioned by job, step and status.",
			},
			[]string{"job", "step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metrics.StepDuration,
				Help:    "Duration of import steps in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
			},
			[]string{"job", "step", "status"},
		),
		recordCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metrics.RecordsTotal,
				Help: "Records per kind (processed, rejected, persisted, failed).",
			},
			[]string{"job", "kind"},
		),
		batchCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metrics.BatchesTotal,
				Help: "Bulk writes issued to the sink.",
			},
			[]string{"job"},
		),
	}

	toRegister := map[string]prometheus.Collector{
		"step counter":   b.stepCounter,
		"step histogram": b.stepDuration,
		"record counter": b.recordCounter,
		"batch counter":  b.batchCounter,
		"go collector":   collectors.NewGoCollector(),
		"process":        collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for name, c := range toRegister {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prom: register %s: %w", name, err)
		}
	}

	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		b.stepCounter.WithLabelValues(labels["job"], labels["step"], labels["status"]).Add(delta)
	case metrics.RecordsTotal:
		b.recordCounter.WithLabelValues(labels["job"], labels["kind"]).Add(delta)
	case metrics.BatchesTotal:
		b.batchCounter.WithLabelValues(labels["job"]).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDuration {
		return
	}
	b.stepDuration.WithLabelValues(labels["job"], labels["step"], labels["status"]).Observe(value)
}

// Flush is a no-op; Prometheus pulls.
func (b *Backend) Flush() error { return nil }

// Handler serves the registry in the Prometheus exposition format.
func (b *Backend) Handler() http.Handler {
	return promhttp.HandlerFor(b.reg, promhttp.HandlerOpts{Registry: b.reg})
}
