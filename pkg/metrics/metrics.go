// Package metrics defines the Prometheus collectors for an import run and
// exposes an optional HTTP handler for scraping during long imports.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the importer.
type Metrics struct {
	DocumentsSentTotal  prometheus.Counter
	BatchesSentTotal    prometheus.Counter
	BatchesSkippedTotal prometheus.Counter
	BytesSentTotal      prometheus.Counter
	UploadRetriesTotal  prometheus.Counter
	UploadDuration      prometheus.Histogram
	BatchSizeBytes      prometheus.Histogram
}

// New creates and registers all importer metrics.
func New() *Metrics {
	m := &Metrics{
		DocumentsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "importer_documents_sent_total",
				Help: "Total number of documents successfully uploaded.",
			},
		),
		BatchesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "importer_batches_sent_total",
				Help: "Total number of batches successfully uploaded.",
			},
		),
		BatchesSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "importer_batches_skipped_total",
				Help: "Total number of batches skipped by --skip-batches.",
			},
		),
		BytesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "importer_bytes_sent_total",
				Help: "Total payload bytes successfully uploaded (before compression).",
			},
		),
		UploadRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "importer_upload_retries_total",
				Help: "Total number of retried upload attempts.",
			},
		),
		UploadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "importer_upload_duration_seconds",
				Help:    "Latency of successful batch uploads in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		BatchSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "importer_batch_size_bytes",
				Help:    "Serialized size of uploaded batches in bytes.",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),
	}
	prometheus.MustRegister(
		m.DocumentsSentTotal,
		m.BatchesSentTotal,
		m.BatchesSkippedTotal,
		m.BytesSentTotal,
		m.UploadRetriesTotal,
		m.UploadDuration,
		m.BatchSizeBytes,
	)
	return m
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
