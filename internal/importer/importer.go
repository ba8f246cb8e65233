// Package importer drives the read → batch → upload pipeline for a run.
// Stages are strictly sequential: one batch in flight at a time bounds memory
// and keeps backoff timing honest against a single endpoint.
package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/meilisearch/meilisearch-importer/internal/batcher"
	"github.com/meilisearch/meilisearch-importer/internal/progress"
	"github.com/meilisearch/meilisearch-importer/internal/reader"
	"github.com/meilisearch/meilisearch-importer/pkg/config"
	"github.com/meilisearch/meilisearch-importer/pkg/metrics"
)

// BatchUploader sends one batch to the service, retrying internally. The
// production implementation is internal/uploader.
type BatchUploader interface {
	Upload(ctx context.Context, batch *batcher.Batch) error
}

// Stats summarises a finished or aborted run.
type Stats struct {
	Files          int
	BatchesSent    int64
	BatchesSkipped int64
	Documents      int64
	BytesSent      int64
	Duration       time.Duration
}

// Runner processes the configured files in order, uploading every produced
// batch except the first SkipBatches across the whole run.
type Runner struct {
	cfg      *config.Config
	uploader BatchUploader
	tracker  *progress.Tracker
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New wires a Runner. metrics may be nil.
func New(cfg *config.Config, up BatchUploader, tracker *progress.Tracker, m *metrics.Metrics) *Runner {
	return &Runner{
		cfg:      cfg,
		uploader: up,
		tracker:  tracker,
		metrics:  m,
		logger:   slog.Default().With("component", "importer"),
	}
}

// Run executes the whole import. The first error from a reader or the
// uploader aborts the run; Stats reflects what was sent up to that point.
//
// Skipped batches are still generated so that batch boundaries stay
// deterministic; only their upload is elided. Resuming with --skip-batches is
// therefore only valid with the same files, file order, and batch size as the
// interrupted run.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	stats := Stats{Files: len(r.cfg.Files)}
	skip := int64(r.cfg.SkipBatches)

	for _, file := range r.cfg.Files {
		if err := r.processFile(ctx, file, &stats, &skip); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}
	}
	stats.Duration = time.Since(start)
	return stats, nil
}

func (r *Runner) processFile(ctx context.Context, file string, stats *Stats, skip *int64) error {
	src, err := reader.Open(file, reader.Options{
		Format:    reader.Format(r.cfg.Format),
		Delimiter: r.cfg.Delimiter(),
		OnRead:    r.tracker.AddRead,
	})
	if err != nil {
		return fmt.Errorf("opening %s: %w", file, err)
	}
	defer src.Close()

	r.logger.Info("processing file", "file", file)
	batches := batcher.New(src, int64(r.cfg.BatchSize))
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("import interrupted: %w", err)
		}
		batch, err := batches.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", file, err)
		}

		if *skip > 0 {
			*skip--
			stats.BatchesSkipped++
			if r.metrics != nil {
				r.metrics.BatchesSkippedTotal.Inc()
			}
			r.logger.Debug("batch skipped",
				"file", file,
				"batch", batch.Seq,
				"remaining_to_skip", *skip,
			)
			continue
		}

		if err := r.uploader.Upload(ctx, batch); err != nil {
			return fmt.Errorf("uploading from %s: %w", file, err)
		}
		stats.BatchesSent++
		stats.Documents += int64(batch.Docs)
		stats.BytesSent += batch.Size()
		r.tracker.Record(batch.Size(), batch.Docs)
	}
}

// TotalInputSize sums the sizes of the given files for the progress total.
// Unstatable paths (including stdin) contribute zero; the open error, if any,
// surfaces when the file is actually processed.
func TotalInputSize(files []string) int64 {
	var total int64
	for _, file := range files {
		if file == reader.StdinPath {
			continue
		}
		if info, err := os.Stat(file); err == nil {
			total += info.Size()
		}
	}
	return total
}
