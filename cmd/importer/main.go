// Command importer uploads CSV, NDJSON, and JSON files as documents to a
// Meilisearch-compatible search service in byte-bounded batches.
//
// Usage:
//
//	importer --url http://localhost:7700 --index movies --files movies.ndjson
//
// Interrupted runs can be resumed at batch granularity with --skip-batches,
// provided the files, their order, and --batch-size are unchanged.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meilisearch/meilisearch-importer/internal/importer"
	"github.com/meilisearch/meilisearch-importer/internal/progress"
	"github.com/meilisearch/meilisearch-importer/internal/reader"
	"github.com/meilisearch/meilisearch-importer/internal/uploader"
	"github.com/meilisearch/meilisearch-importer/pkg/config"
	"github.com/meilisearch/meilisearch-importer/pkg/logger"
	"github.com/meilisearch/meilisearch-importer/pkg/metrics"
	"github.com/meilisearch/meilisearch-importer/pkg/resilience"
)

type flags struct {
	configPath  string
	url         string
	index       string
	files       []string
	primaryKey  string
	apiKey      string
	batchSize   string
	delimiter   string
	skipBatches int
	operation   string
	format      string
	logLevel    string
	logFormat   string
	metricsPort int
}

func main() {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "importer",
		Short:         "Import documents into a search index",
		Long:          "Streams CSV, NDJSON, and JSON-array files and uploads their records in size-bounded batches with retry and resume support.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&f.url, "url", "", "base URL of the search service (required)")
	cmd.Flags().StringVar(&f.index, "index", "", "target index name (required)")
	cmd.Flags().StringSliceVar(&f.files, "files", nil, "input files, processed in order (required)")
	cmd.Flags().StringVar(&f.primaryKey, "primary-key", "", "primary key field for the index")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "API key sent as a bearer token")
	cmd.Flags().StringVar(&f.batchSize, "batch-size", "20MiB", "maximum serialized batch size (e.g. 50MB)")
	cmd.Flags().StringVar(&f.delimiter, "csv-delimiter", ",", "CSV field delimiter")
	cmd.Flags().IntVar(&f.skipBatches, "skip-batches", 0, "number of leading batches to generate but not upload")
	cmd.Flags().StringVar(&f.operation, "upload-operation", config.OperationAddOrReplace,
		fmt.Sprintf("%s or %s", config.OperationAddOrReplace, config.OperationAddOrUpdate))
	cmd.Flags().StringVar(&f.format, "format", "", "force input format (csv, ndjson, json); required for stdin")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "text", "log format (text, json)")
	cmd.Flags().IntVar(&f.metricsPort, "metrics-port", 0, "Prometheus scrape port (0 disables)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfig layers the configuration: defaults, then the YAML file, then
// MEILI_* environment variables, then any flag the user actually set.
func resolveConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	set := cmd.Flags().Changed
	if set("url") {
		cfg.URL = f.url
	}
	if set("index") {
		cfg.Index = f.index
	}
	if set("files") {
		cfg.Files = f.files
	}
	if set("primary-key") {
		cfg.PrimaryKey = f.primaryKey
	}
	if set("api-key") {
		cfg.APIKey = f.apiKey
	}
	if set("batch-size") || cfg.BatchSize == 0 {
		size, err := config.ParseByteSize(f.batchSize)
		if err != nil {
			return nil, err
		}
		cfg.BatchSize = size
	}
	if set("csv-delimiter") {
		cfg.CSVDelimiter = f.delimiter
	}
	if set("skip-batches") {
		cfg.SkipBatches = f.skipBatches
	}
	if set("upload-operation") {
		cfg.Operation = f.operation
	}
	if set("format") {
		cfg.Format = f.format
	}
	if set("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if set("log-format") {
		cfg.Logging.Format = f.logFormat
	}
	if set("metrics-port") {
		cfg.Metrics.Port = f.metricsPort
	}

	files, err := expandFiles(cfg.Files)
	if err != nil {
		return nil, err
	}
	cfg.Files = files

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandFiles resolves glob patterns in the file list. A pattern with no
// matches is an error; plain paths (and "-" for stdin) pass through unchanged
// so that a missing file is reported when it is opened.
func expandFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		if pattern == reader.StdinPath || !strings.ContainsAny(pattern, "*?[") {
			files = append(files, pattern)
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid file pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match pattern %q", pattern)
		}
		files = append(files, matches...)
	}
	return files, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting import",
		"url", cfg.URL,
		"index", cfg.Index,
		"files", len(cfg.Files),
		"batch_size", cfg.BatchSize.String(),
		"operation", cfg.Operation,
	)

	var m *metrics.Metrics
	if cfg.Metrics.Port > 0 {
		m = metrics.New()
	}

	up, err := uploader.New(cfg, m, resilience.RealClock())
	if err != nil {
		return err
	}
	tracker := progress.New(importer.TotalInputSize(cfg.Files), os.Stderr)
	runner := importer.New(cfg, up, tracker, m)

	// The errgroup supervises the pipeline and the scrape server together: a
	// failed listen aborts the run, and a finished run stops the server.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, runCtx := errgroup.WithContext(runCtx)
	if cfg.Metrics.Port > 0 {
		srv := metrics.NewServer(cfg.Metrics.Port)
		g.Go(func() error {
			return srv.Run(runCtx)
		})
	}
	var stats importer.Stats
	g.Go(func() error {
		defer cancel()
		var err error
		stats, err = runner.Run(runCtx)
		return err
	})
	runErr := g.Wait()

	tracker.Finish()
	if runErr != nil {
		slog.Error("import aborted",
			"batches_sent", stats.BatchesSent,
			"documents_sent", stats.Documents,
			"error", runErr,
		)
		return runErr
	}
	slog.Info("import completed",
		"files", stats.Files,
		"batches_sent", stats.BatchesSent,
		"batches_skipped", stats.BatchesSkipped,
		"documents_sent", stats.Documents,
		"bytes_sent", stats.BytesSent,
		"duration", stats.Duration.Round(time.Millisecond),
	)
	return nil
}
