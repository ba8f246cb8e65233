// Package uploader sends serialized batches to the search service over HTTP,
// retrying transient failures with exponential backoff.
package uploader

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/meilisearch/meilisearch-importer/internal/batcher"
	"github.com/meilisearch/meilisearch-importer/pkg/config"
	ierrors "github.com/meilisearch/meilisearch-importer/pkg/errors"
	"github.com/meilisearch/meilisearch-importer/pkg/metrics"
	"github.com/meilisearch/meilisearch-importer/pkg/resilience"
)

// taskResponse is the subset of the service's task envelope the uploader
// inspects. A task that failed to enqueue is retried like any transient error.
type taskResponse struct {
	Status string `json:"status"`
}

// Uploader posts batches to {url}/indexes/{index}/documents. One batch is in
// flight at a time; backoff between attempts is the only pacing applied.
type Uploader struct {
	client   *http.Client
	cfg      *config.Config
	endpoint string
	method   string
	clock    resilience.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New builds an Uploader from the resolved configuration. metrics may be nil.
func New(cfg *config.Config, m *metrics.Metrics, clock resilience.Clock) (*Uploader, error) {
	endpoint, err := buildEndpoint(cfg)
	if err != nil {
		return nil, err
	}
	method := http.MethodPost
	if cfg.Operation == config.OperationAddOrUpdate {
		method = http.MethodPut
	}
	return &Uploader{
		client:   &http.Client{},
		cfg:      cfg,
		endpoint: endpoint,
		method:   method,
		clock:    clock,
		metrics:  m,
		logger:   slog.Default().With("component", "uploader"),
	}, nil
}

func buildEndpoint(cfg *config.Config) (string, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid service URL %q: %w", cfg.URL, err)
	}
	target := base.JoinPath("indexes", cfg.Index, "documents")
	if cfg.PrimaryKey != "" {
		q := target.Query()
		q.Set("primaryKey", cfg.PrimaryKey)
		target.RawQuery = q.Encode()
	}
	return target.String(), nil
}

// Upload sends one batch, retrying transient failures per the backoff policy.
// It returns nil only after the service accepted the batch. ErrTooManyRetries
// is surfaced when the attempt budget runs out; fatal responses (4xx other
// than 429) return immediately.
func (u *Uploader) Upload(ctx context.Context, batch *batcher.Batch) error {
	body, err := compress(batch.Payload)
	if err != nil {
		return fmt.Errorf("compressing batch %d: %w", batch.Seq, err)
	}

	attempts := 0
	start := time.Now()
	err = resilience.Retry(ctx, "upload-batch", resilience.RetryConfig{
		MaxAttempts:  u.cfg.Upload.MaxAttempts,
		InitialDelay: u.cfg.Upload.InitialDelay,
		MaxDelay:     u.cfg.Upload.MaxDelay,
		Clock:        u.clock,
		RetryIf:      ierrors.IsTransient,
	}, func() error {
		attempts++
		if attempts > 1 && u.metrics != nil {
			u.metrics.UploadRetriesTotal.Inc()
		}
		err := resilience.WithTimeout(ctx, u.cfg.Upload.Timeout, "upload attempt", func(ctx context.Context) error {
			return u.attempt(ctx, body)
		})
		// An attempt that outran its own deadline is a slow service, retried
		// like any network failure. Parent cancellation stays final.
		if err != nil && ctx.Err() == nil &&
			errors.Is(err, context.DeadlineExceeded) && !ierrors.IsTransient(err) {
			return &ierrors.UploadError{Transient: true, Err: err}
		}
		return err
	})
	if err != nil {
		if ierrors.IsTransient(err) {
			return fmt.Errorf("batch %d: %w: %w", batch.Seq, ierrors.ErrTooManyRetries, err)
		}
		return fmt.Errorf("batch %d (attempt %d): %w", batch.Seq, attempts, err)
	}

	if u.metrics != nil {
		u.metrics.BatchesSentTotal.Inc()
		u.metrics.DocumentsSentTotal.Add(float64(batch.Docs))
		u.metrics.BytesSentTotal.Add(float64(batch.Size()))
		u.metrics.BatchSizeBytes.Observe(float64(batch.Size()))
		u.metrics.UploadDuration.Observe(time.Since(start).Seconds())
	}
	u.logger.Debug("batch uploaded",
		"batch", batch.Seq,
		"documents", batch.Docs,
		"bytes", batch.Size(),
		"attempts", attempts,
	)
	return nil
}

// attempt performs a single HTTP round trip and classifies the outcome.
func (u *Uploader) attempt(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, u.method, u.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	if u.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.cfg.APIKey)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return &ierrors.UploadError{Transient: true, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var task taskResponse
		if err := json.Unmarshal(respBody, &task); err == nil && task.Status == "failed" {
			return &ierrors.UploadError{
				StatusCode: resp.StatusCode,
				Body:       string(respBody),
				Transient:  true,
				Err:        errors.New("service failed to enqueue the task"),
			}
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &ierrors.UploadError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Transient:  true,
		}
	default:
		return &ierrors.UploadError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
