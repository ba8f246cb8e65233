package uploader

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meilisearch/meilisearch-importer/internal/batcher"
	"github.com/meilisearch/meilisearch-importer/pkg/config"
	ierrors "github.com/meilisearch/meilisearch-importer/pkg/errors"
)

// fakeClock fires backoff waits immediately so retry schedules run instantly.
type fakeClock struct {
	waits atomic.Int64
}

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	f.waits.Add(1)
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.URL = url
	cfg.Index = "movies"
	cfg.Files = []string{"movies.ndjson"}
	cfg.APIKey = "masterKey"
	return cfg
}

func testBatch() *batcher.Batch {
	return &batcher.Batch{Payload: []byte(`[{"id":1},{"id":2}]`), Docs: 2, Seq: 1}
}

func newUploader(t *testing.T, cfg *config.Config) *Uploader {
	t.Helper()
	up, err := New(cfg, nil, &fakeClock{})
	if err != nil {
		t.Fatal(err)
	}
	return up
}

func TestUploadSendsGzippedJSONArray(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotType, gotEncoding string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotEncoding = r.Header.Get("Content-Encoding")
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Errorf("body is not gzip: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotBody, _ = io.ReadAll(zr)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	up := newUploader(t, testConfig(server.URL))
	if err := up.Upload(context.Background(), testBatch()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("expected POST for add-or-replace, got %s", gotMethod)
	}
	if gotPath != "/indexes/movies/documents" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer masterKey" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotType != "application/json" {
		t.Errorf("unexpected content type %q", gotType)
	}
	if gotEncoding != "gzip" {
		t.Errorf("unexpected content encoding %q", gotEncoding)
	}
	if string(gotBody) != `[{"id":1},{"id":2}]` {
		t.Errorf("decompressed body does not match payload: %s", gotBody)
	}
}

func TestUploadUsesPutForAddOrUpdate(t *testing.T) {
	var gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Operation = config.OperationAddOrUpdate
	up := newUploader(t, cfg)
	if err := up.Upload(context.Background(), testBatch()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("expected PUT for add-or-update, got %s", gotMethod)
	}
}

func TestUploadSetsPrimaryKeyQuery(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("primaryKey")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.PrimaryKey = "id"
	up := newUploader(t, cfg)
	if err := up.Upload(context.Background(), testBatch()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "id" {
		t.Errorf("expected primaryKey=id, got %q", gotQuery)
	}
}

func TestUploadRetriesTransientFailures(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch requests.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	}))
	defer server.Close()

	up := newUploader(t, testConfig(server.URL))
	if err := up.Upload(context.Background(), testBatch()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if n := requests.Load(); n != 3 {
		t.Errorf("expected 3 requests, got %d", n)
	}
}

func TestUploadRetriesSlowAttempts(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Upload.Timeout = 50 * time.Millisecond
	cfg.Upload.MaxAttempts = 3
	up := newUploader(t, cfg)

	if err := up.Upload(context.Background(), testBatch()); err != nil {
		t.Fatalf("expected the timed-out attempt to be retried, got %v", err)
	}
	if n := requests.Load(); n != 2 {
		t.Errorf("expected 2 requests, got %d", n)
	}
}

func TestUploadStopsWhenParentContextCancelled(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Upload.Timeout = time.Minute
	up := newUploader(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := up.Upload(ctx, testBatch())
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, ierrors.ErrTooManyRetries) {
		t.Error("cancellation must not be reported as retry exhaustion")
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("expected a single request, got %d", n)
	}
}

func TestUploadRetriesEnqueueFailure(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if requests.Add(1) == 1 {
			w.Write([]byte(`{"taskUid":1,"status":"failed"}`))
			return
		}
		w.Write([]byte(`{"taskUid":2,"status":"enqueued"}`))
	}))
	defer server.Close()

	up := newUploader(t, testConfig(server.URL))
	if err := up.Upload(context.Background(), testBatch()); err != nil {
		t.Fatalf("expected success after enqueue retry, got %v", err)
	}
	if n := requests.Load(); n != 2 {
		t.Errorf("expected 2 requests, got %d", n)
	}
}

func TestUploadFailsFastOnFatalStatus(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	up := newUploader(t, testConfig(server.URL))
	err := up.Upload(context.Background(), testBatch())
	if err == nil {
		t.Fatal("expected an error")
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("expected a single request for a fatal status, got %d", n)
	}
	var uploadErr *ierrors.UploadError
	if !errors.As(err, &uploadErr) || uploadErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected a 401 UploadError, got %v", err)
	}
	if errors.Is(err, ierrors.ErrTooManyRetries) {
		t.Error("a fatal status must not be reported as retry exhaustion")
	}
}

func TestUploadExhaustsRetryBudget(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Upload.MaxAttempts = 20
	up := newUploader(t, cfg)

	err := up.Upload(context.Background(), testBatch())
	if !errors.Is(err, ierrors.ErrTooManyRetries) {
		t.Fatalf("expected ErrTooManyRetries, got %v", err)
	}
	if n := requests.Load(); n != 20 {
		t.Errorf("expected 20 attempts, got %d", n)
	}
}

func TestUploadRetriesNetworkErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	server.Close() // nothing is listening anymore

	cfg := testConfig(server.URL)
	cfg.Upload.MaxAttempts = 3
	up := newUploader(t, cfg)

	err := up.Upload(context.Background(), testBatch())
	if !errors.Is(err, ierrors.ErrTooManyRetries) {
		t.Fatalf("expected ErrTooManyRetries after repeated network failures, got %v", err)
	}
}
