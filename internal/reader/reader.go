// Package reader streams documents out of CSV, NDJSON, and JSON-array files.
// Each reader produces a lazy, finite, non-restartable document sequence so
// arbitrarily large files are never fully resident in memory.
package reader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/meilisearch/meilisearch-importer/internal/document"
	ierrors "github.com/meilisearch/meilisearch-importer/pkg/errors"
)

// Format identifies a supported input file format.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatNDJSON Format = "ndjson"
	FormatJSON   Format = "json"
)

// StdinPath is the pseudo-path that reads from standard input. Detection is
// impossible for stdin, so Options.Format must be set.
const StdinPath = "-"

// Reader yields documents one at a time. Next returns io.EOF after the last
// document. Readers are not restartable.
type Reader interface {
	Next() (document.Document, error)
	Close() error
}

// Options configures how a file is opened and parsed.
type Options struct {
	// Format overrides extension-based detection when non-empty.
	Format Format

	// Delimiter is the CSV field separator. Zero means comma.
	Delimiter rune

	// OnRead, when set, is called with the number of raw bytes consumed from
	// the underlying file. Used for read-bytes progress reporting.
	OnRead func(n int)
}

// DetectFormat maps a file extension to its Format. Recognized extensions are
// .csv, .ndjson, .jsonl, and .json; anything else is ErrUnsupportedFormat.
func DetectFormat(path string) (Format, error) {
	switch filepath.Ext(path) {
	case ".csv":
		return FormatCSV, nil
	case ".ndjson", ".jsonl":
		return FormatNDJSON, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ierrors.ErrUnsupportedFormat, path)
	}
}

// Open opens path and returns a Reader for its detected (or forced) format.
func Open(path string, opts Options) (Reader, error) {
	format := opts.Format
	if format == "" {
		if path == StdinPath {
			return nil, fmt.Errorf("%w: reading from stdin requires an explicit format", ierrors.ErrUnsupportedFormat)
		}
		detected, err := DetectFormat(path)
		if err != nil {
			return nil, err
		}
		format = detected
	}

	var src io.ReadCloser
	if path == StdinPath {
		src = io.NopCloser(os.Stdin)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, &ierrors.IOError{File: path, Err: err}
		}
		src = f
	}

	var counted io.Reader = src
	if opts.OnRead != nil {
		counted = &countingReader{r: src, onRead: opts.OnRead}
	}

	switch format {
	case FormatCSV:
		return newCSVReader(path, src, counted, opts.Delimiter)
	case FormatNDJSON:
		return newNDJSONReader(path, src, counted), nil
	case FormatJSON:
		return newJSONReader(path, src, counted), nil
	default:
		src.Close()
		return nil, fmt.Errorf("%w: %q", ierrors.ErrUnsupportedFormat, format)
	}
}

// countingReader reports consumed byte counts to a callback. Counts reflect
// raw reads from the file, so progress based on them slightly leads the
// position of the document last handed out.
type countingReader struct {
	r      io.Reader
	onRead func(n int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.onRead(n)
	}
	return n, err
}
