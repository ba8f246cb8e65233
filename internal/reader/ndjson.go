package reader

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/meilisearch/meilisearch-importer/internal/document"
	ierrors "github.com/meilisearch/meilisearch-importer/pkg/errors"
)

const (
	ndjsonInitialBuffer = 64 * 1024
	// Single lines up to 512 MiB are accepted; some exports put one huge
	// document per line.
	ndjsonMaxLine = 512 * 1024 * 1024
)

// ndjsonReader parses one JSON object per non-empty line. A malformed line
// aborts the file: the service ingests whole payloads, so partial recovery
// would silently drop records.
type ndjsonReader struct {
	file    string
	closer  io.Closer
	scanner *bufio.Scanner
	line    int
}

func newNDJSONReader(file string, closer io.Closer, src io.Reader) *ndjsonReader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, ndjsonInitialBuffer), ndjsonMaxLine)
	return &ndjsonReader{file: file, closer: closer, scanner: scanner}
}

func (n *ndjsonReader) Next() (document.Document, error) {
	for n.scanner.Scan() {
		n.line++
		raw := n.scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		var doc document.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, &ierrors.FormatError{File: n.file, Line: n.line, Err: err}
		}
		return doc, nil
	}
	if err := n.scanner.Err(); err != nil {
		return nil, &ierrors.IOError{File: n.file, Err: err}
	}
	return nil, io.EOF
}

func (n *ndjsonReader) Close() error {
	return n.closer.Close()
}
