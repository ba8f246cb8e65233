package reader

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/meilisearch/meilisearch-importer/internal/document"
	ierrors "github.com/meilisearch/meilisearch-importer/pkg/errors"
)

// jsonReader streams objects out of a top-level JSON array using the decoder's
// token interface, so the array is never materialised as a whole.
type jsonReader struct {
	file    string
	closer  io.Closer
	decoder *json.Decoder
	started bool
	done    bool
}

func newJSONReader(file string, closer io.Closer, src io.Reader) *jsonReader {
	return &jsonReader{file: file, closer: closer, decoder: json.NewDecoder(src)}
}

func (j *jsonReader) Next() (document.Document, error) {
	if j.done {
		return nil, io.EOF
	}
	if !j.started {
		tok, err := j.decoder.Token()
		if err != nil {
			if err == io.EOF {
				return nil, &ierrors.FormatError{File: j.file, Err: errors.New("empty file, expected a JSON array")}
			}
			return nil, &ierrors.FormatError{File: j.file, Err: err}
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return nil, &ierrors.FormatError{
				File: j.file,
				Err:  fmt.Errorf("top-level value must be an array of objects, got %v", tok),
			}
		}
		j.started = true
	}

	if !j.decoder.More() {
		// Consume the closing bracket so trailing garbage is reported.
		if _, err := j.decoder.Token(); err != nil && err != io.EOF {
			return nil, &ierrors.FormatError{File: j.file, Err: err}
		}
		j.done = true
		return nil, io.EOF
	}

	var doc document.Document
	if err := j.decoder.Decode(&doc); err != nil {
		return nil, &ierrors.FormatError{
			File: j.file,
			Err:  fmt.Errorf("at byte offset %d: %w", j.decoder.InputOffset(), err),
		}
	}
	return doc, nil
}

func (j *jsonReader) Close() error {
	return j.closer.Close()
}
