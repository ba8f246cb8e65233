package reader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/meilisearch/meilisearch-importer/internal/document"
	ierrors "github.com/meilisearch/meilisearch-importer/pkg/errors"
)

// csvReader zips each row with the header names. The header row is required
// and consumed when the reader is constructed.
type csvReader struct {
	file   string
	closer io.Closer
	r      *csv.Reader
	header []string
}

func newCSVReader(file string, closer io.Closer, src io.Reader, delimiter rune) (*csvReader, error) {
	r := csv.NewReader(src)
	if delimiter != 0 {
		r.Comma = delimiter
	}
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		closer.Close()
		if err == io.EOF {
			return nil, &ierrors.FormatError{File: file, Line: 1, Err: ierrors.ErrEmptyHeader}
		}
		return nil, csvFormatError(file, err)
	}
	if len(header) == 1 && strings.TrimSpace(header[0]) == "" {
		closer.Close()
		return nil, &ierrors.FormatError{File: file, Line: 1, Err: ierrors.ErrEmptyHeader}
	}
	for i, name := range header {
		if strings.TrimSpace(name) == "" {
			closer.Close()
			return nil, &ierrors.FormatError{
				File: file,
				Line: 1,
				Err:  fmt.Errorf("%w: column %d has no name", ierrors.ErrEmptyHeader, i+1),
			}
		}
	}

	names := make([]string, len(header))
	copy(names, header)
	return &csvReader{file: file, closer: closer, r: r, header: names}, nil
}

func (c *csvReader) Next() (document.Document, error) {
	record, err := c.r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, csvFormatError(c.file, err)
	}

	doc := make(document.Document, len(c.header))
	for i, name := range c.header {
		doc[name] = parseCSVValue(record[i])
	}
	return doc, nil
}

func (c *csvReader) Close() error {
	return c.closer.Close()
}

// parseCSVValue types raw CSV cells: integers, floats, booleans, and null are
// recognised, everything else stays a string.
func parseCSVValue(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func csvFormatError(file string, err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &ierrors.FormatError{File: file, Line: parseErr.Line, Err: parseErr.Err}
	}
	return &ierrors.IOError{File: file, Err: err}
}
