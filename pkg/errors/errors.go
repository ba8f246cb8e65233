// Package errors defines the importer's error taxonomy: sentinel errors for
// classification plus typed errors that carry enough context (file, line,
// attempt count) for the user to diagnose a failed run and resume it with
// --skip-batches.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyHeader       = errors.New("empty or malformed CSV header")
	ErrTooManyRetries    = errors.New("retry budget exhausted")
)

// FormatError reports malformed input data. Line is 1-based and zero when the
// position is unknown (for example a JSON file whose top-level shape is wrong).
type FormatError struct {
	File string
	Line int
	Err  error
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// IOError reports an unreadable file or path.
type IOError struct {
	File string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// UploadError reports a failed upload attempt. Transient errors (network
// failures, 429, 5xx, task enqueue failures) are retried; fatal errors
// (any other 4xx) abort the run immediately.
type UploadError struct {
	StatusCode int
	Body       string
	Transient  bool
	Err        error
}

func (e *UploadError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upload failed with status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upload failed: %s", e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried. Anything that is not an
// UploadError marked transient is considered final.
func IsTransient(err error) bool {
	var uploadErr *UploadError
	if errors.As(err, &uploadErr) {
		return uploadErr.Transient
	}
	return false
}
