package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestFormatErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *FormatError
		want string
	}{
		{
			name: "with line",
			err:  &FormatError{File: "data.ndjson", Line: 3, Err: errors.New("invalid character")},
			want: "data.ndjson:3: invalid character",
		},
		{
			name: "without line",
			err:  &FormatError{File: "data.json", Err: errors.New("not an array")},
			want: "data.json: not an array",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient upload error", &UploadError{StatusCode: 503, Transient: true}, true},
		{"fatal upload error", &UploadError{StatusCode: 401}, false},
		{"wrapped transient", fmt.Errorf("batch 4: %w", &UploadError{Transient: true, Err: errors.New("connection reset")}), true},
		{"plain error", errors.New("boom"), false},
		{"format error", &FormatError{File: "a.csv", Line: 2, Err: errors.New("bad row")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestUploadErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("upload: %w", &UploadError{Transient: true, Err: cause})
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}
}
