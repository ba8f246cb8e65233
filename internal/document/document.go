// Package document defines the uniform record representation shared by the
// readers, the batcher, and the uploader.
package document

import (
	"encoding/json"
	"fmt"
)

// Document is one record to be indexed, as a field-to-value mapping. Values
// are JSON-compatible: string, float64, int64, bool, nil, nested maps and
// slices as produced by encoding/json.
type Document map[string]any

// Marshal returns the canonical serialized form of the document. encoding/json
// writes object keys in sorted order, so the byte representation is
// deterministic across runs. Batch boundaries depend on these exact sizes, and
// --skip-batches relies on them being reproducible.
func Marshal(doc Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("serializing document: %w", err)
	}
	return data, nil
}
