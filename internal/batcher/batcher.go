// Package batcher groups serialized documents into byte-bounded batches.
// Boundaries depend only on exact serialized payload sizes, never on document
// counts, so identical inputs and settings reproduce identical batches. The
// --skip-batches resume mechanism relies on this determinism.
package batcher

import (
	"bytes"
	"io"

	"github.com/meilisearch/meilisearch-importer/internal/document"
	"github.com/meilisearch/meilisearch-importer/internal/reader"
)

// Batch is one upload unit: a JSON array of documents plus its exact
// serialized size.
type Batch struct {
	// Payload is the JSON array of documents as sent on the wire.
	Payload []byte

	// Docs is the number of documents in the payload.
	Docs int

	// Seq is the 1-based batch number within the source.
	Seq int
}

// Size returns the exact payload size in bytes.
func (b *Batch) Size() int64 {
	return int64(len(b.Payload))
}

// Batcher lazily consumes a document reader and emits batches whose payload
// never exceeds maxSize, except when a single document is itself larger than
// maxSize: such a document forms a batch on its own rather than failing.
type Batcher struct {
	source  reader.Reader
	maxSize int64

	inner   bytes.Buffer // serialized documents joined by commas, no brackets
	docs    int
	seq     int
	pending []byte // serialized document that overflowed the previous batch
	done    bool
}

// New creates a Batcher over source with the given maximum payload size.
func New(source reader.Reader, maxSize int64) *Batcher {
	return &Batcher{source: source, maxSize: maxSize}
}

// Next returns the next batch, or io.EOF once the source is exhausted and all
// accumulated documents have been emitted. Reader errors abort the sequence.
func (b *Batcher) Next() (*Batch, error) {
	if b.done {
		return nil, io.EOF
	}
	for {
		data, err := b.nextDocument()
		if err == io.EOF {
			b.done = true
			if b.docs == 0 {
				return nil, io.EOF
			}
			return b.flush(), nil
		}
		if err != nil {
			return nil, err
		}

		if b.docs > 0 && b.sizeWith(data) > b.maxSize {
			batch := b.flush()
			b.pending = data
			return batch, nil
		}
		b.append(data)
	}
}

func (b *Batcher) nextDocument() ([]byte, error) {
	if b.pending != nil {
		data := b.pending
		b.pending = nil
		return data, nil
	}
	doc, err := b.source.Next()
	if err != nil {
		return nil, err
	}
	return document.Marshal(doc)
}

// sizeWith returns the payload size if data were appended: brackets, current
// content, one comma per document boundary.
func (b *Batcher) sizeWith(data []byte) int64 {
	size := int64(b.inner.Len()) + int64(len(data)) + 2
	if b.docs > 0 {
		size++ // joining comma
	}
	return size
}

func (b *Batcher) append(data []byte) {
	if b.docs > 0 {
		b.inner.WriteByte(',')
	}
	b.inner.Write(data)
	b.docs++
}

func (b *Batcher) flush() *Batch {
	payload := make([]byte, 0, b.inner.Len()+2)
	payload = append(payload, '[')
	payload = append(payload, b.inner.Bytes()...)
	payload = append(payload, ']')

	b.seq++
	batch := &Batch{Payload: payload, Docs: b.docs, Seq: b.seq}
	b.inner.Reset()
	b.docs = 0
	return batch
}
