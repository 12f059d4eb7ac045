// Package jsonl writes analysis results as newline-delimited JSON.
package jsonl

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	sio "github.com/hed1ad/safestride/pkg/io"
)

var _ sio.Writer = (*Writer)(nil)

// Writer emits one JSON object per line. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	buf *bufio.Writer
	enc *json.Encoder
}

// NewWriter writes to w. The caller keeps ownership of w.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	return &Writer{
		buf: buf,
		enc: json.NewEncoder(buf),
	}
}

// Write outputs a single result.
func (w *Writer) Write(result sio.Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(result)
}

// WriteAll outputs multiple results.
func (w *Writer) WriteAll(results []sio.Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range results {
		if err := w.enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes buffered lines to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes buffered lines. The underlying writer is left open.
func (w *Writer) Close() error {
	return w.Flush()
}
