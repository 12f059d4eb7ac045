package csv

import (
	"encoding/csv"
	"io"
	"strconv"

	sio "github.com/hed1ad/safestride/pkg/io"
)

// Header is the column row written by Writer and recognized by Reader.
var Header = []string{"user_id", "avg_typing_interval", "mouse_movement_count", "scroll_event_count"}

// Writer writes records in the format Reader consumes.
type Writer struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewWriter writes records to w with a leading header row.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(w)}
}

// WriteAll writes records and flushes.
func (w *Writer) WriteAll(records []sio.Record) error {
	for _, r := range records {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Write buffers one record.
func (w *Writer) Write(r sio.Record) error {
	if !w.wroteHeader {
		if err := w.w.Write(Header); err != nil {
			return err
		}
		w.wroteHeader = true
	}
	return w.w.Write([]string{
		r.UserID,
		strconv.FormatFloat(r.TypingInterval, 'f', -1, 64),
		strconv.Itoa(r.MouseCount),
		strconv.Itoa(r.ScrollCount),
	})
}

// Flush writes buffered rows to the underlying writer.
func (w *Writer) Flush() error {
	w.w.Flush()
	return w.w.Error()
}
