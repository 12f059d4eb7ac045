// Package csv reads behavior records from CSV files.
//
// Columns are user_id, avg_typing_interval, mouse_movement_count and
// scroll_event_count, in that order.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	sio "github.com/hed1ad/safestride/pkg/io"
)

const numColumns = 4

var _ sio.Reader = (*Reader)(nil)

// Reader reads records from a CSV source.
type Reader struct {
	closer  io.Closer
	reader  *csv.Reader
	header  headerMode
	headers []string
	pending *sio.Record
	skipped int
	err     error
}

type headerMode int

const (
	headerAuto headerMode = iota
	headerPresent
	headerAbsent
)

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates whether the CSV has a header row. Without it the
// first row is treated as a header only if it does not parse as a record.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.header = headerAbsent
		if has {
			r.header = headerPresent
		}
	}
}

// NewReader opens filename for reading.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r, err := newReader(file, file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// FromReader reads records from src. The caller owns src.
func FromReader(src io.Reader, opts ...Option) (*Reader, error) {
	return newReader(src, nil, opts...)
}

func newReader(src io.Reader, closer io.Closer, opts ...Option) (*Reader, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	r := &Reader{
		closer: closer,
		reader: cr,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.header == headerAbsent {
		return r, nil
	}

	first, err := r.reader.Read()
	if errors.Is(err, io.EOF) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}

	if r.header == headerAuto {
		if rec, err := ParseRecord(first); err == nil {
			r.pending = &rec
			return r, nil
		}
	}
	r.headers = first

	return r, nil
}

// Headers returns the column headers, or nil when the source has none.
func (r *Reader) Headers() []string {
	return r.headers
}

// Skipped returns how many malformed rows have been dropped so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Read returns all remaining records.
func (r *Reader) Read() ([]sio.Record, error) {
	var data []sio.Record

	for {
		rec, err := r.next()
		if err == io.EOF {
			return data, nil
		}
		if err != nil {
			return nil, err
		}
		data = append(data, rec)
	}
}

// Stream returns a channel of records. The channel closes at EOF, on a read
// failure or when ctx is done. A read failure is reported by Err.
func (r *Reader) Stream(ctx context.Context) (<-chan sio.Record, error) {
	out := make(chan sio.Record, 100)
	r.err = nil

	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}

			rec, err := r.next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					r.err = err
				}
				return
			}

			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Err returns the read failure that ended the last Stream, or nil after a
// clean EOF or cancellation.
func (r *Reader) Err() error {
	return r.err
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// next returns the next well-formed record. Malformed rows are skipped.
func (r *Reader) next() (sio.Record, error) {
	if r.pending != nil {
		rec := *r.pending
		r.pending = nil
		return rec, nil
	}

	for {
		row, err := r.reader.Read()
		if err != nil {
			if isRowError(err) {
				r.skipped++
				continue
			}
			return sio.Record{}, err
		}

		rec, err := ParseRecord(row)
		if err != nil {
			r.skipped++
			continue
		}
		return rec, nil
	}
}

// ParseRecord converts one CSV row into a Record.
func ParseRecord(row []string) (sio.Record, error) {
	if len(row) != numColumns {
		return sio.Record{}, fmt.Errorf("want %d columns, got %d", numColumns, len(row))
	}

	userID := strings.TrimSpace(row[0])
	if userID == "" {
		return sio.Record{}, errors.New("empty user_id")
	}

	typing, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
	if err != nil {
		return sio.Record{}, fmt.Errorf("avg_typing_interval: %w", err)
	}
	mouse, err := strconv.Atoi(strings.TrimSpace(row[2]))
	if err != nil {
		return sio.Record{}, fmt.Errorf("mouse_movement_count: %w", err)
	}
	scroll, err := strconv.Atoi(strings.TrimSpace(row[3]))
	if err != nil {
		return sio.Record{}, fmt.Errorf("scroll_event_count: %w", err)
	}

	return sio.Record{
		UserID:         userID,
		TypingInterval: typing,
		MouseCount:     mouse,
		ScrollCount:    scroll,
	}, nil
}

// isRowError reports whether err concerns a single row, such as a stray
// quote, rather than the underlying source.
func isRowError(err error) bool {
	var perr *csv.ParseError
	return errors.As(err, &perr)
}
