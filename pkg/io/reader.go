// Package io provides input/output utilities for behavior sample ingestion.
package io

import "context"

// Record is one user's behavior sample as it appears in offline data.
type Record struct {
	UserID         string  `json:"user_id"`
	TypingInterval float64 `json:"avg_typing_interval"`
	MouseCount     int     `json:"mouse_movement_count"`
	ScrollCount    int     `json:"scroll_event_count"`
}

// Reader is the interface for reading behavior records from various sources.
type Reader interface {
	// Read returns every record.
	Read() ([]Record, error)

	// Stream returns a channel of records for incremental processing.
	Stream(ctx context.Context) (<-chan Record, error)

	// Err returns the error that ended the last Stream early, if any. It is
	// valid once the stream channel is closed.
	Err() error

	// Close releases resources.
	Close() error
}

// Writer is the interface for writing analysis results.
type Writer interface {
	// Write outputs a single result.
	Write(result Result) error

	// WriteAll outputs multiple results.
	WriteAll(results []Result) error

	// Close flushes and releases resources.
	Close() error
}

// Result pairs an input record with its analysis outcome.
type Result struct {
	Line   int    `json:"line"`
	Record Record `json:"record"`
	// Analysis holds the engine output. It is nil when Error is set.
	Analysis any    `json:"analysis,omitempty"`
	Error    string `json:"error,omitempty"`
}
