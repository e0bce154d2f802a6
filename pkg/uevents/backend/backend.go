// Package backend defines the call contract into trace record
// consumers and provides in-memory and SQLite implementations.
package backend

import (
	"context"
	"errors"
	"time"
)

// Kind classifies a consumer for event status summaries.
type Kind string

// Consumer kinds.
const (
	// KindTrace is a trace-file style consumer.
	KindTrace Kind = "trace"
	// KindSampler is a sampling profiler style consumer.
	KindSampler Kind = "sampler"
	// KindOther is any other consumer.
	KindOther Kind = "other"
)

// Record is one emitted event payload handed to a consumer.
type Record struct {
	// ID uniquely identifies the record.
	ID string
	// Event is the emitting event's name.
	Event string
	// Data is the validated payload. The backend owns the slice.
	Data []byte
	// CreatedAt is when the record was committed.
	CreatedAt time.Time
}

// Backend consumes committed trace records.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Kind classifies the consumer for status reporting.
	Kind() Kind

	// Enabled is the authoritative attachment check performed at
	// commit time. The mirrored enablement bit is only a hint; a
	// disabled backend silently drops the record.
	Enabled() bool

	// Commit persists one record.
	Commit(ctx context.Context, rec *Record) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for backend operations.
var (
	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend closed")

	// ErrNotFound indicates a record or event doesn't exist.
	ErrNotFound = errors.New("record not found")
)
