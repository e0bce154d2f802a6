package backend

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryBackend is an in-memory record consumer for testing and
// single-process embedding. Records are lost when the process exits.
type MemoryBackend struct {
	kind    Kind
	enabled atomic.Bool

	mu       sync.RWMutex
	records  []Record
	declared map[string]string // event name -> print format
	closed   bool
}

// NewMemoryBackend creates an enabled in-memory backend of the given kind.
func NewMemoryBackend(kind Kind) *MemoryBackend {
	m := &MemoryBackend{
		kind:     kind,
		declared: make(map[string]string),
	}
	m.enabled.Store(true)
	return m
}

// Kind implements Backend.
func (m *MemoryBackend) Kind() Kind { return m.kind }

// Enabled implements Backend.
func (m *MemoryBackend) Enabled() bool { return m.enabled.Load() }

// SetEnabled toggles whether Commit keeps records.
func (m *MemoryBackend) SetEnabled(v bool) { m.enabled.Store(v) }

// Commit implements Backend.
func (m *MemoryBackend) Commit(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	stored := *rec
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	// Copy data to avoid retaining the writer's buffer.
	stored.Data = append([]byte(nil), rec.Data...)

	m.records = append(m.records, stored)
	return nil
}

// DeclareEvent records an event declaration. Implements the registry's
// declaration surface.
func (m *MemoryBackend) DeclareEvent(_ context.Context, name, format string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.declared[name] = format
	return nil
}

// UndeclareEvent removes an event declaration.
func (m *MemoryBackend) UndeclareEvent(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	delete(m.declared, name)
	return nil
}

// Declared returns the print format for a declared event.
func (m *MemoryBackend) Declared(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	format, ok := m.declared[name]
	return format, ok
}

// Records returns a copy of all committed records in commit order.
func (m *MemoryBackend) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// RecordsFor returns the committed records for one event.
func (m *MemoryBackend) RecordsFor(event string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, rec := range m.records {
		if rec.Event == event {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of committed records.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.records = nil
	m.declared = nil
	return nil
}
