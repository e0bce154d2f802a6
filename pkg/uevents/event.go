package uevents

import (
	"sync/atomic"

	"github.com/traceforge/uevents/pkg/uevents/backend"
	"github.com/traceforge/uevents/pkg/uevents/schema"
)

// Status summarizes which consumer kinds are attached to an event.
// A zero status means no consumer exists and emits commit nothing.
type Status byte

// Status bits.
const (
	// StatusTrace indicates a trace-file consumer is attached.
	StatusTrace Status = 1 << 0
	// StatusSampler indicates a sampling consumer is attached.
	StatusSampler Status = 1 << 1
	// StatusOther indicates some other consumer kind is attached.
	StatusOther Status = 1 << 7
)

// statusFor maps a backend kind to its status bit.
func statusFor(k backend.Kind) Status {
	switch k {
	case backend.KindTrace:
		return StatusTrace
	case backend.KindSampler:
		return StatusSampler
	default:
		return StatusOther
	}
}

// Event is a named, schema-typed trace point definable at runtime.
// Events are shared: the registry, every enabler, and every handle
// reference entry hold one reference each.
type Event struct {
	name   string
	schema *schema.Schema

	refs   atomic.Int32
	status atomic.Uint32

	// backends is replaced copy-on-write under the registration lock;
	// emitters read it lock-free.
	backends atomic.Pointer[[]backend.Backend]
}

func newEvent(name string, s *schema.Schema) *Event {
	return &Event{name: name, schema: s}
}

// Name returns the event's unique name.
func (e *Event) Name() string { return e.name }

// Schema returns the event's immutable field schema.
func (e *Event) Schema() *schema.Schema { return e.schema }

// PrintFormat returns the generated consumer format string.
func (e *Event) PrintFormat() string { return e.schema.PrintFormat() }

// Status returns the current consumer summary byte. Mirrored
// enablement bits follow this value, eventually.
func (e *Event) Status() Status { return Status(e.status.Load()) }

// RefCount returns the current reference count. Useful for tests and
// diagnostics; the value may be stale by the time it is observed.
func (e *Event) RefCount() int { return int(e.refs.Load()) }

func (e *Event) ref() { e.refs.Add(1) }

func (e *Event) unref() { e.refs.Add(-1) }

// attachLocked adds a consumer. Caller holds the registration lock.
func (e *Event) attachLocked(b backend.Backend) {
	var next []backend.Backend
	if cur := e.backends.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, b)
	e.backends.Store(&next)
}

// detachLocked removes a consumer, reporting whether it was attached.
// Caller holds the registration lock.
func (e *Event) detachLocked(b backend.Backend) bool {
	cur := e.backends.Load()
	if cur == nil {
		return false
	}

	next := make([]backend.Backend, 0, len(*cur))
	found := false
	for _, have := range *cur {
		if !found && have == b {
			found = true
			continue
		}
		next = append(next, have)
	}

	if found {
		e.backends.Store(&next)
	}
	return found
}

// computeStatusLocked derives the status byte from the attached
// consumers. Caller holds the registration lock.
func (e *Event) computeStatusLocked() Status {
	var status Status
	if cur := e.backends.Load(); cur != nil {
		for _, b := range *cur {
			status |= statusFor(b.Kind())
		}
	}
	return status
}
