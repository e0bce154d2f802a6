package uevents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/traceforge/uevents/pkg/uevents/backend"
	"github.com/traceforge/uevents/pkg/uevents/config"
	"github.com/traceforge/uevents/pkg/uevents/observability"
	"github.com/traceforge/uevents/pkg/uevents/schema"
)

// Declarer is a consumer-side surface that is told about event
// definitions as they come and go, and may veto a registration.
type Declarer interface {
	DeclareEvent(ctx context.Context, name, format string) error
	UndeclareEvent(ctx context.Context, name string) error
}

// Registry owns the process-wide set of named events and the trackers
// mirroring their status into user address spaces.
type Registry struct {
	// mu is the registration lock: it guards the event table, the
	// per-tracker enabler lists, and all status recomputation.
	mu     sync.Mutex
	events map[string]*Event
	live   int
	closed bool

	maxEvents   int
	faultWorker int
	faultDepth  int

	trackers trackerList
	faults   *faultQueue
	declarer Declarer

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

// New creates a registry with the given options and starts its fault
// workers.
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		events:      make(map[string]*Event),
		maxEvents:   config.DefaultMaxEvents,
		faultWorker: config.DefaultFaultWorkers,
		faultDepth:  config.DefaultFaultQueueDepth,
		metrics:     observability.NoopMetrics{},
		spans:       observability.NoopSpanManager{},
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	if r.maxEvents <= 0 {
		return nil, config.ErrInvalidMaxEvents
	}
	if r.faultWorker <= 0 {
		return nil, config.ErrInvalidWorkers
	}
	if r.faultDepth <= 0 {
		return nil, config.ErrInvalidQueueDepth
	}

	r.faults = newFaultQueue(r.faultWorker, r.faultDepth)
	r.faults.run(r)
	return r, nil
}

// Close shuts the registry down: no further registrations are
// accepted and the fault workers are drained.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.faults.stop()
	return nil
}

// MaxEvents returns the live-event cap.
func (r *Registry) MaxEvents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxEvents
}

// SetMaxEvents changes the live-event cap. Events already live above a
// lowered cap stay; only new registrations are refused.
func (r *Registry) SetMaxEvents(n int) error {
	if n <= 0 {
		return config.ErrInvalidMaxEvents
	}
	r.mu.Lock()
	r.maxEvents = n
	r.mu.Unlock()
	return nil
}

// Len returns the number of live events.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Find returns the live event with the given name.
func (r *Registry) Find(name string) (*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev, ok := r.events[name]
	if !ok {
		return nil, fmt.Errorf("event %q: %w", name, ErrNotFound)
	}
	return ev, nil
}

// resolveEvent returns the live event for the parsed registration,
// creating it on first use. A returned event carries one extra
// reference for the caller. The registration lock is held throughout
// so concurrent registrations of the same name converge on one event.
func (r *Registry) resolveEvent(ctx context.Context, name string, s *schema.Schema) (*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	if ev, ok := r.events[name]; ok {
		if !ev.schema.Matches(s) {
			return nil, fmt.Errorf("event %q exists with a different schema: %w", name, ErrBusy)
		}
		ev.ref()
		r.metrics.RecordRegistration(ctx, name, false)
		return ev, nil
	}

	if r.live >= r.maxEvents {
		return nil, fmt.Errorf("%w: %d live events", ErrCapacityExceeded, r.live)
	}

	ev := newEvent(name, s)

	if r.declarer != nil {
		if err := r.declarer.DeclareEvent(ctx, name, s.PrintFormat()); err != nil {
			return nil, &BackendError{Event: name, Err: err}
		}
	}

	// One reference for the table, one for the caller.
	ev.refs.Store(2)
	r.events[name] = ev
	r.live++

	observability.LogEventRegistered(r.logger, name, len(s.Fields()), s.MinSize())
	r.metrics.RecordRegistration(ctx, name, true)
	return ev, nil
}

// Delete removes a live event by name. Only an event nobody else holds
// can go; a single outstanding handle reference or enabler makes it
// busy.
func (r *Registry) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	ev, ok := r.events[name]
	if !ok {
		return fmt.Errorf("event %q: %w", name, ErrNotFound)
	}
	if ev.refs.Load() != 1 {
		return fmt.Errorf("event %q: %w", name, ErrBusy)
	}

	if r.declarer != nil {
		if err := r.declarer.UndeclareEvent(ctx, name); err != nil {
			return &BackendError{Event: name, Err: err}
		}
	}

	delete(r.events, name)
	ev.unref()

	r.live--
	if r.live < 0 {
		observability.LogCounterUnderflow(r.logger)
		r.live = 0
	}

	observability.LogEventDeleted(r.logger, name)
	r.metrics.RecordDeletion(ctx, name)
	return nil
}

// Attach connects a consumer backend to a live event and propagates
// the new status to every enabler bit mirroring it.
func (r *Registry) Attach(ctx context.Context, name string, b backend.Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	ev, ok := r.events[name]
	if !ok {
		return fmt.Errorf("event %q: %w", name, ErrNotFound)
	}

	ev.attachLocked(b)
	r.updateStatusLocked(ctx, ev)
	return nil
}

// Detach disconnects a consumer backend from a live event and
// propagates the new status.
func (r *Registry) Detach(ctx context.Context, name string, b backend.Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	ev, ok := r.events[name]
	if !ok {
		return fmt.Errorf("event %q: %w", name, ErrNotFound)
	}

	if !ev.detachLocked(b) {
		return fmt.Errorf("backend not attached to event %q: %w", name, ErrNotFound)
	}
	r.updateStatusLocked(ctx, ev)
	return nil
}

// updateStatusLocked recomputes the event's consumer summary and walks
// every address space enabling it, rewriting the mirrored bits. Writes
// that hit non-resident pages queue fault jobs and converge later.
// Caller holds the registration lock.
func (r *Registry) updateStatusLocked(ctx context.Context, ev *Event) {
	ev.status.Store(uint32(ev.computeStatusLocked()))

	for _, t := range r.trackers.snapshotFor(ev) {
		for _, en := range t.enablers {
			if en.event != ev {
				continue
			}
			// ErrGone, ErrBusy and ErrUnresident are all expected here;
			// the bit catches up through the fault queue or stays dead
			// with its address space.
			_ = r.writeBit(ctx, t, en, true)
		}
		t.put()
	}
}
