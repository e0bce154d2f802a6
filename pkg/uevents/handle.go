package uevents

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/traceforge/uevents/pkg/uevents/backend"
	"github.com/traceforge/uevents/pkg/uevents/observability"
	"github.com/traceforge/uevents/pkg/uevents/schema"
)

// RegisterRequest describes one event registration: the command naming
// the event and its fields, plus the enablement word the caller wants
// mirrored into its address space.
type RegisterRequest struct {
	// Command is "name [field[;field...]]".
	Command string

	// EnableAddr is the address of the enable word.
	EnableAddr uint64

	// EnableSize is the enable word size in bytes, 4 or 8.
	EnableSize int

	// EnableBit is the bit index within the enable word.
	EnableBit uint32

	// Flags must be zero; no registration flags are defined.
	Flags uint32
}

func (req *RegisterRequest) validate() error {
	if req.Flags != 0 {
		return fmt.Errorf("%w: %#x", ErrFlagsUnsupported, req.Flags)
	}
	if req.EnableSize != 4 && req.EnableSize != 8 {
		return fmt.Errorf("%w: %d", ErrInvalidEnableSize, req.EnableSize)
	}
	if req.EnableAddr%uint64(req.EnableSize) != 0 {
		return fmt.Errorf("%w: %#x", ErrMisalignedAddress, req.EnableAddr)
	}
	if req.EnableBit >= uint32(req.EnableSize)*8 {
		return fmt.Errorf("%w: %d", ErrInvalidEnableBit, req.EnableBit)
	}
	return nil
}

// Handle is one writer's session with the registry. Each registered
// event gets a small write index local to the handle; emits name
// events by that index so the hot path never touches the event table.
type Handle struct {
	r    *Registry
	task *Task

	// mu serializes index-table writers; emitters load refs lock-free.
	mu     sync.Mutex
	refs   atomic.Pointer[[]*Event]
	closed atomic.Bool
}

// Open starts a writer session for the given task.
func (r *Registry) Open(task *Task) (*Handle, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return nil, ErrRegistryClosed
	}
	return &Handle{r: r, task: task}, nil
}

// Register defines (or rebinds to) an event and links an enablement
// bit for this handle's address space. It returns the write index to
// emit with. A non-resident enable page does not fail registration;
// the bit is written once the queued fault resolves.
func (h *Handle) Register(ctx context.Context, req RegisterRequest) (uint32, error) {
	if h.closed.Load() {
		return 0, ErrHandleClosed
	}
	if err := req.validate(); err != nil {
		return 0, err
	}

	name, fieldSpec, err := schema.SplitCommand(req.Command)
	if err != nil {
		return 0, &SchemaError{Command: req.Command, Err: err}
	}

	ctx, span := h.r.spans.StartRegisterSpan(ctx, name)
	defer func() { h.r.spans.EndSpanWithError(span, err) }()

	s, err := schema.Parse(fieldSpec)
	if err != nil {
		return 0, &SchemaError{Command: req.Command, Err: err}
	}

	ev, err := h.r.resolveEvent(ctx, name, s)
	if err != nil {
		return 0, err
	}

	idx, err := h.refAdd(ev)
	if err != nil {
		ev.unref()
		return 0, err
	}

	if err = h.r.createEnabler(ctx, h.task, ev, req); err != nil {
		return 0, err
	}

	return idx, nil
}

// refAdd returns ev's write index on this handle, appending it on
// first use. A duplicate registration reuses the slot and releases the
// extra event reference.
func (h *Handle) refAdd(ev *Event) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed.Load() {
		return 0, ErrHandleClosed
	}

	var cur []*Event
	if p := h.refs.Load(); p != nil {
		cur = *p
	}

	for i, have := range cur {
		if have == ev {
			ev.unref()
			return uint32(i), nil
		}
	}

	next := make([]*Event, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = ev
	h.refs.Store(&next)
	return uint32(len(cur)), nil
}

// lookup resolves a write index to its event.
func (h *Handle) lookup(idx uint32) (*Event, error) {
	p := h.refs.Load()
	if p == nil || int(idx) >= len(*p) {
		return nil, fmt.Errorf("write index %d: %w", idx, ErrNotFound)
	}
	return (*p)[idx], nil
}

// createEnabler links an enablement bit for ev into the task's tracker
// and performs the initial bit write. Only a permanently unwritable
// address fails the link; a non-resident page queues a fault and the
// registration still succeeds.
func (r *Registry) createEnabler(ctx context.Context, task *Task, ev *Event, req RegisterRequest) error {
	t := r.trackerFor(task)
	defer t.put()

	r.mu.Lock()
	defer r.mu.Unlock()

	// An existing live binding at the same site is reused.
	for _, en := range t.enablers {
		if en.addr == req.EnableAddr && en.Bit() == req.EnableBit && !en.freeing() {
			return nil
		}
	}

	en := newEnabler(ev, req.EnableAddr, req.EnableSize, req.EnableBit)
	ev.ref()
	t.enablers = append(t.enablers, en)

	err := r.writeBit(ctx, t, en, true)
	if err == nil || errors.Is(err, ErrUnresident) {
		return nil
	}

	r.destroyEnablerLocked(t, en)
	return err
}

// Unregister removes this task's enablement binding at (addr, bit).
// The mirrored bit is cleared best-effort; a binding mid-fault is
// handed to the fault worker for destruction.
func (h *Handle) Unregister(ctx context.Context, addr uint64, bit uint32) error {
	if h.closed.Load() {
		return ErrHandleClosed
	}

	t := h.task.current()
	if t == nil {
		return fmt.Errorf("enabler at %#x bit %d: %w", addr, bit, ErrNotFound)
	}

	h.r.mu.Lock()
	defer h.r.mu.Unlock()

	found := false
	for _, en := range append([]*Enabler(nil), t.enablers...) {
		if en.addr != addr || en.Bit() != bit || en.freeing() {
			continue
		}
		found = true

		en.setFreeing()

		if w, err := t.as.PinWrite(en.addr, en.size); err == nil {
			w.ClearBit(en.Bit())
			w.Unpin(true)
		}

		// A fault in flight holds a pointer to the enabler; the worker
		// sees the freeing mark and destroys it.
		if !en.faulting() {
			h.r.destroyEnablerLocked(t, en)
		}
	}

	if !found {
		return fmt.Errorf("enabler at %#x bit %d: %w", addr, bit, ErrNotFound)
	}
	return nil
}

// Write emits a record whose first four bytes are the little-endian
// write index, mirroring the wire form writers use.
func (h *Handle) Write(ctx context.Context, data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("%w: missing write index", ErrTooShort)
	}
	idx := binary.LittleEndian.Uint32(data)
	return h.WriteIndexed(ctx, idx, data[4:])
}

// WriteIndexed emits a payload for the event at the given write index.
// The minimum size check applies whether or not anyone is listening;
// a well-sized emit with no consumer attached succeeds and commits
// nothing. Payload validation failure discards the record and reports
// ErrFaulted.
func (h *Handle) WriteIndexed(ctx context.Context, idx uint32, payload []byte) error {
	if h.closed.Load() {
		return ErrHandleClosed
	}

	ev, err := h.lookup(idx)
	if err != nil {
		return err
	}

	ctx, span := h.r.spans.StartEmitSpan(ctx, ev.name)
	var emitErr error
	defer func() { h.r.spans.EndSpanWithError(span, emitErr) }()

	if len(payload) < ev.schema.MinSize() {
		emitErr = fmt.Errorf("%w: %d < %d bytes", ErrTooShort, len(payload), ev.schema.MinSize())
		return emitErr
	}

	if ev.Status() == 0 {
		return nil
	}

	backends := ev.backends.Load()
	if backends == nil {
		return nil
	}

	faulted := false
	for _, b := range *backends {
		if !b.Enabled() {
			continue
		}

		// Each consumer gets its own copy, validated in place.
		data := make([]byte, len(payload))
		copy(data, payload)

		if err := ev.schema.Validate(data); err != nil {
			faulted = true
			observability.LogRecordDiscarded(h.r.logger, ev.name, err)
			continue
		}

		rec := &backend.Record{Event: ev.name, Data: data}
		if err := b.Commit(ctx, rec); err != nil {
			observability.LogBackendCommitFailed(h.r.logger, ev.name, string(b.Kind()), err)
		}
	}

	h.r.metrics.RecordEmit(ctx, ev.name, int64(len(payload)), faulted)

	if faulted {
		emitErr = fmt.Errorf("event %q: %w", ev.name, ErrFaulted)
		return emitErr
	}
	return nil
}

// Events returns the events currently indexed by this handle, in write
// index order.
func (h *Handle) Events() []*Event {
	p := h.refs.Load()
	if p == nil {
		return nil
	}
	out := make([]*Event, len(*p))
	copy(out, *p)
	return out
}

// Close releases the handle's event references. Enablement bindings
// live with the task's tracker and are unaffected.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if p := h.refs.Load(); p != nil {
		for _, ev := range *p {
			ev.unref()
		}
	}
	h.refs.Store(nil)
	return nil
}
