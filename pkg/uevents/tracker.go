package uevents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/traceforge/uevents/pkg/uevents/addrspace"
	"github.com/traceforge/uevents/pkg/uevents/observability"
)

// Task is one thread of control participating in event enablement.
// Tasks sharing an address space after fork share one Tracker.
type Task struct {
	as *addrspace.AddressSpace

	mu      sync.Mutex
	tracker *Tracker
}

// NewTask creates a task owning the given address space.
func NewTask(as *addrspace.AddressSpace) *Task {
	return &Task{as: as}
}

// AddressSpace returns the task's address space.
func (t *Task) AddressSpace() *addrspace.AddressSpace { return t.as }

func (t *Task) current() *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracker
}

// Tracker is the per-address-space record owning that process's
// enablers. It carries two counts: refs keeps the memory alive while
// snapshots and fault jobs reference it, tasks counts the attached
// tasks and gates all bit writes.
type Tracker struct {
	as *addrspace.AddressSpace

	refs  atomic.Int32
	tasks atomic.Int32

	// enablers is guarded by the registry's registration lock.
	enablers []*Enabler
}

// AddressSpace returns the tracked address space.
func (t *Tracker) AddressSpace() *addrspace.AddressSpace { return t.as }

func (t *Tracker) get() *Tracker {
	t.refs.Add(1)
	return t
}

func (t *Tracker) put() {
	if t.refs.Add(-1) == 0 {
		t.destroy()
	}
}

// destroy releases any enablers that survived teardown. The tracker is
// unreachable at this point; only the event references remain to drop.
func (t *Tracker) destroy() {
	for _, en := range t.enablers {
		en.event.unref()
	}
	t.enablers = nil
}

// trackerList is the process-wide set of live trackers. Reads admit
// many concurrent snapshots; removal is exclusive. Snapshots bump each
// tracker's memory refcount before leaving the critical section so a
// concurrent removal never invalidates an in-progress traversal.
type trackerList struct {
	mu    sync.RWMutex
	items []*Tracker
}

func (l *trackerList) add(t *Tracker) {
	l.mu.Lock()
	l.items = append(l.items, t)
	l.mu.Unlock()
}

func (l *trackerList) remove(t *Tracker) {
	l.mu.Lock()
	for i, have := range l.items {
		if have == t {
			l.items = append(l.items[:i], l.items[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
}

// snapshotFor returns every tracker holding an enabler for ev, each
// with a bumped memory reference the caller must put. The caller holds
// the registration lock, which guards the enabler lists.
func (l *trackerList) snapshotFor(ev *Event) []*Tracker {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var found []*Tracker
	for _, t := range l.items {
		for _, en := range t.enablers {
			if en.event == ev {
				found = append(found, t.get())
				break
			}
		}
	}
	return found
}

// trackerFor returns the task's tracker, creating and registering one
// on first use. The returned tracker has a bumped memory reference the
// caller must put.
func (r *Registry) trackerFor(task *Task) *Tracker {
	task.mu.Lock()
	defer task.mu.Unlock()

	t := task.tracker
	if t == nil {
		t = &Tracker{as: task.as}
		t.refs.Store(1)
		t.tasks.Store(1)
		r.trackers.add(t)
		task.tracker = t
	}
	return t.get()
}

// ForkTask mirrors a process fork: the child joins a new tracker that
// duplicates every non-freeing enabler of the parent's, each holding a
// fresh event reference. A partial failure tears the new tracker down
// rather than leaving an inconsistent duplicate.
func (r *Registry) ForkTask(parent, child *Task) error {
	if child.current() != nil {
		return fmt.Errorf("child task already tracked: %w", ErrBusy)
	}

	old := parent.current()
	if old == nil {
		return nil
	}

	t := &Tracker{as: child.as}
	t.refs.Store(1)
	t.tasks.Store(1)
	r.trackers.add(t)

	child.mu.Lock()
	child.tracker = t
	child.mu.Unlock()

	r.mu.Lock()
	var dupErr error
	for _, en := range old.enablers {
		// Skip pending frees.
		if en.freeing() {
			continue
		}
		if en.event == nil {
			dupErr = errors.New("enabler lost its event")
			break
		}
		dup := newEnabler(en.event, en.addr, en.size, en.values.Load()&enableValDupMask)
		dup.event.ref()
		t.enablers = append(t.enablers, dup)
	}
	r.mu.Unlock()

	if dupErr != nil {
		r.ExitTask(child)
		return dupErr
	}
	return nil
}

// AttachTask adds another task to an existing task's tracker, as a
// thread clone sharing the address space would.
func (r *Registry) AttachTask(existing, clone *Task) error {
	if clone.current() != nil {
		return fmt.Errorf("clone task already tracked: %w", ErrBusy)
	}

	t := existing.current()
	if t == nil {
		return nil
	}

	t.tasks.Add(1)

	clone.mu.Lock()
	clone.tracker = t
	clone.mu.Unlock()
	return nil
}

// ExitTask detaches a task from its tracker, as process exit or exec
// would. The last task removes the tracker from the global list, waits
// for in-flight bit writers to drain, and hands destruction of the
// remaining enablers to the worker pool.
func (r *Registry) ExitTask(task *Task) {
	task.mu.Lock()
	t := task.tracker
	task.tracker = nil
	task.mu.Unlock()

	if t == nil {
		return
	}

	// Clones share the tracker; only the last exit tears it down.
	if t.tasks.Add(-1) != 0 {
		return
	}

	// No longer enableable: new snapshots cannot find it, and writeBit
	// refuses it via the zero task count.
	r.trackers.remove(t)

	// Wait out writers currently inside the address space lock so the
	// final release cannot race a bit write.
	t.as.DrainWriters()

	// Destruction takes the registration lock and must not run in a
	// context that cannot block; hand it to the pool.
	if !r.faults.enqueue(faultJob{tracker: t}) {
		go r.runTeardown(t)
	}
}

// runTeardown destroys a detached tracker's enablers and drops the
// tracker's own memory reference.
func (r *Registry) runTeardown(t *Tracker) {
	r.mu.Lock()
	for _, en := range append([]*Enabler(nil), t.enablers...) {
		en.setFreeing()
		if !en.faulting() {
			r.destroyEnablerLocked(t, en)
		}
	}
	r.mu.Unlock()

	t.put()
}

// destroyEnablerLocked unlinks an enabler and drops its event
// reference. Caller holds the registration lock and has ensured no
// fault is in flight.
func (r *Registry) destroyEnablerLocked(t *Tracker, en *Enabler) {
	for i, have := range t.enablers {
		if have == en {
			t.enablers = append(t.enablers[:i], t.enablers[i+1:]...)
			break
		}
	}
	en.event.unref()
}

// writeBit reflects the enabler's event status into its address space.
// Caller holds the registration lock. When queueFault is true a
// non-resident page schedules asynchronous resolution and the write
// reports ErrUnresident; the bit converges once the fault job runs.
func (r *Registry) writeBit(ctx context.Context, t *Tracker, en *Enabler, queueFault bool) error {
	if t.tasks.Load() == 0 {
		return ErrGone
	}

	if en.faulting() || en.freeing() {
		return ErrBusy
	}

	w, err := t.as.PinWrite(en.addr, en.size)
	if err != nil {
		r.metrics.RecordBitWrite(ctx, false)

		if errors.Is(err, addrspace.ErrNotResident) {
			if queueFault && !r.queueFault(ctx, t, en) {
				observability.LogFaultQueueFull(r.logger, en.event.name, en.addr)
			}
			return ErrUnresident
		}

		return fmt.Errorf("%w: %v", ErrUnwritable, err)
	}

	// User-side readers of the bit must see it flip atomically.
	if en.event.Status() != 0 {
		w.SetBit(en.Bit())
	} else {
		w.ClearBit(en.Bit())
	}
	w.Unpin(true)

	r.metrics.RecordBitWrite(ctx, true)
	return nil
}
