package uevents

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/traceforge/uevents/pkg/uevents/observability"
)

// faultJob asks a worker either to resolve a page fault for one
// enabler or, when enabler is nil, to tear down an exited tracker.
// Both carry a tracker memory reference the worker must put.
type faultJob struct {
	tracker *Tracker
	enabler *Enabler
}

// faultQueue runs the background workers that resolve enablement-bit
// page faults and tracker teardowns off the registration path.
type faultQueue struct {
	mu     sync.RWMutex
	closed bool
	jobs   chan faultJob
	g      *errgroup.Group
	done   chan struct{}
}

func newFaultQueue(workers, depth int) *faultQueue {
	q := &faultQueue{
		jobs: make(chan faultJob, depth),
		g:    &errgroup.Group{},
		done: make(chan struct{}),
	}
	q.g.SetLimit(workers)
	return q
}

// run starts the dispatch loop feeding jobs to the worker group.
func (q *faultQueue) run(r *Registry) {
	go func() {
		defer close(q.done)
		for job := range q.jobs {
			q.g.Go(func() error {
				if job.enabler == nil {
					r.runTeardown(job.tracker)
				} else {
					r.resolveFault(job.tracker, job.enabler)
				}
				return nil
			})
		}
	}()
}

// enqueue hands a job to the workers, reporting false when the queue
// is stopped or full. Never blocks; callers on the registration path
// hold locks the workers need.
func (q *faultQueue) enqueue(job faultJob) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// stop closes the queue and waits for in-flight jobs to finish.
func (q *faultQueue) stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	<-q.done
	q.g.Wait() //nolint:errcheck // workers never return errors
}

// queueFault marks the enabler faulting and schedules asynchronous
// resolution. Caller holds the registration lock. Reports false when
// the job could not be queued, in which case the faulting mark is
// rolled back so a later status change can retry.
func (r *Registry) queueFault(ctx context.Context, t *Tracker, en *Enabler) bool {
	en.setFaulting()

	if !r.faults.enqueue(faultJob{tracker: t.get(), enabler: en}) {
		en.clearFaulting()
		t.put()
		return false
	}

	r.metrics.RecordFaultQueued(ctx)
	return true
}

// resolveFault runs on a worker: fault the enable page in, then retry
// the bit write once. A free that raced in while the fault was pending
// wins; the enabler is destroyed instead of written.
func (r *Registry) resolveFault(t *Tracker, en *Enabler) {
	defer t.put()

	ctx := context.Background()

	var faultErr error
	if t.tasks.Load() == 0 {
		faultErr = ErrGone
	} else {
		faultErr = t.as.FaultIn(ctx, en.addr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if en.freeing() {
		r.destroyEnablerLocked(t, en)
		return
	}

	en.clearFaulting()

	if faultErr != nil {
		observability.LogEnablerFault(r.logger, en.event.name, en.addr, faultErr)
		return
	}

	// One retry; a page evicted again before we got here stays stale
	// until the next status change.
	if err := r.writeBit(ctx, t, en, false); err != nil {
		observability.LogBitWriteRetryFailed(r.logger, en.event.name, en.addr, err)
	}
}
