package uevents

import (
	"fmt"
	"sort"
	"strings"
)

// EventStatus is one row of a status report.
type EventStatus struct {
	// Name is the event name.
	Name string
	// Status is the consumer summary byte.
	Status Status
	// RefCount is the reference count at snapshot time.
	RefCount int
}

// StatusReport is a point-in-time view of the registry, in the shape
// consumers read to see what is defined and what is being used.
type StatusReport struct {
	// Events lists live events sorted by name.
	Events []EventStatus
	// Active is the number of live events.
	Active int
	// Busy is the number of events with at least one consumer.
	Busy int
}

// Status captures a report of all live events.
func (r *Registry) Status() StatusReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := StatusReport{
		Events: make([]EventStatus, 0, len(r.events)),
		Active: len(r.events),
	}

	for name, ev := range r.events {
		st := ev.Status()
		if st != 0 {
			rep.Busy++
		}
		rep.Events = append(rep.Events, EventStatus{
			Name:     name,
			Status:   st,
			RefCount: ev.RefCount(),
		})
	}

	sort.Slice(rep.Events, func(i, j int) bool {
		return rep.Events[i].Name < rep.Events[j].Name
	})
	return rep
}

// String renders the report in the status-file text form: one line per
// event, annotated with its consumers, then the totals.
func (rep StatusReport) String() string {
	var b strings.Builder

	for _, e := range rep.Events {
		b.WriteString(e.Name)

		if e.Status != 0 {
			b.WriteString(" # Used by")
			if e.Status&StatusTrace != 0 {
				b.WriteString(" trace")
			}
			if e.Status&StatusSampler != 0 {
				b.WriteString(" sampler")
			}
			if e.Status&StatusOther != 0 {
				b.WriteString(" other")
			}
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "\nActive: %d\nBusy: %d\n", rep.Active, rep.Busy)

	return b.String()
}
