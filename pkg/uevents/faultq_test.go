package uevents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traceforge/uevents/pkg/uevents/addrspace"
	"github.com/traceforge/uevents/pkg/uevents/backend"
)

// newColdSetup creates a registry and handle whose enable page is
// mapped but not resident, so bit writes must go through the fault
// workers.
func newColdSetup(t *testing.T, asOpts ...addrspace.Option) (*Registry, *Handle, *Task) {
	t.Helper()

	r, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	as := addrspace.New(asOpts...)
	require.NoError(t, as.Map(testEnableAddr, addrspace.PageSize))

	task := NewTask(as)
	h, err := r.Open(task)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	return r, h, task
}

// TestRegister_NonResidentSucceeds tests registration against a cold
// page: the link is made, the bit converges through the fault queue.
func TestRegister_NonResidentSucceeds(t *testing.T) {
	r, h, task := newColdSetup(t)
	ctx := context.Background()

	_, err := h.Register(ctx, RegisterRequest{
		Command:    "cold u32 n",
		EnableAddr: testEnableAddr,
		EnableSize: 4,
		EnableBit:  1,
	})
	require.NoError(t, err)

	sink := backend.NewMemoryBackend(backend.KindTrace)
	require.NoError(t, r.Attach(ctx, "cold", sink))

	require.Eventually(t, func() bool {
		set, err := task.AddressSpace().TestBit(testEnableAddr, 4, 1)
		return err == nil && set
	}, time.Second, 5*time.Millisecond)
}

// TestRegister_ReadOnlyFails tests permanent faults fail registration.
func TestRegister_ReadOnlyFails(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	as := addrspace.New()
	require.NoError(t, as.MapReadOnly(testEnableAddr, addrspace.PageSize))
	require.NoError(t, as.FaultIn(context.Background(), testEnableAddr))

	task := NewTask(as)
	h, err := r.Open(task)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	_, err = h.Register(context.Background(), RegisterRequest{
		Command:    "ro u32 n",
		EnableAddr: testEnableAddr,
		EnableSize: 4,
	})
	assert.ErrorIs(t, err, ErrUnwritable)

	// The failed link left no enabler behind.
	ev, err := r.Find("ro")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.RefCount())
}

// TestRegister_UnmappedFails tests registration against a hole.
func TestRegister_UnmappedFails(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	task := NewTask(addrspace.New())
	h, err := r.Open(task)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	_, err = h.Register(context.Background(), RegisterRequest{
		Command:    "hole u32 n",
		EnableAddr: testEnableAddr,
		EnableSize: 4,
	})
	assert.ErrorIs(t, err, ErrUnwritable)
}

// TestAttach_EvictedPageConverges tests a status change against an
// evicted page is resolved by the fault workers.
func TestAttach_EvictedPageConverges(t *testing.T) {
	r, h, task := newTestSetup(t)
	ctx := context.Background()

	registerLogin(t, h, 4)
	task.AddressSpace().Evict(testEnableAddr)

	sink := backend.NewMemoryBackend(backend.KindTrace)
	require.NoError(t, r.Attach(ctx, "login", sink))

	require.Eventually(t, func() bool {
		set, err := task.AddressSpace().TestBit(testEnableAddr, 4, 4)
		return err == nil && set
	}, time.Second, 5*time.Millisecond)
}

// TestUnregister_DuringFault tests a free racing an in-flight fault:
// the worker destroys the enabler instead of writing the bit.
func TestUnregister_DuringFault(t *testing.T) {
	r, h, _ := newColdSetup(t, addrspace.WithFaultLatency(50*time.Millisecond))
	ctx := context.Background()

	_, err := h.Register(ctx, RegisterRequest{
		Command:    "racy u32 n",
		EnableAddr: testEnableAddr,
		EnableSize: 4,
	})
	require.NoError(t, err)

	require.NoError(t, h.Unregister(ctx, testEnableAddr, 0))

	ev, err := r.Find("racy")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return ev.RefCount() == 2
	}, time.Second, 5*time.Millisecond)
}

// TestFaultQueue_StopIsIdempotent tests double stop.
func TestFaultQueue_StopIsIdempotent(t *testing.T) {
	q := newFaultQueue(2, 4)
	r := &Registry{}
	q.run(r)

	q.stop()
	q.stop()

	assert.False(t, q.enqueue(faultJob{}))
}
