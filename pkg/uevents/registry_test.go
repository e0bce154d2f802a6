package uevents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traceforge/uevents/pkg/uevents/addrspace"
	"github.com/traceforge/uevents/pkg/uevents/backend"
)

const testEnableAddr = 0x1000

// newTestSetup creates a registry and a handle whose task has one
// resident writable page at testEnableAddr.
func newTestSetup(t *testing.T, opts ...Option) (*Registry, *Handle, *Task) {
	t.Helper()

	r, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	as := addrspace.New()
	require.NoError(t, as.Map(testEnableAddr, addrspace.PageSize))
	require.NoError(t, as.FaultIn(context.Background(), testEnableAddr))

	task := NewTask(as)
	h, err := r.Open(task)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })

	return r, h, task
}

func registerLogin(t *testing.T, h *Handle, bit uint32) uint32 {
	t.Helper()

	idx, err := h.Register(context.Background(), RegisterRequest{
		Command:    "login char[16] user;u32 uid",
		EnableAddr: testEnableAddr,
		EnableSize: 4,
		EnableBit:  bit,
	})
	require.NoError(t, err)
	return idx
}

// TestRegister_CreatesEvent tests first registration of an event.
func TestRegister_CreatesEvent(t *testing.T) {
	r, h, _ := newTestSetup(t)

	idx := registerLogin(t, h, 0)
	assert.EqualValues(t, 0, idx)

	ev, err := r.Find("login")
	require.NoError(t, err)
	assert.Equal(t, "login", ev.Name())
	assert.Equal(t, 20, ev.Schema().MinSize())

	// Registry table, handle index, and enabler each hold a reference.
	assert.Equal(t, 3, ev.RefCount())
	assert.Equal(t, 1, r.Len())
}

// TestRegister_Idempotent tests re-registration on the same handle.
func TestRegister_Idempotent(t *testing.T) {
	r, h, _ := newTestSetup(t)

	idx1 := registerLogin(t, h, 0)
	idx2 := registerLogin(t, h, 0)

	assert.Equal(t, idx1, idx2)
	assert.Equal(t, 1, r.Len())

	ev, err := r.Find("login")
	require.NoError(t, err)
	assert.Equal(t, 3, ev.RefCount())
}

// TestRegister_SchemaMismatch tests a name collision with different fields.
func TestRegister_SchemaMismatch(t *testing.T) {
	_, h, _ := newTestSetup(t)

	registerLogin(t, h, 0)

	_, err := h.Register(context.Background(), RegisterRequest{
		Command:    "login u64 uid",
		EnableAddr: testEnableAddr,
		EnableSize: 4,
		EnableBit:  1,
	})
	assert.ErrorIs(t, err, ErrBusy)
}

// TestRegister_InvalidRequest tests enable word validation.
func TestRegister_InvalidRequest(t *testing.T) {
	_, h, _ := newTestSetup(t)
	ctx := context.Background()

	base := RegisterRequest{
		Command:    "e u32 a",
		EnableAddr: testEnableAddr,
		EnableSize: 4,
	}

	req := base
	req.Flags = 1
	_, err := h.Register(ctx, req)
	assert.ErrorIs(t, err, ErrFlagsUnsupported)

	req = base
	req.EnableSize = 3
	_, err = h.Register(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidEnableSize)

	req = base
	req.EnableAddr = testEnableAddr + 2
	_, err = h.Register(ctx, req)
	assert.ErrorIs(t, err, ErrMisalignedAddress)

	req = base
	req.EnableBit = 32
	_, err = h.Register(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidEnableBit)

	// A 64-bit word admits bits up to 63.
	req = base
	req.EnableSize = 8
	req.EnableBit = 63
	_, err = h.Register(ctx, req)
	assert.NoError(t, err)
}

// TestRegister_BadCommand tests schema errors carry the command.
func TestRegister_BadCommand(t *testing.T) {
	_, h, _ := newTestSetup(t)

	_, err := h.Register(context.Background(), RegisterRequest{
		Command:    "bad long x",
		EnableAddr: testEnableAddr,
		EnableSize: 4,
	})

	assert.ErrorIs(t, err, ErrInvalidSchema)

	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "bad long x", serr.Command)
}

// TestRegister_Capacity tests the live-event cap.
func TestRegister_Capacity(t *testing.T) {
	_, h, _ := newTestSetup(t, WithMaxEvents(1))
	ctx := context.Background()

	registerLogin(t, h, 0)

	_, err := h.Register(ctx, RegisterRequest{
		Command:    "another u32 a",
		EnableAddr: testEnableAddr,
		EnableSize: 4,
		EnableBit:  1,
	})
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	// Rebinding to the existing event is not a new registration.
	registerLogin(t, h, 0)
}

// TestDelete tests deletion of an unreferenced event.
func TestDelete(t *testing.T) {
	r, h, _ := newTestSetup(t)
	ctx := context.Background()

	registerLogin(t, h, 0)

	// The handle index and the enabler still hold references.
	assert.ErrorIs(t, r.Delete(ctx, "login"), ErrBusy)

	require.NoError(t, h.Unregister(ctx, testEnableAddr, 0))
	assert.ErrorIs(t, r.Delete(ctx, "login"), ErrBusy)

	require.NoError(t, h.Close())
	require.NoError(t, r.Delete(ctx, "login"))

	_, err := r.Find("login")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, r.Len())
}

// TestDelete_NotFound tests deleting an unknown event.
func TestDelete_NotFound(t *testing.T) {
	r, _, _ := newTestSetup(t)

	assert.ErrorIs(t, r.Delete(context.Background(), "nope"), ErrNotFound)
}

// TestDeclarer tests the consumer declaration surface.
func TestDeclarer(t *testing.T) {
	sink := backend.NewMemoryBackend(backend.KindTrace)
	r, h, _ := newTestSetup(t, WithDeclarer(sink))
	ctx := context.Background()

	registerLogin(t, h, 0)

	format, ok := sink.Declared("login")
	require.True(t, ok)
	assert.Contains(t, format, "user=%s")
	assert.Contains(t, format, "uid=%u")

	require.NoError(t, h.Unregister(ctx, testEnableAddr, 0))
	require.NoError(t, h.Close())
	require.NoError(t, r.Delete(ctx, "login"))

	_, ok = sink.Declared("login")
	assert.False(t, ok)
}

// TestDeclarer_Rejects tests a declaration veto fails registration.
func TestDeclarer_Rejects(t *testing.T) {
	sink := backend.NewMemoryBackend(backend.KindTrace)
	require.NoError(t, sink.Close())

	r, h, _ := newTestSetup(t, WithDeclarer(sink))

	_, err := h.Register(context.Background(), RegisterRequest{
		Command:    "login u32 uid",
		EnableAddr: testEnableAddr,
		EnableSize: 4,
	})

	assert.ErrorIs(t, err, ErrBackendRejected)
	assert.ErrorIs(t, err, backend.ErrClosed)
	assert.Equal(t, 0, r.Len())
}

// TestAttachDetach tests consumer attachment and the status byte.
func TestAttachDetach(t *testing.T) {
	r, h, _ := newTestSetup(t)
	ctx := context.Background()

	registerLogin(t, h, 0)

	ev, err := r.Find("login")
	require.NoError(t, err)
	assert.Zero(t, ev.Status())

	trace := backend.NewMemoryBackend(backend.KindTrace)
	sampler := backend.NewMemoryBackend(backend.KindSampler)

	require.NoError(t, r.Attach(ctx, "login", trace))
	assert.Equal(t, StatusTrace, ev.Status())

	require.NoError(t, r.Attach(ctx, "login", sampler))
	assert.Equal(t, StatusTrace|StatusSampler, ev.Status())

	require.NoError(t, r.Detach(ctx, "login", trace))
	assert.Equal(t, StatusSampler, ev.Status())

	require.NoError(t, r.Detach(ctx, "login", sampler))
	assert.Zero(t, ev.Status())

	err = r.Detach(ctx, "login", sampler)
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestAttach_SetsEnableBit tests status propagation into memory.
func TestAttach_SetsEnableBit(t *testing.T) {
	r, h, task := newTestSetup(t)
	ctx := context.Background()

	registerLogin(t, h, 5)

	set, err := task.AddressSpace().TestBit(testEnableAddr, 4, 5)
	require.NoError(t, err)
	assert.False(t, set)

	sink := backend.NewMemoryBackend(backend.KindTrace)
	require.NoError(t, r.Attach(ctx, "login", sink))

	set, err = task.AddressSpace().TestBit(testEnableAddr, 4, 5)
	require.NoError(t, err)
	assert.True(t, set)

	require.NoError(t, r.Detach(ctx, "login", sink))

	set, err = task.AddressSpace().TestBit(testEnableAddr, 4, 5)
	require.NoError(t, err)
	assert.False(t, set)
}

// TestStatusReport tests the status snapshot and its text form.
func TestStatusReport(t *testing.T) {
	r, h, _ := newTestSetup(t)
	ctx := context.Background()

	registerLogin(t, h, 0)
	_, err := h.Register(ctx, RegisterRequest{
		Command:    "boot u32 stage",
		EnableAddr: testEnableAddr,
		EnableSize: 4,
		EnableBit:  1,
	})
	require.NoError(t, err)

	sink := backend.NewMemoryBackend(backend.KindTrace)
	require.NoError(t, r.Attach(ctx, "login", sink))

	rep := r.Status()
	assert.Equal(t, 2, rep.Active)
	assert.Equal(t, 1, rep.Busy)
	require.Len(t, rep.Events, 2)
	assert.Equal(t, "boot", rep.Events[0].Name)
	assert.Equal(t, "login", rep.Events[1].Name)
	assert.Equal(t, StatusTrace, rep.Events[1].Status)

	text := rep.String()
	assert.Contains(t, text, "login # Used by trace")
	assert.Contains(t, text, "boot\n")
	assert.Contains(t, text, "Active: 2")
	assert.Contains(t, text, "Busy: 1")
}

// TestRegistryClosed tests operations after Close.
func TestRegistryClosed(t *testing.T) {
	r, h, task := newTestSetup(t)
	ctx := context.Background()

	require.NoError(t, r.Close())

	_, err := r.Open(task)
	assert.ErrorIs(t, err, ErrRegistryClosed)

	_, err = h.Register(ctx, RegisterRequest{
		Command:    "e u32 a",
		EnableAddr: testEnableAddr,
		EnableSize: 4,
	})
	assert.ErrorIs(t, err, ErrRegistryClosed)

	assert.ErrorIs(t, r.Delete(ctx, "e"), ErrRegistryClosed)

	// Close is idempotent.
	assert.NoError(t, r.Close())
}

// TestSetMaxEvents tests runtime cap changes.
func TestSetMaxEvents(t *testing.T) {
	r, h, _ := newTestSetup(t)

	assert.Error(t, r.SetMaxEvents(0))
	require.NoError(t, r.SetMaxEvents(1))
	assert.Equal(t, 1, r.MaxEvents())

	registerLogin(t, h, 0)

	_, err := h.Register(context.Background(), RegisterRequest{
		Command:    "second u32 a",
		EnableAddr: testEnableAddr,
		EnableSize: 4,
		EnableBit:  1,
	})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

// TestNew_InvalidOptions tests constructor validation.
func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(WithMaxEvents(-1))
	assert.Error(t, err)

	_, err = New(WithFaultWorkers(0))
	assert.Error(t, err)

	_, err = New(WithFaultQueueDepth(-5))
	assert.Error(t, err)
}

// TestConcurrentRegister tests racing registrations converge on one event.
func TestConcurrentRegister(t *testing.T) {
	r, h, _ := newTestSetup(t)
	ctx := context.Background()

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(bit uint32) {
			_, err := h.Register(ctx, RegisterRequest{
				Command:    "race u32 n",
				EnableAddr: testEnableAddr,
				EnableSize: 4,
				EnableBit:  bit,
			})
			errs <- err
		}(uint32(i))
	}
	for i := 0; i < 8; i++ {
		assert.NoError(t, <-errs)
	}

	assert.Equal(t, 1, r.Len())

	ev, err := r.Find("race")
	require.NoError(t, err)
	// Table + one handle index + eight enablers.
	assert.Equal(t, 10, ev.RefCount())
}
