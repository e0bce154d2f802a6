package addrspace

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

// PageSize is the size of one simulated page in bytes.
const PageSize = 4096

// Sentinel errors for address space access.
var (
	// ErrBadAddress indicates an address outside any mapped region.
	ErrBadAddress = errors.New("address not mapped")

	// ErrReadOnly indicates a write to a read-only region.
	ErrReadOnly = errors.New("address not writable")

	// ErrNotResident indicates the target page is mapped but not
	// currently backed; the caller must fault it in.
	ErrNotResident = errors.New("page not resident")

	// ErrOverlap indicates a mapping that overlaps an existing region.
	ErrOverlap = errors.New("mapping overlaps existing region")
)

type region struct {
	start, end uint64
	writable   bool
}

type page struct {
	mu       sync.Mutex
	data     []byte
	resident bool
	dirty    bool
}

// AddressSpace is one simulated process memory. All methods are safe
// for concurrent use.
type AddressSpace struct {
	// mu is the memory-lock analogue. Writers and fault-in hold the
	// read side; DrainWriters cycles the write side.
	mu sync.RWMutex

	// state guards the region list and page table.
	state   sync.Mutex
	regions []region
	pages   map[uint64]*page

	faultLatency time.Duration
}

// Option configures an AddressSpace.
type Option func(*AddressSpace)

// WithFaultLatency makes every FaultIn block for d, modeling the cost
// of paging memory in. Zero means fault-in completes immediately.
func WithFaultLatency(d time.Duration) Option {
	return func(as *AddressSpace) {
		as.faultLatency = d
	}
}

// New creates an empty AddressSpace.
func New(opts ...Option) *AddressSpace {
	as := &AddressSpace{
		pages: make(map[uint64]*page),
	}
	for _, opt := range opts {
		opt(as)
	}
	return as
}

// Map adds a writable region of length bytes at addr. Pages start
// non-resident; fault them in (or let the fault worker do so) before
// expecting reads to succeed.
func (as *AddressSpace) Map(addr, length uint64) error {
	return as.mapRegion(addr, length, true)
}

// MapReadOnly adds a read-only region. Bit writes into it fail
// permanently rather than queueing a fault.
func (as *AddressSpace) MapReadOnly(addr, length uint64) error {
	return as.mapRegion(addr, length, false)
}

func (as *AddressSpace) mapRegion(addr, length uint64, writable bool) error {
	if length == 0 {
		return ErrBadAddress
	}

	as.state.Lock()
	defer as.state.Unlock()

	end := addr + length
	for _, r := range as.regions {
		if addr < r.end && r.start < end {
			return ErrOverlap
		}
	}

	as.regions = append(as.regions, region{start: addr, end: end, writable: writable})

	for base := addr &^ (PageSize - 1); base < end; base += PageSize {
		if as.pages[base] == nil {
			as.pages[base] = &page{data: make([]byte, PageSize)}
		}
	}

	return nil
}

// regionFor returns the region containing [addr, addr+size), if any.
func (as *AddressSpace) regionFor(addr uint64, size int) (region, bool) {
	end := addr + uint64(size)
	for _, r := range as.regions {
		if addr >= r.start && end <= r.end {
			return r, true
		}
	}
	return region{}, false
}

// Resident reports whether the page containing addr is backed.
func (as *AddressSpace) Resident(addr uint64) bool {
	as.state.Lock()
	p := as.pages[addr&^(PageSize-1)]
	as.state.Unlock()

	if p == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resident
}

// Evict marks the page containing addr non-resident. Contents are
// preserved, as if written back to swap. Used to exercise fault paths.
func (as *AddressSpace) Evict(addr uint64) {
	as.state.Lock()
	p := as.pages[addr&^(PageSize-1)]
	as.state.Unlock()

	if p != nil {
		p.mu.Lock()
		p.resident = false
		p.mu.Unlock()
	}
}

// FaultIn forces the page containing addr to become resident. It may
// block for the configured fault latency and honors ctx cancellation.
func (as *AddressSpace) FaultIn(ctx context.Context, addr uint64) error {
	as.mu.RLock()
	defer as.mu.RUnlock()

	as.state.Lock()
	_, ok := as.regionFor(addr, 1)
	p := as.pages[addr&^(PageSize-1)]
	as.state.Unlock()

	if !ok || p == nil {
		return ErrBadAddress
	}

	if as.faultLatency > 0 {
		t := time.NewTimer(as.faultLatency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	p.resident = true
	p.mu.Unlock()

	return nil
}

// PinnedWord is a pinned, writable word of memory. The pin holds the
// address space read lock; callers must Unpin promptly.
type PinnedWord struct {
	as  *AddressSpace
	p   *page
	off int
}

// PinWrite pins the size-byte word at addr for writing without
// triggering a blocking fault. size must be 4 or 8 and addr naturally
// aligned so the word cannot straddle a page.
func (as *AddressSpace) PinWrite(addr uint64, size int) (*PinnedWord, error) {
	if (size != 4 && size != 8) || addr%uint64(size) != 0 {
		return nil, ErrBadAddress
	}

	as.mu.RLock()

	as.state.Lock()
	r, ok := as.regionFor(addr, size)
	p := as.pages[addr&^(PageSize-1)]
	as.state.Unlock()

	switch {
	case !ok || p == nil:
		as.mu.RUnlock()
		return nil, ErrBadAddress
	case !r.writable:
		as.mu.RUnlock()
		return nil, ErrReadOnly
	}

	p.mu.Lock()
	resident := p.resident
	p.mu.Unlock()

	if !resident {
		as.mu.RUnlock()
		return nil, ErrNotResident
	}

	return &PinnedWord{as: as, p: p, off: int(addr & (PageSize - 1))}, nil
}

// SetBit sets the given bit of the pinned word.
func (w *PinnedWord) SetBit(bit uint32) {
	w.p.mu.Lock()
	w.p.data[w.off+int(bit/8)] |= 1 << (bit % 8)
	w.p.mu.Unlock()
}

// ClearBit clears the given bit of the pinned word.
func (w *PinnedWord) ClearBit(bit uint32) {
	w.p.mu.Lock()
	w.p.data[w.off+int(bit/8)] &^= 1 << (bit % 8)
	w.p.mu.Unlock()
}

// Unpin releases the pin, optionally marking the page dirty.
func (w *PinnedWord) Unpin(dirty bool) {
	if dirty {
		w.p.mu.Lock()
		w.p.dirty = true
		w.p.mu.Unlock()
	}
	w.as.mu.RUnlock()
}

// ReadWord reads the little-endian word of the given size at addr.
// The page must be resident.
func (as *AddressSpace) ReadWord(addr uint64, size int) (uint64, error) {
	if (size != 4 && size != 8) || addr%uint64(size) != 0 {
		return 0, ErrBadAddress
	}

	as.state.Lock()
	_, ok := as.regionFor(addr, size)
	p := as.pages[addr&^(PageSize-1)]
	as.state.Unlock()

	if !ok || p == nil {
		return 0, ErrBadAddress
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.resident {
		return 0, ErrNotResident
	}

	off := int(addr & (PageSize - 1))
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(p.data[off:])), nil
	}
	return binary.LittleEndian.Uint64(p.data[off:]), nil
}

// TestBit reports whether the given bit of the word at addr is set.
func (as *AddressSpace) TestBit(addr uint64, size int, bit uint32) (bool, error) {
	word, err := as.ReadWord(addr, size)
	if err != nil {
		return false, err
	}
	return word&(1<<bit) != 0, nil
}

// DrainWriters waits for every in-flight pin and fault-in to finish.
// Called during address space teardown so the final release cannot
// race a bit write.
func (as *AddressSpace) DrainWriters() {
	as.mu.Lock()
	as.mu.Unlock() //nolint:staticcheck // the empty critical section is the drain
}
