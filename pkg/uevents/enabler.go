package uevents

import "sync/atomic"

// Enabler value word layout. The low six bits hold the bit index;
// the top two bits coordinate fault resolution with destruction.
const (
	enableValBitMask  uint32 = 0x3F
	enableValFaulting uint32 = 1 << 6
	enableValFreeing  uint32 = 1 << 7

	// enableValDupMask selects what survives a fork duplication.
	enableValDupMask = enableValBitMask
)

// Enabler binds one (address, bit) site inside one address space to an
// event's attachment status. It holds a reference on its event for its
// entire lifetime.
type Enabler struct {
	event *Event
	addr  uint64
	size  int

	values atomic.Uint32
}

func newEnabler(ev *Event, addr uint64, size int, bit uint32) *Enabler {
	en := &Enabler{event: ev, addr: addr, size: size}
	en.values.Store(bit & enableValBitMask)
	return en
}

// Event returns the bound event.
func (en *Enabler) Event() *Event { return en.event }

// Addr returns the enable word address.
func (en *Enabler) Addr() uint64 { return en.addr }

// Bit returns the bit index within the enable word.
func (en *Enabler) Bit() uint32 { return en.values.Load() & enableValBitMask }

func (en *Enabler) faulting() bool {
	return en.values.Load()&enableValFaulting != 0
}

func (en *Enabler) setFaulting() {
	en.values.Or(enableValFaulting)
}

func (en *Enabler) clearFaulting() {
	en.values.And(^enableValFaulting)
}

func (en *Enabler) freeing() bool {
	return en.values.Load()&enableValFreeing != 0
}

func (en *Enabler) setFreeing() {
	en.values.Or(enableValFreeing)
}
