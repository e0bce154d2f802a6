// Package addrspace simulates the paged virtual memory of a
// participating process.
//
// An AddressSpace holds mapped regions of 4 KiB pages, each of which
// is either resident or not. Enablement-bit writers pin the word they
// target with PinWrite, which never blocks on a missing page: it fails
// with ErrNotResident and leaves fault resolution to the caller.
// FaultIn forces a page to become resident and may block.
//
// A reader-writer lock plays the role of the process memory lock:
// PinWrite and FaultIn hold the read side (released by Unpin), and
// DrainWriters acquires the write side once to wait out every
// in-flight writer before the address space is torn down.
package addrspace
