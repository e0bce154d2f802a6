package uevents

import (
	"errors"
	"fmt"
)

// Sentinel errors for registration.
var (
	// ErrInvalidSchema indicates a malformed registration command.
	ErrInvalidSchema = errors.New("invalid event schema")

	// ErrCapacityExceeded indicates the live-event cap was reached.
	ErrCapacityExceeded = errors.New("event capacity exceeded")

	// ErrBackendRejected indicates the declaration surface refused the event.
	ErrBackendRejected = errors.New("backend rejected event")

	// ErrFlagsUnsupported indicates a non-zero registration flag word.
	ErrFlagsUnsupported = errors.New("registration flags unsupported")

	// ErrInvalidEnableSize indicates an enable word size other than 4 or 8.
	ErrInvalidEnableSize = errors.New("enable size must be 4 or 8 bytes")

	// ErrMisalignedAddress indicates an enable address not naturally aligned.
	ErrMisalignedAddress = errors.New("enable address not naturally aligned")

	// ErrInvalidEnableBit indicates a bit index outside the enable word.
	ErrInvalidEnableBit = errors.New("enable bit out of range")
)

// Sentinel errors for event lifecycle.
var (
	// ErrNotFound indicates the named event, enabler, or index doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrBusy indicates the event still has holders besides the registry,
	// or the enabler has a fault or free in flight.
	ErrBusy = errors.New("busy")

	// ErrRegistryClosed indicates the registry has been closed.
	ErrRegistryClosed = errors.New("registry closed")

	// ErrHandleClosed indicates the handle has been closed.
	ErrHandleClosed = errors.New("handle closed")
)

// Sentinel errors for enablement-bit writes.
var (
	// ErrGone indicates the target address space is exiting.
	ErrGone = errors.New("address space exiting")

	// ErrUnwritable indicates a permanent fault on the enable address.
	ErrUnwritable = errors.New("enable address not writable")

	// ErrUnresident indicates the target page was not resident; the bit
	// value is stale until a queued fault resolves.
	ErrUnresident = errors.New("enable page not resident")
)

// Sentinel errors for emit.
var (
	// ErrTooShort indicates a payload below the event's minimum size.
	ErrTooShort = errors.New("payload shorter than event minimum")

	// ErrFaulted indicates the record was discarded by payload validation.
	ErrFaulted = errors.New("record discarded")
)

// SchemaError wraps a command parse failure.
type SchemaError struct {
	// Command is the registration command that failed to parse.
	Command string
	// Err is the underlying parse error.
	Err error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("parse %q: %v", e.Command, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// Is reports ErrInvalidSchema so callers can match the taxonomy.
func (e *SchemaError) Is(target error) bool {
	return target == ErrInvalidSchema
}

// BackendError wraps a declaration-surface failure during registration.
type BackendError struct {
	// Event is the event being declared.
	Event string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("declare event %s: %v", e.Event, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is reports ErrBackendRejected so callers can match the taxonomy.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackendRejected
}
