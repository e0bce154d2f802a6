/*
Package uevents implements a dynamic event registry: writers define
named, schema-typed events at runtime, consumers attach to them, and
each writer learns whether anyone is listening through a single bit
mirrored into its own address space.

# Overview

A Registry holds the process-wide event table. Writers open a Handle
bound to a Task (an address space participant) and register events
with a textual command such as:

	login char[16] user;u32 uid

Registration parses the field schema, creates or rebinds to the named
event, and links an enabler: an (address, bit) site in the writer's
address space that the registry keeps in sync with the event's
consumer status. The writer polls that bit with a plain load and only
pays the cost of emitting when it is set.

# Basic Usage

	reg, err := uevents.New(uevents.WithLogger(slog.Default()))
	if err != nil {
	    log.Fatal(err)
	}
	defer reg.Close()

	as := addrspace.New()
	as.Map(0x1000, addrspace.PageSize)

	task := uevents.NewTask(as)
	h, err := reg.Open(task)
	if err != nil {
	    log.Fatal(err)
	}
	defer h.Close()

	idx, err := h.Register(ctx, uevents.RegisterRequest{
	    Command:    "login char[16] user;u32 uid",
	    EnableAddr: 0x1000,
	    EnableSize: 4,
	    EnableBit:  0,
	})

	// Attach a consumer; the enable bit flips on.
	sink := backend.NewMemoryBackend(backend.KindTrace)
	reg.Attach(ctx, "login", sink)

	// Emit. Payload layout follows the registered schema.
	err = h.WriteIndexed(ctx, idx, payload)

# Enablement and Faults

Enable bits live in simulated address spaces (package addrspace) whose
pages can be non-resident. A status change that hits a non-resident
page queues a background fault job instead of blocking the caller; the
bit converges once the page is faulted in. Registration likewise
succeeds with a queued fault when the enable page is not resident, and
fails only when the address is permanently unwritable.

# Lifecycle

Events are reference counted. The registry holds one reference; each
handle index and each enabler holds another. Delete succeeds only when
the registry's reference is the last one, otherwise it reports
ErrBusy. Forked tasks duplicate their parent's enablers; the last task
to exit an address space drains in-flight bit writers and tears the
remaining enablers down asynchronously.
*/
package uevents
