// Package cave provides range-constrained buffers in a process's virtual
// address space, discoverable by any cooperating module in that process.
//
// # Overview
//
// Runtime code patching frequently needs small allocations (jump
// trampolines, detour thunks, data blobs) within ±2 GiB of a target
// instruction so that relative displacements fit in a 32-bit field.
// General-purpose allocators give no such guarantee. This package scans
// the target's address-space page map, commits a region whose entire
// extent lies inside a caller-supplied address window, and exposes it as a
// small bump allocator. Every buffer starts with a fixed magic tag
// followed by a bookkeeping header, so independently-loaded modules (which
// share no language-level runtime state) can find existing buffers by
// scanning committed regions and append to them safely.
//
// # Buffer layout
//
// A buffer committed at address A occupies [A, A+total):
//
//	[magic 16B] [header 32B] [payload ...]
//
// A is aligned to the system allocation granularity (64 KiB on Windows),
// total is a multiple of the page size, and the region never straddles two
// OS allocations. Buffers persist until the process exits; there is no
// deallocation, growth, or freelisting.
//
// # Key types
//
//   - Target: an address space (this process or another) exposing page
//     enumeration, commit, and read/write
//   - Buffer: a handle over one placed buffer; Append bumps the write
//     pointer under the cross-module lock discipline
//   - Header: snapshot of the in-memory bookkeeping record
//   - Helper: façade that finds an existing buffer meeting constraints or
//     creates one, with retry on commit races and a discovery cache
//
// # Usage
//
//	target, err := winmem.Current()
//	if err != nil {
//	    return err
//	}
//	h := cave.NewHelper(target)
//	b, err := h.CreateBufferIn(256, cave.Range{Start: lo, End: hi})
//	if err != nil {
//	    return err
//	}
//	addr, err := b.Append(thunk)
//
// # Cross-module locking
//
// The header's state flag is a cooperative mutex embedded in the guarded
// data itself. Appenders take an intra-module mutex, then spin (1 ms
// sleeps) until the flag is clear, set it, write, and clear it again. The
// flag is advisory: it works because all participants honor the same magic
// and header protocol. Every append exit path clears the flag, successful
// or not.
//
// The OS-specific primitives live in the winmem package; tests run against
// the simulated address space in internal/memtest.
package cave
