package cave

import (
	"fmt"
	"sync"
	"time"

	"github.com/joshuapare/cavekit/internal/format"
)

// lockPollInterval is how long an appender sleeps between reads while the
// in-buffer lock flag is held by another module.
const lockPollInterval = time.Millisecond

// bufferLocks maps buffer start addresses to the mutex shared by every
// handle to that buffer within this module. Language-level mutexes cannot
// span independently-loaded modules, so this only serializes local
// threads; cross-module exclusion rides on the header's state flag.
var bufferLocks = struct {
	mu sync.Mutex
	m  map[uint64]*sync.Mutex
}{m: make(map[uint64]*sync.Mutex)}

func lockFor(base uint64) *sync.Mutex {
	bufferLocks.mu.Lock()
	defer bufferLocks.mu.Unlock()
	l, ok := bufferLocks.m[base]
	if !ok {
		l = &sync.Mutex{}
		bufferLocks.m[base] = l
	}
	return l
}

// Buffer is a handle to a magic-tagged bump buffer in a target address
// space. The buffer itself lives in the target process:
//
//	base                    magic tag (16 bytes)
//	base + 16               header record (32 bytes)
//	base + 48               payload
//	base + total - 1        last payload byte
//
// Handles are cheap; any number may refer to the same buffer, in this
// module or others. All mutation goes through Append, which honors the
// header's lock flag.
type Buffer struct {
	t     Target
	base  uint64
	total uint64

	mu          *sync.Mutex
	lockTimeout time.Duration // 0 means wait forever
}

// NewBuffer lays a fresh buffer over [addr, addr+total). Unless
// preAllocated is set it first commits the region; a commit refusal (for
// example a lost race with another allocator) surfaces as a wrapped OS
// error. It then writes the magic tag and an empty header.
func NewBuffer(t Target, addr, total uint64, preAllocated bool) (*Buffer, error) {
	if total < format.Overhead+1 {
		return nil, ErrBadSize
	}
	if !preAllocated {
		if err := t.Commit(addr, total); err != nil {
			return nil, fmt.Errorf("cave: commit %d bytes at %#x: %w", total, addr, err)
		}
	}
	if err := t.WriteAt(addr, format.Magic); err != nil {
		return nil, fmt.Errorf("cave: write magic at %#x: %w", addr, err)
	}
	b := &Buffer{t: t, base: addr, total: total, mu: lockFor(addr)}
	h := Header{
		DataPtr:   addr + format.Overhead,
		Size:      total - format.Overhead,
		Offset:    0,
		State:     StateUnlocked,
		Alignment: format.DefaultAlignment,
	}
	if err := b.writeHeader(h); err != nil {
		return nil, err
	}
	return b, nil
}

// FromAddress reconstructs a handle for the buffer starting at addr. It
// returns ErrNotBuffer when the leading bytes do not carry the magic.
// Source errors while probing are treated the same way: scanning
// legitimately hits unreadable regions, and "could not read" and "not a
// buffer" are indistinguishable to a prober.
func FromAddress(t Target, addr uint64) (*Buffer, error) {
	tag := make([]byte, format.MagicSize)
	if err := t.ReadAt(addr, tag); err != nil {
		return nil, ErrNotBuffer
	}
	if !format.CheckMagic(tag) {
		return nil, ErrNotBuffer
	}
	b := &Buffer{t: t, base: addr, mu: lockFor(addr)}
	h, err := b.readHeader()
	if err != nil {
		return nil, ErrNotBuffer
	}
	b.total = h.Size + format.Overhead
	return b, nil
}

// IsBuffer reports whether a buffer starts at addr.
func IsBuffer(t Target, addr uint64) bool {
	_, err := FromAddress(t, addr)
	return err == nil
}

// Base returns the buffer's start address.
func (b *Buffer) Base() uint64 { return b.base }

// TotalSize returns the committed size including the prologue.
func (b *Buffer) TotalSize() uint64 { return b.total }

// Range returns the address interval [base, base+total).
func (b *Buffer) Range() Range {
	return Range{Start: b.base, End: b.base + b.total}
}

// SetLockTimeout bounds the spin-wait on the in-buffer lock flag. After d
// of contention Append fails with ErrLockContention. Zero restores the
// default unbounded wait.
func (b *Buffer) SetLockTimeout(d time.Duration) { b.lockTimeout = d }

// Header returns a point-in-time snapshot of the buffer's header.
func (b *Buffer) Header() (Header, error) {
	return b.readHeader()
}

// CanFit reports whether n more bytes currently fit. The answer may be
// stale by the time an append runs; Append re-checks under the lock.
func (b *Buffer) CanFit(n uint64) bool {
	h, err := b.readHeader()
	return err == nil && h.CanFit(n)
}

// Append writes p at the buffer's write pointer and returns the address
// the bytes landed at. The write pointer then advances and re-aligns to
// the buffer's current alignment, so consecutive appends return distinct
// aligned addresses. Returns ErrNoSpace when p does not fit.
func (b *Buffer) Append(p []byte) (uint64, error) {
	return b.append(p, 0)
}

// AppendAligned is Append with an alignment override: the buffer's
// alignment is set to align before the post-write re-align, and persists
// for subsequent appends. align must be a power of two; 1 packs appends
// byte-tight.
func (b *Buffer) AppendAligned(p []byte, align uint32) (uint64, error) {
	if align == 0 || align&(align-1) != 0 {
		return 0, fmt.Errorf("cave: alignment %d is not a power of two", align)
	}
	return b.append(p, align)
}

func (b *Buffer) append(p []byte, align uint32) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, err := b.acquireFlag()
	if err != nil {
		return 0, err
	}
	// The flag is ours now; every exit below must clear it.

	if align != 0 {
		h.Alignment = align
	}
	if !h.CanFit(uint64(len(p))) {
		h.Unlock()
		if werr := b.writeHeader(h); werr != nil {
			return 0, werr
		}
		return 0, ErrNoSpace
	}

	addr := h.WritePtr()
	if err := b.t.WriteAt(addr, p); err != nil {
		h.Unlock()
		// Clear the flag; the caller gets the write failure.
		_ = b.writeHeader(h)
		return 0, fmt.Errorf("cave: append write at %#x: %w", addr, err)
	}

	h.Offset += uint64(len(p))
	h.AlignOffset()
	h.Unlock()
	if err := b.writeHeader(h); err != nil {
		return 0, err
	}
	return addr, nil
}

// acquireFlag spins until the header's state flag is unlocked, then flips
// it to locked and writes the record back. The flag is advisory between
// cooperating modules: the holder is trusted to be writing a bounded
// number of bytes, so the default wait is unbounded.
func (b *Buffer) acquireFlag() (Header, error) {
	var deadline time.Time
	if b.lockTimeout > 0 {
		deadline = time.Now().Add(b.lockTimeout)
	}
	for {
		h, err := b.readHeader()
		if err != nil {
			return Header{}, err
		}
		if h.State == StateUnlocked {
			h.Lock()
			if err := b.writeHeader(h); err != nil {
				return Header{}, err
			}
			return h, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return Header{}, ErrLockContention
		}
		time.Sleep(lockPollInterval)
	}
}

func (b *Buffer) headerAddr() uint64 {
	return b.base + format.MagicSize
}

func (b *Buffer) readHeader() (Header, error) {
	raw := make([]byte, format.HeaderSize)
	if err := b.t.ReadAt(b.headerAddr(), raw); err != nil {
		return Header{}, fmt.Errorf("cave: read header at %#x: %w", b.headerAddr(), err)
	}
	w, err := format.ParseHeader(raw)
	if err != nil {
		return Header{}, err
	}
	return headerFromWire(w), nil
}

func (b *Buffer) writeHeader(h Header) error {
	raw := make([]byte, format.HeaderSize)
	if err := format.PutHeader(raw, headerToWire(h)); err != nil {
		return err
	}
	if err := b.t.WriteAt(b.headerAddr(), raw); err != nil {
		return fmt.Errorf("cave: write header at %#x: %w", b.headerAddr(), err)
	}
	return nil
}
