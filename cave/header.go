package cave

import "github.com/joshuapare/cavekit/internal/format"

// Header state values, mirroring the wire encoding.
const (
	StateUnlocked = format.StateUnlocked
	StateLocked   = format.StateLocked
)

// Header is a snapshot of a buffer's bookkeeping record. It lives in the
// target process at a fixed offset inside the buffer (see internal/format
// for the wire layout) and is always read and written as a whole record
// through the MemorySource, because the buffer may reside in another
// process.
type Header struct {
	// DataPtr is the absolute address of the first payload byte.
	DataPtr uint64
	// Size is the total number of payload bytes.
	Size uint64
	// Offset is the number of payload bytes already used.
	Offset uint64
	// State is StateUnlocked or StateLocked. The flag is the cooperative
	// inter-module mutex: participants spin on it before mutating the
	// record or the payload.
	State uint32
	// Alignment is the required alignment of the next write, >= 1.
	Alignment uint32
}

// WritePtr returns the address the next append will write to.
func (h Header) WritePtr() uint64 {
	return h.DataPtr + h.Offset
}

// Remaining returns the number of unused payload bytes.
func (h Header) Remaining() uint64 {
	return h.Size - h.Offset
}

// CanFit reports whether n more bytes fit in the payload region.
func (h Header) CanFit(n uint64) bool {
	return h.Remaining() >= n
}

// Lock sets the state flag to locked.
func (h *Header) Lock() {
	h.State = StateLocked
}

// Unlock sets the state flag to unlocked.
func (h *Header) Unlock() {
	h.State = StateUnlocked
}

// AlignOffset rounds Offset up to the next multiple of Alignment, capped
// at Size.
func (h *Header) AlignOffset() {
	h.Offset = format.RoundUp(h.Offset, uint64(h.Alignment))
	if h.Offset > h.Size {
		h.Offset = h.Size
	}
}

// wire conversions between the snapshot and the encoded record.

func headerFromWire(w format.Header) Header {
	return Header{
		DataPtr:   w.DataPtr,
		Size:      w.Size,
		Offset:    w.Offset,
		State:     w.State,
		Alignment: w.Alignment,
	}
}

func headerToWire(h Header) format.Header {
	return format.Header{
		DataPtr:   h.DataPtr,
		Size:      h.Size,
		Offset:    h.Offset,
		State:     h.State,
		Alignment: h.Alignment,
	}
}
