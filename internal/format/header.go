package format

import (
	"bytes"
	"fmt"

	"github.com/joshuapare/cavekit/internal/buf"
)

// Header is the record stored immediately after the magic tag in every
// buffer. The diagram below shows the on-wire offsets.
//
//	Offset  Size  Description
//	------  ----  ----------------------------------------------------------
//	 0x00    8    Absolute address of the first payload byte
//	 0x08    8    Total bytes of payload region
//	 0x10    8    Bytes already used (0 <= used <= size)
//	 0x18    4    State (0 = unlocked, 1 = locked)
//	 0x1C    4    Required payload alignment (>= 1)
//
// All fields are stored in little-endian form.
type Header struct {
	DataPtr   uint64
	Size      uint64
	Offset    uint64
	State     uint32
	Alignment uint32
}

// ParseHeader decodes a header record from b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("buffer header: %w", ErrTruncated)
	}
	return Header{
		DataPtr:   buf.U64LE(b[HeaderDataPtrOffset:]),
		Size:      buf.U64LE(b[HeaderSizeOffset:]),
		Offset:    buf.U64LE(b[HeaderUsedOffset:]),
		State:     buf.U32LE(b[HeaderStateOffset:]),
		Alignment: buf.U32LE(b[HeaderAlignmentOffset:]),
	}, nil
}

// PutHeader encodes h into b.
func PutHeader(b []byte, h Header) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("buffer header: %w", ErrTruncated)
	}
	buf.PutU64LE(b[HeaderDataPtrOffset:], h.DataPtr)
	buf.PutU64LE(b[HeaderSizeOffset:], h.Size)
	buf.PutU64LE(b[HeaderUsedOffset:], h.Offset)
	buf.PutU32LE(b[HeaderStateOffset:], h.State)
	buf.PutU32LE(b[HeaderAlignmentOffset:], h.Alignment)
	return nil
}

// CheckMagic reports whether b begins with the buffer magic.
func CheckMagic(b []byte) bool {
	return len(b) >= MagicSize && bytes.Equal(b[:MagicSize], Magic)
}
