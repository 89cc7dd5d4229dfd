// Package format houses the binary layout of the buffer prologue: the magic
// tag and the header record written at the start of every allocated buffer.
// The goal is to keep the encoding focused and independent from the public
// API so higher-level packages can orchestrate the data in a more ergonomic
// form.
package format

var (
	// Magic is the byte pattern at the start of every buffer. It is a fixed
	// build-time constant so that independently-loaded modules agree on it;
	// the value is random enough that it will not occur incidentally in
	// uninitialized or code memory.
	// Layout:
	//   0x00  16 opaque bytes
	Magic = []byte{
		0xD1, 0x63, 0x8F, 0x2A, 0x9C, 0x41, 0xE5, 0x07,
		0xB8, 0x5D, 0x30, 0xF4, 0x6B, 0x92, 0xC7, 0x1E,
	}
)

const (
	// MagicSize is the length of the magic tag in bytes.
	MagicSize = 16

	// HeaderSize is the size of the encoded header record in bytes.
	HeaderSize = 0x20

	// Overhead is the number of bytes consumed by magic plus header before
	// the first payload byte.
	Overhead = MagicSize + HeaderSize

	// Header field offsets, relative to the start of the header record.
	// All fields are little-endian.
	HeaderDataPtrOffset   = 0x00 // 8 bytes
	HeaderSizeOffset      = 0x08 // 8 bytes
	HeaderUsedOffset      = 0x10 // 8 bytes
	HeaderStateOffset     = 0x18 // 4 bytes
	HeaderAlignmentOffset = 0x1C // 4 bytes

	// StateUnlocked and StateLocked are the values of the header state field.
	StateUnlocked = 0
	StateLocked   = 1

	// DefaultAlignment is the payload alignment a fresh buffer starts with.
	DefaultAlignment = 4

	// DefaultPageSize is the minimum effective page size used when rounding
	// buffer sizes, regardless of what the system reports.
	DefaultPageSize = 0x1000

	// DefaultGranularity is the allocation granularity assumed when the
	// system reports none (64 KiB on Windows x86/x64).
	DefaultGranularity = 0x10000
)
