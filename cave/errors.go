package cave

import "errors"

var (
	// ErrNoSuitableRegion indicates placement scanned every free page
	// without finding a committable region inside the requested window.
	ErrNoSuitableRegion = errors.New("cave: no free region satisfies size and window")

	// ErrNoSpace indicates an append larger than the buffer's remaining
	// payload space.
	ErrNoSpace = errors.New("cave: buffer has insufficient free space")

	// ErrNotBuffer indicates the probed address does not start a buffer.
	ErrNotBuffer = errors.New("cave: no buffer at address")

	// ErrLockContention indicates the in-buffer lock flag stayed held past
	// the configured timeout. Only returned when a timeout is set; the
	// default is to wait indefinitely.
	ErrLockContention = errors.New("cave: buffer lock flag held too long")

	// ErrBadSize indicates a buffer size that cannot hold the prologue plus
	// at least one payload byte.
	ErrBadSize = errors.New("cave: buffer too small for magic, header and payload")
)
