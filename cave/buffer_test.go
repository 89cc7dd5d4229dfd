package cave_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/cavekit/cave"
	"github.com/joshuapare/cavekit/internal/format"
	"github.com/joshuapare/cavekit/internal/memtest"
)

// newTestBuffer places and creates a buffer through the real machinery.
func newTestBuffer(t *testing.T, s *memtest.Space, payload uint64) *cave.Buffer {
	t.Helper()
	addr, total, err := cave.FindLocation(s, payload, cave.FullRange)
	require.NoError(t, err)
	b, err := cave.NewBuffer(s, addr, total, false)
	require.NoError(t, err)
	return b
}

func TestNewBuffer_WritesPrologue(t *testing.T) {
	s := newSpace(t)
	b := newTestBuffer(t, s, 256)

	raw := s.Bytes(b.Base(), format.MagicSize)
	assert.Equal(t, format.Magic, raw, "magic tag at buffer start")

	h, err := b.Header()
	require.NoError(t, err)
	assert.Equal(t, b.Base()+format.Overhead, h.DataPtr)
	assert.Equal(t, b.TotalSize()-format.Overhead, h.Size)
	assert.Zero(t, h.Offset)
	assert.Equal(t, uint32(cave.StateUnlocked), h.State)
	assert.Equal(t, uint32(format.DefaultAlignment), h.Alignment)
}

func TestNewBuffer_CommitRace(t *testing.T) {
	s := newSpace(t)

	addr, total, err := cave.FindLocation(s, 64, cave.FullRange)
	require.NoError(t, err)

	// Someone else grabs the region between placement and commit.
	require.NoError(t, s.Commit(addr, total))

	_, err = cave.NewBuffer(s, addr, total, false)
	require.Error(t, err)
}

func TestNewBuffer_PreAllocated(t *testing.T) {
	s := newSpace(t)

	require.NoError(t, s.Commit(0x100000, 0x1000))
	b, err := cave.NewBuffer(s, 0x100000, 0x1000, true)
	require.NoError(t, err)
	assert.True(t, cave.IsBuffer(s, b.Base()))
}

func TestNewBuffer_TooSmall(t *testing.T) {
	s := newSpace(t)
	_, err := cave.NewBuffer(s, 0x100000, format.Overhead, false)
	require.ErrorIs(t, err, cave.ErrBadSize)
}

func TestAppend_Basic(t *testing.T) {
	s := newSpace(t)
	b := newTestBuffer(t, s, 256)

	payload := []byte{0xAA, 0xBB, 0xCC}
	addr, err := b.Append(payload)
	require.NoError(t, err)

	h, err := b.Header()
	require.NoError(t, err)
	assert.Equal(t, h.DataPtr, addr, "first append lands at the payload start")
	assert.Equal(t, uint64(4), h.Offset, "offset re-aligns to 4 after a 3-byte append")
	assert.Equal(t, uint32(cave.StateUnlocked), h.State)

	assert.Equal(t, payload, s.Bytes(addr, 3))
}

func TestAppend_Sequence(t *testing.T) {
	s := newSpace(t)
	b := newTestBuffer(t, s, 4096)

	blobs := [][]byte{
		{0x01},
		{0x02, 0x03},
		{0x04, 0x05, 0x06, 0x07, 0x08},
		{0x09},
	}
	var prev uint64
	var wantOffset uint64
	start, err := b.Header()
	require.NoError(t, err)

	for i, blob := range blobs {
		addr, err := b.Append(blob)
		require.NoError(t, err, "append %d", i)
		if i > 0 {
			assert.Greater(t, addr, prev, "append addresses are strictly increasing")
		}
		prev = addr
		assert.Equal(t, blob, s.Bytes(addr, uint64(len(blob))), "bytes land verbatim")
		wantOffset += format.RoundUp(uint64(len(blob)), format.DefaultAlignment)
	}

	h, err := b.Header()
	require.NoError(t, err)
	assert.Equal(t, wantOffset, h.Offset, "offset is the sum of aligned lengths")
	assert.Equal(t, start.DataPtr, h.DataPtr, "data pointer never moves")
	assert.Equal(t, start.Size, h.Size, "size never changes")
}

func TestAppend_NoSpace(t *testing.T) {
	s := newSpace(t)
	b := newTestBuffer(t, s, 16)

	h, err := b.Header()
	require.NoError(t, err)

	_, err = b.Append(make([]byte, h.Size+1))
	require.ErrorIs(t, err, cave.ErrNoSpace)

	after, err := b.Header()
	require.NoError(t, err)
	assert.Equal(t, h.Offset, after.Offset, "failed append leaves offset unchanged")
	assert.Equal(t, uint32(cave.StateUnlocked), after.State, "failed append leaves the flag clear")

	// The buffer still works afterwards.
	_, err = b.Append([]byte{0x01})
	require.NoError(t, err)
}

func TestAppend_FillsExactly(t *testing.T) {
	s := newSpace(t)
	b := newTestBuffer(t, s, 64)

	h, err := b.Header()
	require.NoError(t, err)

	_, err = b.Append(make([]byte, h.Size))
	require.NoError(t, err, "an append of exactly remaining bytes fits")

	assert.False(t, b.CanFit(1))
	_, err = b.Append([]byte{0x01})
	require.ErrorIs(t, err, cave.ErrNoSpace)
}

func TestAppendAligned(t *testing.T) {
	s := newSpace(t)
	b := newTestBuffer(t, s, 256)

	// Byte-packed appends: alignment 1 keeps blobs adjacent.
	a1, err := b.AppendAligned([]byte{0x01}, 1)
	require.NoError(t, err)
	a2, err := b.AppendAligned([]byte{0x02}, 1)
	require.NoError(t, err)
	assert.Equal(t, a1+1, a2)

	// A 16-byte alignment pushes the next write pointer out.
	_, err = b.AppendAligned([]byte{0x03}, 16)
	require.NoError(t, err)
	h, err := b.Header()
	require.NoError(t, err)
	assert.Zero(t, h.WritePtr()%16)
	assert.Equal(t, uint32(16), h.Alignment, "override persists")

	_, err = b.AppendAligned([]byte{0x04}, 3)
	require.Error(t, err, "alignment must be a power of two")
}

func TestAppend_ForeignLockBlocksUntilCleared(t *testing.T) {
	s := newSpace(t)
	b := newTestBuffer(t, s, 256)

	// Simulate another module holding the in-buffer lock flag.
	lockHeaderFlag(t, s, b, cave.StateLocked)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := b.Append([]byte{0x01, 0x02, 0x03, 0x04})
		assert.NoError(t, err)
	}()

	select {
	case <-done:
		t.Fatal("append completed while the flag was held")
	case <-time.After(20 * time.Millisecond):
	}

	lockHeaderFlag(t, s, b, cave.StateUnlocked)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("append did not resume after the flag cleared")
	}
}

func TestAppend_LockTimeout(t *testing.T) {
	s := newSpace(t)
	b := newTestBuffer(t, s, 256)
	b.SetLockTimeout(20 * time.Millisecond)

	lockHeaderFlag(t, s, b, cave.StateLocked)

	_, err := b.Append([]byte{0x01})
	require.ErrorIs(t, err, cave.ErrLockContention)
}

func TestAppend_WriteFailureClearsFlag(t *testing.T) {
	s := newSpace(t)

	// A pre-allocated buffer that claims more space than is actually
	// committed: the header (fully inside the committed page) reads and
	// writes fine, but a payload write that crosses the region end fails
	// in the source.
	require.NoError(t, s.Commit(0x200000, 0x1000))
	b, err := cave.NewBuffer(s, 0x200000, 0x2000, true)
	require.NoError(t, err)

	_, err = b.Append(make([]byte, 0x1800))
	require.Error(t, err)
	require.NotErrorIs(t, err, cave.ErrNoSpace)

	h, err := b.Header()
	require.NoError(t, err)
	assert.Equal(t, uint32(cave.StateUnlocked), h.State, "source failure still clears the flag")
	assert.Zero(t, h.Offset)
}

func TestFromAddress(t *testing.T) {
	s := newSpace(t)
	b := newTestBuffer(t, s, 256)

	again, err := cave.FromAddress(s, b.Base())
	require.NoError(t, err)
	assert.Equal(t, b.Base(), again.Base())
	assert.Equal(t, b.TotalSize(), again.TotalSize())

	// Appends through either handle observe one shared offset.
	_, err = b.Append([]byte{0x01, 0x02, 0x03, 0x04})
	require.NoError(t, err)
	addr, err := again.Append([]byte{0x05, 0x06, 0x07, 0x08})
	require.NoError(t, err)
	h, err := b.Header()
	require.NoError(t, err)
	assert.Equal(t, h.DataPtr+4, addr)
}

func TestFromAddress_NotABuffer(t *testing.T) {
	s := newSpace(t)

	// Committed region with arbitrary bytes: readable, but no magic.
	require.NoError(t, s.Commit(0x300000, 0x1000))
	require.NoError(t, s.WriteAt(0x300000, []byte{0x4D, 0x5A, 0x90, 0x00}))

	_, err := cave.FromAddress(s, 0x300000)
	require.ErrorIs(t, err, cave.ErrNotBuffer)
	assert.False(t, cave.IsBuffer(s, 0x300000))

	// Free memory: the probe read fails and is swallowed.
	_, err = cave.FromAddress(s, 0x10000)
	require.ErrorIs(t, err, cave.ErrNotBuffer)
}

func TestIsBuffer_CorruptedMagic(t *testing.T) {
	s := newSpace(t)
	b := newTestBuffer(t, s, 64)
	require.True(t, cave.IsBuffer(s, b.Base()))

	// A writer stomps one magic byte; the buffer is no longer discoverable.
	require.NoError(t, s.WriteAt(b.Base(), []byte{0x00}))
	assert.False(t, cave.IsBuffer(s, b.Base()))
}

func TestAppend_Contention(t *testing.T) {
	s := newSpace(t)
	b := newTestBuffer(t, s, 4096)

	const perThread = 100
	patterns := [2]byte{0x11, 0x22}
	addrs := [2][]uint64{}

	var wg sync.WaitGroup
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			blob := make([]byte, 8)
			for j := range blob {
				blob[j] = patterns[i]
			}
			for range perThread {
				addr, err := b.Append(blob)
				assert.NoError(t, err)
				addrs[i] = append(addrs[i], addr)
			}
		}()
	}
	wg.Wait()

	h, err := b.Header()
	require.NoError(t, err)
	assert.Equal(t, uint64(2*perThread*8), h.Offset, "8-byte writes keep alignment, offset is exact")

	// Each thread's ranges hold exactly that thread's bytes, and the two
	// address sets are disjoint.
	seen := make(map[uint64]int)
	for i := range 2 {
		require.Len(t, addrs[i], perThread)
		for _, addr := range addrs[i] {
			_, dup := seen[addr]
			require.False(t, dup, "address %#x returned twice", addr)
			seen[addr] = i
			got := s.Bytes(addr, 8)
			for _, bb := range got {
				assert.Equal(t, patterns[i], bb, "bytes at %#x belong to thread %d", addr, i)
			}
		}
	}
}

// lockHeaderFlag flips the buffer's state flag directly through the
// source, the way a foreign module would.
func lockHeaderFlag(t *testing.T, s *memtest.Space, b *cave.Buffer, state uint32) {
	t.Helper()
	raw := make([]byte, format.HeaderSize)
	require.NoError(t, s.ReadAt(b.Base()+format.MagicSize, raw))
	w, err := format.ParseHeader(raw)
	require.NoError(t, err)
	w.State = state
	require.NoError(t, format.PutHeader(raw, w))
	require.NoError(t, s.WriteAt(b.Base()+format.MagicSize, raw))
}
