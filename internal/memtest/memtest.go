// Package memtest simulates a target process address space for tests. A
// Space implements cave.Target over an in-memory region map with
// configurable page size, allocation granularity, and injectable read
// faults, so placement, discovery, and the append protocol can be
// exercised deterministically on any platform.
package memtest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/joshuapare/cavekit/cave"
)

const (
	defaultPageSize    = 0x1000
	defaultGranularity = 0x10000
	defaultLimit       = uint64(1) << 47 // x64 user-mode address space
)

// region is one contiguous stretch of simulated address space.
type region struct {
	base  uint64
	size  uint64
	state cave.PageState
	data  []byte // backing bytes; committed regions only
	dead  bool   // injected fault: committed but unreadable
}

// Space is a simulated address space. The zero value is not usable; call
// New.
type Space struct {
	mu          sync.Mutex
	pageSize    uint64
	granularity uint64
	limit       uint64
	regions     []region // sorted by base, covering [0, limit) with no gaps
}

// SpaceOption configures a Space.
type SpaceOption func(*Space)

// WithPageSize overrides the simulated system page size.
func WithPageSize(n uint64) SpaceOption {
	return func(s *Space) { s.pageSize = n }
}

// WithGranularity overrides the simulated allocation granularity.
func WithGranularity(n uint64) SpaceOption {
	return func(s *Space) { s.granularity = n }
}

// WithLimit overrides the top of the simulated address space.
func WithLimit(n uint64) SpaceOption {
	return func(s *Space) { s.limit = n }
}

// New returns a Space whose entire address space is a single free region.
func New(opts ...SpaceOption) *Space {
	s := &Space{
		pageSize:    defaultPageSize,
		granularity: defaultGranularity,
		limit:       defaultLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.regions = []region{{base: 0, size: s.limit, state: cave.PageFree}}
	return s
}

// Info implements cave.Target.
func (s *Space) Info() cave.SystemInfo {
	return cave.SystemInfo{
		PageSize:              s.pageSize,
		AllocationGranularity: s.granularity,
	}
}

// Pages implements cave.Target. The iterator walks a snapshot of the
// region map taken when Pages is called.
func (s *Space) Pages() cave.PageIterator {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make([]cave.PageRecord, len(s.regions))
	for i, r := range s.regions {
		snap[i] = cave.PageRecord{Base: r.base, Size: r.size, State: r.state}
	}
	return &pageIter{records: snap}
}

type pageIter struct {
	records []cave.PageRecord
	next    int
}

func (it *pageIter) Next() (cave.PageRecord, bool) {
	if it.next >= len(it.records) {
		return cave.PageRecord{}, false
	}
	rec := it.records[it.next]
	it.next++
	return rec, true
}

// Commit implements cave.Target: it commits length bytes at exactly addr,
// failing when [addr, addr+length) is not inside a single free region.
func (s *Space) Commit(addr, length uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carve(addr, length, cave.PageCommitted)
}

// Reserve marks [addr, addr+length) reserved. Tests use it to shape the
// address space before a scan.
func (s *Space) Reserve(addr, length uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carve(addr, length, cave.PageReserved)
}

// carve splits the free region containing [addr, addr+length) into
// free/target/free. Callers hold s.mu.
func (s *Space) carve(addr, length uint64, state cave.PageState) error {
	if length == 0 {
		return fmt.Errorf("memtest: zero-length carve at %#x", addr)
	}
	end := addr + length
	if end < addr || end > s.limit {
		return fmt.Errorf("memtest: carve [%#x, %#x) outside address space", addr, end)
	}
	i := s.regionIndex(addr)
	r := s.regions[i]
	if r.state != cave.PageFree || end > r.base+r.size {
		return fmt.Errorf("memtest: region at %#x is not free for [%#x, %#x)", r.base, addr, end)
	}

	carved := region{base: addr, size: length, state: state}
	if state == cave.PageCommitted {
		carved.data = make([]byte, length)
	}

	var repl []region
	if addr > r.base {
		repl = append(repl, region{base: r.base, size: addr - r.base, state: cave.PageFree})
	}
	repl = append(repl, carved)
	if end < r.base+r.size {
		repl = append(repl, region{base: end, size: r.base + r.size - end, state: cave.PageFree})
	}

	s.regions = append(s.regions[:i], append(repl, s.regions[i+1:]...)...)
	return nil
}

// regionIndex returns the index of the region containing addr. Callers
// hold s.mu and pass addr below s.limit; the map covers [0, limit) so a
// region then always exists.
func (s *Space) regionIndex(addr uint64) int {
	return sort.Search(len(s.regions), func(i int) bool {
		return s.regions[i].base+s.regions[i].size > addr
	})
}

// ReadAt implements cave.MemorySource. Reads from free, reserved, or
// fault-injected regions fail, as they would against a real process.
func (s *Space) ReadAt(addr uint64, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, off, err := s.committedAt(addr, uint64(len(p)), "read")
	if err != nil {
		return err
	}
	copy(p, r.data[off:off+uint64(len(p))])
	return nil
}

// WriteAt implements cave.MemorySource.
func (s *Space) WriteAt(addr uint64, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, off, err := s.committedAt(addr, uint64(len(p)), "write")
	if err != nil {
		return err
	}
	copy(r.data[off:off+uint64(len(p))], p)
	return nil
}

// committedAt locates the committed region holding [addr, addr+n).
// Callers hold s.mu.
func (s *Space) committedAt(addr, n uint64, op string) (*region, uint64, error) {
	if n == 0 {
		return nil, 0, fmt.Errorf("memtest: empty %s at %#x", op, addr)
	}
	if addr >= s.limit || addr+n < addr {
		return nil, 0, fmt.Errorf("memtest: %s at %#x: outside address space", op, addr)
	}
	i := s.regionIndex(addr)
	r := &s.regions[i]
	if r.state != cave.PageCommitted || r.dead {
		return nil, 0, fmt.Errorf("memtest: %s at %#x: page not accessible", op, addr)
	}
	if addr+n > r.base+r.size {
		return nil, 0, fmt.Errorf("memtest: %s of %d bytes at %#x crosses region end", op, n, addr)
	}
	return r, addr - r.base, nil
}

// FailReadsAt marks the committed region containing addr as unreadable,
// simulating a page a prober cannot touch.
func (s *Space) FailReadsAt(addr uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.regionIndex(addr)
	if s.regions[i].state == cave.PageCommitted {
		s.regions[i].dead = true
	}
}

// Bytes returns a copy of n bytes at addr, bypassing fault injection.
// Tests use it to assert on raw buffer contents.
func (s *Space) Bytes(addr, n uint64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.regionIndex(addr)
	r := s.regions[i]
	if r.state != cave.PageCommitted || addr+n > r.base+r.size {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[addr-r.base:addr-r.base+n])
	return out
}

var _ cave.Target = (*Space)(nil)
