//go:build !windows

package winmem

import (
	"errors"

	"github.com/joshuapare/cavekit/cave"
)

// ErrUnsupported is returned by every constructor on non-Windows builds.
var ErrUnsupported = errors.New("winmem: requires windows")

// Process is a cave.Target over a Windows process handle. On this platform
// it cannot be constructed.
type Process struct{}

// Current returns ErrUnsupported on this platform.
func Current() (*Process, error) { return nil, ErrUnsupported }

// Open returns ErrUnsupported on this platform.
func Open(pid uint32) (*Process, error) { return nil, ErrUnsupported }

// PID implements the Windows API surface; unreachable off Windows.
func (p *Process) PID() uint32 { return 0 }

// Close implements the Windows API surface; unreachable off Windows.
func (p *Process) Close() error { return nil }

// Info implements cave.Target.
func (p *Process) Info() cave.SystemInfo { return cave.SystemInfo{} }

// ReadAt implements cave.MemorySource.
func (p *Process) ReadAt(addr uint64, b []byte) error { return ErrUnsupported }

// WriteAt implements cave.MemorySource.
func (p *Process) WriteAt(addr uint64, b []byte) error { return ErrUnsupported }

// Commit implements cave.Target.
func (p *Process) Commit(addr, length uint64) error { return ErrUnsupported }

// Pages implements cave.Target.
func (p *Process) Pages() cave.PageIterator { return emptyIter{} }

type emptyIter struct{}

func (emptyIter) Next() (cave.PageRecord, bool) { return cave.PageRecord{}, false }

var _ cave.Target = (*Process)(nil)
