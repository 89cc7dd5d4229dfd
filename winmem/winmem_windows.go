//go:build windows

package winmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/joshuapare/cavekit/cave"
)

var (
	kernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procGetSystemInfo = kernel32.NewProc("GetSystemInfo")
)

// systemInfo mirrors the Win32 SYSTEM_INFO structure.
type systemInfo struct {
	processorArchitecture     uint16
	reserved                  uint16
	pageSize                  uint32
	minimumApplicationAddress uintptr
	maximumApplicationAddress uintptr
	activeProcessorMask       uintptr
	numberOfProcessors        uint32
	processorType             uint32
	allocationGranularity     uint32
	processorLevel            uint16
	processorRevision         uint16
}

func getSystemInfo() systemInfo {
	var si systemInfo
	// GetSystemInfo cannot fail.
	_, _, _ = procGetSystemInfo.Call(uintptr(unsafe.Pointer(&si)))
	return si
}

// Process is a cave.Target over a Windows process handle.
type Process struct {
	handle windows.Handle
	pid    uint32
	owned  bool // handle came from OpenProcess and must be closed
	info   cave.SystemInfo
	top    uint64 // highest enumerable address
}

// Current returns a target for this process, backed by the pseudo-handle.
func Current() (*Process, error) {
	return newProcess(windows.CurrentProcess(), windows.GetCurrentProcessId(), false), nil
}

// Open returns a target for the process with the given PID. The handle is
// opened with query, VM read/write, and VM operation rights; Close
// releases it.
func Open(pid uint32) (*Process, error) {
	const access = windows.PROCESS_QUERY_INFORMATION |
		windows.PROCESS_VM_READ |
		windows.PROCESS_VM_WRITE |
		windows.PROCESS_VM_OPERATION
	h, err := windows.OpenProcess(access, false, pid)
	if err != nil {
		return nil, fmt.Errorf("winmem: open process %d: %w", pid, err)
	}
	return newProcess(h, pid, true), nil
}

func newProcess(h windows.Handle, pid uint32, owned bool) *Process {
	si := getSystemInfo()
	return &Process{
		handle: h,
		pid:    pid,
		owned:  owned,
		info: cave.SystemInfo{
			PageSize:              uint64(si.pageSize),
			AllocationGranularity: uint64(si.allocationGranularity),
		},
		top: uint64(si.maximumApplicationAddress),
	}
}

// PID returns the target's process ID.
func (p *Process) PID() uint32 { return p.pid }

// Close releases the process handle when it was opened by Open. Targets
// from Current hold the pseudo-handle and need no cleanup.
func (p *Process) Close() error {
	if !p.owned {
		return nil
	}
	return windows.CloseHandle(p.handle)
}

// Info implements cave.Target.
func (p *Process) Info() cave.SystemInfo { return p.info }

// ReadAt implements cave.MemorySource via ReadProcessMemory. Short reads
// are reported as errors: a caller always wants the whole record or none.
func (p *Process) ReadAt(addr uint64, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	var done uintptr
	err := windows.ReadProcessMemory(p.handle, uintptr(addr), &b[0], uintptr(len(b)), &done)
	if err != nil {
		return fmt.Errorf("winmem: read %d bytes at %#x: %w", len(b), addr, err)
	}
	if done != uintptr(len(b)) {
		return fmt.Errorf("winmem: short read at %#x: %d of %d bytes", addr, done, len(b))
	}
	return nil
}

// WriteAt implements cave.MemorySource via WriteProcessMemory.
func (p *Process) WriteAt(addr uint64, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	var done uintptr
	err := windows.WriteProcessMemory(p.handle, uintptr(addr), &b[0], uintptr(len(b)), &done)
	if err != nil {
		return fmt.Errorf("winmem: write %d bytes at %#x: %w", len(b), addr, err)
	}
	if done != uintptr(len(b)) {
		return fmt.Errorf("winmem: short write at %#x: %d of %d bytes", addr, done, len(b))
	}
	return nil
}

// Commit implements cave.Target. MEM_RESERVE|MEM_COMMIT at an exact base
// fails when the region is already reserved or committed, which is the
// contract placement relies on. Buffers hold code thunks, so the region is
// committed RWX.
func (p *Process) Commit(addr, length uint64) error {
	got, err := windows.VirtualAllocEx(
		p.handle,
		uintptr(addr),
		uintptr(length),
		windows.MEM_RESERVE|windows.MEM_COMMIT,
		windows.PAGE_EXECUTE_READWRITE,
	)
	if err != nil {
		return fmt.Errorf("winmem: VirtualAllocEx %d bytes at %#x: %w", length, addr, err)
	}
	if uint64(got) != addr {
		// The kernel rounded the base somewhere else; treat as a refusal.
		_ = windows.VirtualFreeEx(p.handle, got, 0, windows.MEM_RELEASE)
		return fmt.Errorf("winmem: VirtualAllocEx placed %#x, wanted %#x", got, addr)
	}
	return nil
}

// Pages implements cave.Target: a VirtualQueryEx walk from the bottom of
// the address space to the highest application address. A query failure
// ends the sequence.
func (p *Process) Pages() cave.PageIterator {
	return &pageIter{p: p}
}

type pageIter struct {
	p    *Process
	next uint64
	done bool
}

func (it *pageIter) Next() (cave.PageRecord, bool) {
	if it.done || it.next >= it.p.top {
		it.done = true
		return cave.PageRecord{}, false
	}
	var mbi windows.MemoryBasicInformation
	err := windows.VirtualQueryEx(it.p.handle, uintptr(it.next), &mbi, unsafe.Sizeof(mbi))
	if err != nil {
		it.done = true
		return cave.PageRecord{}, false
	}
	rec := cave.PageRecord{
		Base:    uint64(mbi.BaseAddress),
		Size:    uint64(mbi.RegionSize),
		State:   pageState(mbi.State),
		Protect: mbi.Protect,
	}
	it.next = rec.Base + rec.Size
	if rec.Size == 0 {
		it.done = true
		return cave.PageRecord{}, false
	}
	return rec, true
}

func pageState(state uint32) cave.PageState {
	switch state {
	case windows.MEM_COMMIT:
		return cave.PageCommitted
	case windows.MEM_RESERVE:
		return cave.PageReserved
	default:
		return cave.PageFree
	}
}

var _ cave.Target = (*Process)(nil)
