// Package winmem implements cave.Target over the Windows virtual-memory
// primitives: VirtualQueryEx for page enumeration, VirtualAllocEx for
// commit, and ReadProcessMemory/WriteProcessMemory for I/O.
//
// Current returns a target for this process and Open one for another
// process by PID. Both use the same process-handle code path, so
// in-process and cross-process callers exercise identical logic; the
// current process simply uses the pseudo-handle. Raw addresses of a
// foreign process are never dereferenced directly.
//
// On non-Windows builds every constructor returns ErrUnsupported; the
// portable test double lives in internal/memtest.
package winmem
