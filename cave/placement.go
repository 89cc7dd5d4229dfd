package cave

import "github.com/joshuapare/cavekit/internal/format"

// FindLocation scans the target's page map for a committable region that
// can hold payload bytes plus the buffer prologue, entirely inside window.
// It returns the region's start address and total size. The start is
// aligned to the allocation granularity, the total size is a multiple of
// the effective page size, and the whole region lies inside a single free
// page record at scan time.
//
// The scan is a point-in-time snapshot: another allocator may take the
// region between this call and the commit. Callers handle that by retrying
// (see Helper.CreateBufferIn).
func FindLocation(t Target, payload uint64, window Range) (addr, total uint64, err error) {
	total = placementSize(t.Info(), payload)
	gran := granularity(t.Info())

	it := t.Pages()
	for rec, ok := it.Next(); ok; rec, ok = it.Next() {
		if rec.State != PageFree {
			continue
		}
		page := rec.Range()
		if !page.Overlaps(window) {
			continue
		}
		for _, start := range candidateStarts(page, window, total, gran) {
			cand := Range{Start: start, End: start + total}
			if cand.End < start {
				// wrapped past the top of the address space
				continue
			}
			if page.Contains(cand) && window.Contains(cand) {
				return start, total, nil
			}
		}
	}
	return 0, 0, ErrNoSuitableRegion
}

// placementSize computes the committed size for a payload: the payload
// plus prologue, rounded up to the effective page size. The effective page
// size is at least format.DefaultPageSize and always a multiple of the
// system page size.
func placementSize(info SystemInfo, payload uint64) uint64 {
	sys := info.PageSize
	if sys == 0 {
		sys = format.DefaultPageSize
	}
	page := uint64(format.DefaultPageSize)
	if page < sys {
		page = sys
	}
	page = format.RoundUp(page, sys)
	return format.RoundUp(payload+format.Overhead, page)
}

func granularity(info SystemInfo) uint64 {
	if info.AllocationGranularity == 0 {
		return format.DefaultGranularity
	}
	return info.AllocationGranularity
}

// candidateStarts generates the four start addresses tried for a free page
// overlapping the window, in priority order:
//
//  1. highest placement anchored to the page end
//  2. lowest placement anchored to the page start
//  3. highest placement anchored to the window end
//  4. lowest placement anchored to the window start
//
// The anchors cover the three ways a page and the window can relate (page
// inside window, window inside page, partial overlap): within any
// granularity-aligned free stretch large enough for total, either the
// leftmost or the rightmost aligned slot is among them. Rounding may push
// an anchor outside the page or the window, so callers must re-check both
// containments.
func candidateStarts(page, window Range, total, gran uint64) [4]uint64 {
	var c [4]uint64
	if page.End >= total {
		c[0] = format.RoundDown(page.End-total, gran)
	}
	c[1] = format.RoundUp(page.Start, gran)
	if window.End >= total {
		c[2] = format.RoundDown(window.End-total, gran)
	}
	c[3] = format.RoundUp(window.Start, gran)
	return c
}
