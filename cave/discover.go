package cave

// Scan walks the target's page map and reconstructs a handle for every
// buffer it finds. Buffers always start at a region base: creation commits
// a granularity-aligned address inside a free region, which becomes its
// own allocation, so only committed record bases need probing. Probe
// failures (unreadable regions, foreign allocations) are skipped.
//
// The result is a point-in-time snapshot; buffers created concurrently
// with the walk may be missed.
func Scan(t Target) []*Buffer {
	var found []*Buffer
	it := t.Pages()
	for rec, ok := it.Next(); ok; rec, ok = it.Next() {
		if rec.State != PageCommitted {
			continue
		}
		b, err := FromAddress(t, rec.Base)
		if err != nil {
			continue
		}
		found = append(found, b)
	}
	return found
}

// FilterBuffers keeps the buffers whose payload region lies entirely
// inside window and whose remaining space is at least minFree. Buffers
// whose header can no longer be read are dropped.
func FilterBuffers(bufs []*Buffer, minFree uint64, window Range) []*Buffer {
	var kept []*Buffer
	for _, b := range bufs {
		h, err := b.Header()
		if err != nil {
			continue
		}
		data := Range{Start: h.DataPtr, End: h.DataPtr + h.Size}
		if !window.Contains(data) {
			continue
		}
		if h.Remaining() < minFree {
			continue
		}
		kept = append(kept, b)
	}
	return kept
}
