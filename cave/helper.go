package cave

import (
	"math"
	"sync"
	"time"
)

// defaultCreateRetries is how many placement+commit attempts CreateBufferIn
// makes before giving up.
const defaultCreateRetries = 3

// FullRange spans the entire 64-bit address space. Passing it as a window
// imposes no placement constraint.
var FullRange = Range{Start: 0, End: math.MaxUint64}

// Helper is the single entry point composing placement, creation, and
// discovery against one target: find an existing buffer meeting the
// caller's constraints, or create one. A Helper is safe for concurrent
// use.
type Helper struct {
	t Target

	mu          sync.Mutex
	cache       []*Buffer
	scanned     bool
	cacheGen    uint64
	retries     int
	lockTimeout time.Duration
}

// Option configures a Helper.
type Option func(*Helper)

// WithRetries sets how many placement+commit attempts CreateBufferIn makes
// before surfacing the last error. Values below 1 are treated as 1.
func WithRetries(n int) Option {
	return func(h *Helper) {
		if n < 1 {
			n = 1
		}
		h.retries = n
	}
}

// WithLockTimeout bounds the spin-wait on the in-buffer lock flag for
// buffers created or discovered through this helper. Zero means wait
// forever, which is the default.
func WithLockTimeout(d time.Duration) Option {
	return func(h *Helper) { h.lockTimeout = d }
}

// NewHelper returns a Helper for the given target.
func NewHelper(t Target, opts ...Option) *Helper {
	h := &Helper{t: t, retries: defaultCreateRetries}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// FindBufferLocation runs the placement scan for a payload of size bytes
// inside window, without committing anything.
func (h *Helper) FindBufferLocation(size uint64, window Range) (addr, total uint64, err error) {
	return FindLocation(h.t, size, window)
}

// CreateBuffer creates a buffer for at least size payload bytes anywhere
// in the target's address space.
func (h *Helper) CreateBuffer(size uint64) (*Buffer, error) {
	return h.CreateBufferIn(size, FullRange)
}

// CreateBufferIn creates a buffer for at least size payload bytes whose
// whole extent lies inside window. The placement scan and the commit are
// not atomic: another thread or an external allocator can take the chosen
// region in between, so the pair is retried under the helper's mutex and
// the last error wins. Intermediate errors are all the same kind (a race
// on commit), so losing them is acceptable.
func (h *Helper) CreateBufferIn(size uint64, window Range) (*Buffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var lastErr error
	for range h.retries {
		addr, total, err := FindLocation(h.t, size, window)
		if err != nil {
			lastErr = err
			continue
		}
		b, err := NewBuffer(h.t, addr, total, false)
		if err != nil {
			lastErr = err
			continue
		}
		b.SetLockTimeout(h.lockTimeout)
		h.cache = append(h.cache, b)
		h.cacheGen++
		return b, nil
	}
	return nil, lastErr
}

// GetBuffers returns every discovered buffer with at least minFree bytes
// remaining. With useCache the previous scan's results are reused;
// otherwise the page map is walked again.
func (h *Helper) GetBuffers(minFree uint64, useCache bool) []*Buffer {
	return h.GetBuffersInRange(minFree, FullRange, useCache)
}

// GetBuffersInRange returns every discovered buffer whose payload region
// lies entirely inside window and which has at least minFree bytes
// remaining.
func (h *Helper) GetBuffersInRange(minFree uint64, window Range, useCache bool) []*Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !useCache || !h.scanned {
		h.cache = Scan(h.t)
		h.scanned = true
		h.cacheGen++
		for _, b := range h.cache {
			b.SetLockTimeout(h.lockTimeout)
		}
	}
	return FilterBuffers(h.cache, minFree, window)
}

// InvalidateCache drops the discovery cache so the next lookup rescans.
func (h *Helper) InvalidateCache() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache = nil
	h.scanned = false
}

// CacheGeneration returns a counter that increments whenever the discovery
// cache is repopulated. Callers coordinating multiple scans can use it to
// tell whether two lookups saw the same snapshot.
func (h *Helper) CacheGeneration() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cacheGen
}
