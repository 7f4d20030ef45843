package cache

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/rtscene/engine/containers"
	"github.com/spaghettifunk/rtscene/engine/core"
)

// Index is the dense table slot of a cache entry. It is stable while the entry
// is alive and may be handed to a different value after the entry is reaped.
type Index = uint32

const InvalidIndex Index = core.InvalidID

// Hasher computes the content hash of a value. The hash is only a bucket hint.
type Hasher[T any] func(T) uint64

// Equaler decides full value equality for values whose hashes match.
type Equaler[T any] func(a, b T) bool

type Config struct {
	// Name labels log lines and metrics.
	Name string
	// Capacity is the maximum number of live slots. 0 means unbounded.
	Capacity uint32
	// Dedup disabled makes every insert create a fresh entry.
	Dedup bool
}

type entry[T any] struct {
	value    T
	hash     uint64
	refCount uint32
	// tagged is set while the entry is unreferenced and waiting for reap.
	tagged     bool
	taggedAt   uint32
	tagVersion uint64
}

type pendingEntry struct {
	index   Index
	frame   uint32
	version uint64
}

// SparseUniqueCache maps values to dense indices, collapsing equal values into
// one reference counted entry.
//
// Inserts, acquires and releases come from the submission goroutine. Find, Get
// and ForEach may run concurrently from other goroutines. Collect is the only
// operation that frees slots and takes the write lock for its whole pass.
type SparseUniqueCache[T any] struct {
	mu sync.RWMutex

	name   string
	dedup  bool
	hasher Hasher[T]
	equal  Equaler[T]

	entries []entry[T]
	ids     *core.IdentifierPool
	// Tagged bucket: hash -> candidate slots resolved by equal.
	buckets map[uint64][]Index

	pending     *containers.RingQueue[pendingEntry]
	nextVersion uint64

	collected   bool
	lastCollect uint32
}

func NewSparseUniqueCache[T any](config Config, hasher Hasher[T], equal Equaler[T]) (*SparseUniqueCache[T], error) {
	if hasher == nil || equal == nil {
		err := fmt.Errorf("%w: cache %q requires a hasher and an equality predicate", core.ErrInvalidConfig, config.Name)
		core.LogError(err.Error())
		return nil, err
	}

	return &SparseUniqueCache[T]{
		name:    config.Name,
		dedup:   config.Dedup,
		hasher:  hasher,
		equal:   equal,
		ids:     core.NewIdentifierPool(config.Capacity),
		buckets: make(map[uint64][]Index),
		pending: containers.NewGrowableRingQueue[pendingEntry](64),
	}, nil
}

// NewComparableCache builds a cache whose values compare with ==.
func NewComparableCache[T comparable](config Config, hasher Hasher[T]) (*SparseUniqueCache[T], error) {
	return NewSparseUniqueCache(config, hasher, func(a, b T) bool { return a == b })
}

func (c *SparseUniqueCache[T]) Name() string {
	return c.name
}

// SetDedup toggles deduplication for subsequent inserts.
func (c *SparseUniqueCache[T]) SetDedup(dedup bool) {
	c.mu.Lock()
	c.dedup = dedup
	c.mu.Unlock()
}

// Find looks up a value without touching its reference count. Entries waiting
// for reap are still found.
func (c *SparseUniqueCache[T]) Find(v T) (Index, bool) {
	h := c.hasher(v)

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findLocked(h, v)
}

func (c *SparseUniqueCache[T]) findLocked(h uint64, v T) (Index, bool) {
	for _, idx := range c.buckets[h] {
		if c.equal(c.entries[idx].value, v) {
			return idx, true
		}
	}
	return InvalidIndex, false
}

// InsertOrGet returns the index of an equal value, taking a reference on it, or
// appends v with one reference. existed reports which happened.
func (c *SparseUniqueCache[T]) InsertOrGet(v T) (idx Index, existed bool, err error) {
	h := c.hasher(v)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dedup {
		if idx, ok := c.findLocked(h, v); ok {
			c.acquireLocked(idx)
			return idx, true, nil
		}
	}

	id, err := c.ids.Acquire()
	if err != nil {
		err = fmt.Errorf("cache %q: %w", c.name, err)
		core.LogError(err.Error())
		return InvalidIndex, false, err
	}
	if int(id) == len(c.entries) {
		c.entries = append(c.entries, entry[T]{})
	}
	c.entries[id] = entry[T]{
		value:    v,
		hash:     h,
		refCount: 1,
	}
	c.buckets[h] = append(c.buckets[h], id)
	return id, false, nil
}

// AcquireEqual takes a reference on an entry equal to v, if dedup is enabled
// and one exists. It lets callers build an expensive copy of v only on a miss.
func (c *SparseUniqueCache[T]) AcquireEqual(v T) (Index, bool) {
	h := c.hasher(v)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dedup {
		return InvalidIndex, false
	}
	idx, ok := c.findLocked(h, v)
	if ok {
		c.acquireLocked(idx)
	}
	return idx, ok
}

// Acquire takes another reference on a live entry.
func (c *SparseUniqueCache[T]) Acquire(idx Index) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ids.InUse(idx) {
		return fmt.Errorf("cache %q acquire: %w: %d", c.name, core.ErrInvalidHandle, idx)
	}
	c.acquireLocked(idx)
	return nil
}

func (c *SparseUniqueCache[T]) acquireLocked(idx Index) {
	e := &c.entries[idx]
	e.refCount++
	e.tagged = false
}

// Release drops one reference. An entry reaching zero is tagged with frame and
// becomes eligible for reap once Collect runs latency frames later.
func (c *SparseUniqueCache[T]) Release(idx Index, frame uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ids.InUse(idx) {
		return fmt.Errorf("cache %q release: %w: %d", c.name, core.ErrInvalidHandle, idx)
	}
	e := &c.entries[idx]
	if e.refCount == 0 {
		return fmt.Errorf("cache %q release: %w: %d has no references", c.name, core.ErrInvalidHandle, idx)
	}
	e.refCount--
	if e.refCount == 0 {
		c.nextVersion++
		e.tagged = true
		e.taggedAt = frame
		e.tagVersion = c.nextVersion
		// the queue grows, so Enqueue cannot fail
		_ = c.pending.Enqueue(pendingEntry{index: idx, frame: frame, version: e.tagVersion})
	}
	return nil
}

// Get returns the value stored at idx.
func (c *SparseUniqueCache[T]) Get(idx Index) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.ids.InUse(idx) {
		var zero T
		return zero, false
	}
	return c.entries[idx].value, true
}

// RefCount returns the reference count of idx, 0 for dead slots.
func (c *SparseUniqueCache[T]) RefCount(idx Index) uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.ids.InUse(idx) {
		return 0
	}
	return c.entries[idx].refCount
}

// Len is the number of slots holding a value, referenced or not.
func (c *SparseUniqueCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ids.Live()
}

// PendingReap is the number of unreferenced entries not yet reclaimed.
func (c *SparseUniqueCache[T]) PendingReap() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for i := range c.entries {
		if c.ids.InUse(Index(i)) && c.entries[i].tagged {
			n++
		}
	}
	return n
}

// ForEach visits every live slot in index order under the read lock.
func (c *SparseUniqueCache[T]) ForEach(fn func(idx Index, v T, refCount uint32)) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.entries {
		if c.ids.InUse(Index(i)) {
			fn(Index(i), c.entries[i].value, c.entries[i].refCount)
		}
	}
}

// Table copies the dense table. Dead slots hold the zero value.
func (c *SparseUniqueCache[T]) Table() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]T, len(c.entries))
	for i := range c.entries {
		if c.ids.InUse(Index(i)) {
			out[i] = c.entries[i].value
		}
	}
	return out
}

// Collect reaps entries that have been unreferenced for at least latency
// frames. onReap runs after the lock is released, once per reaped value.
// Calling Collect again for the same frame reclaims nothing.
func (c *SparseUniqueCache[T]) Collect(frame uint32, latency uint32, onReap func(Index, T)) int {
	type reaped struct {
		idx Index
		v   T
	}
	var out []reaped

	c.mu.Lock()
	if c.collected && c.lastCollect == frame {
		c.mu.Unlock()
		return 0
	}
	c.collected = true
	c.lastCollect = frame

	for !c.pending.IsEmpty() {
		p, _ := c.pending.Peek()
		if core.FrameDistance(p.frame, frame) < int64(latency) {
			// tags are queued in frame order, nothing behind this is older
			break
		}
		_, _ = c.pending.Dequeue()

		if !c.ids.InUse(p.index) {
			continue
		}
		e := &c.entries[p.index]
		if !e.tagged || e.tagVersion != p.version || e.refCount != 0 {
			// revived, or re-tagged later with a newer record
			continue
		}

		c.removeFromBucketLocked(e.hash, p.index)
		out = append(out, reaped{idx: p.index, v: e.value})
		c.entries[p.index] = entry[T]{}
		_ = c.ids.Release(p.index)
	}
	c.mu.Unlock()

	for _, r := range out {
		if onReap != nil {
			onReap(r.idx, r.v)
		}
	}
	if len(out) > 0 {
		core.LogDebug("cache %q reclaimed %d entries at frame %d", c.name, len(out), frame)
	}
	return len(out)
}

func (c *SparseUniqueCache[T]) removeFromBucketLocked(h uint64, idx Index) {
	bucket := c.buckets[h]
	for i, candidate := range bucket {
		if candidate == idx {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.buckets, h)
		return
	}
	c.buckets[h] = bucket
}

// Clear drops every entry regardless of references. Used on teardown.
func (c *SparseUniqueCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = nil
	c.buckets = make(map[uint64][]Index)
	c.ids = core.NewIdentifierPool(c.ids.Limit())
	c.pending = containers.NewGrowableRingQueue[pendingEntry](64)
	c.collected = false
}
