package scene

import (
	"fmt"
	"slices"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/rtscene/engine/cache"
	"github.com/spaghettifunk/rtscene/engine/containers"
	"github.com/spaghettifunk/rtscene/engine/core"
)

// SceneObject is the cached record of one unique piece of geometry, keyed by
// its asset and generation hashes. Instances reference it by handle.
type SceneObject struct {
	Handle         ObjectHandle
	AssetHash      uint64
	GenerationHash uint64
	Hashes         GeometryHashes

	Topology    Topology
	VertexCount uint32
	IndexCount  uint32
	// Buffers indexes the buffer cache per component; absent components hold
	// cache.InvalidIndex.
	Buffers [bufferComponentCount]cache.Index
	// Positions is only retained when the vertex delta check is enabled.
	Positions []mgl32.Vec3
	Category  CategoryFlags

	FrameCreated     uint32
	FrameLastSeen    uint32
	FrameLastUpdated uint32
	LastState        ObjectCacheState

	refCount uint32
	tagged   bool
	taggedAt uint32
	version  uint64
}

func (o SceneObject) RefCount() uint32 {
	return o.refCount
}

func (o *SceneObject) copy() SceneObject {
	cp := *o
	cp.Positions = slices.Clone(o.Positions)
	return cp
}

type pendingObject struct {
	handle  ObjectHandle
	frame   uint32
	version uint64
}

type contentKey struct {
	asset      uint64
	generation uint64
}

// DrawCallCache owns the scene objects. Two objects never share a content
// key; an object whose geometry changes is moved to its new key.
//
// Pointers handed out by LookupOrCreate and lookup belong to the frame
// goroutine. Get, Find and ForEach copy under the read lock and are safe from
// any goroutine.
type DrawCallCache struct {
	mu sync.RWMutex

	byContent map[contentKey]ObjectHandle
	objects   []*SceneObject
	live      int
	ids       *core.IdentifierPool

	pending     *containers.RingQueue[pendingObject]
	nextVersion uint64
	collected   bool
	lastCollect uint32
}

func NewDrawCallCache(maxObjects uint32) *DrawCallCache {
	return &DrawCallCache{
		byContent: make(map[contentKey]ObjectHandle),
		ids:       core.NewIdentifierPool(maxObjects),
		pending:   containers.NewGrowableRingQueue[pendingObject](64),
	}
}

// LookupOrCreate returns the object holding exactly this content, creating an
// empty record under that key when none exists. New records start with no
// references.
func (c *DrawCallCache) LookupOrCreate(assetHash, generationHash uint64, frame uint32) (*SceneObject, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := contentKey{asset: assetHash, generation: generationHash}
	if h, ok := c.byContent[key]; ok {
		return c.objects[h], false, nil
	}

	h, err := c.ids.Acquire()
	if err != nil {
		return nil, false, fmt.Errorf("draw call cache: %w", err)
	}
	obj := &SceneObject{
		Handle:         h,
		AssetHash:      assetHash,
		GenerationHash: generationHash,
		FrameCreated:   frame,
		LastState:      StateInvalid,
	}
	for i := range obj.Buffers {
		obj.Buffers[i] = cache.InvalidIndex
	}
	if int(h) >= len(c.objects) {
		c.objects = append(c.objects, make([]*SceneObject, int(h)+1-len(c.objects))...)
	}
	c.objects[h] = obj
	c.byContent[key] = h
	c.live++
	return obj, true, nil
}

// lookup finds the object holding this content without creating one.
func (c *DrawCallCache) lookup(assetHash, generationHash uint64) (*SceneObject, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.byContent[contentKey{asset: assetHash, generation: generationHash}]
	if !ok {
		return nil, false
	}
	return c.objects[h], true
}

// object returns the live record for handle.
func (c *DrawCallCache) object(handle ObjectHandle) (*SceneObject, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getLocked(handle)
}

// Get copies the object stored under handle.
func (c *DrawCallCache) Get(handle ObjectHandle) (SceneObject, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	obj, ok := c.getLocked(handle)
	if !ok {
		return SceneObject{}, false
	}
	return obj.copy(), true
}

func (c *DrawCallCache) getLocked(handle ObjectHandle) (*SceneObject, bool) {
	if int(handle) >= len(c.objects) || c.objects[handle] == nil {
		return nil, false
	}
	return c.objects[handle], true
}

// Find copies the object holding this content.
func (c *DrawCallCache) Find(assetHash, generationHash uint64) (SceneObject, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.byContent[contentKey{asset: assetHash, generation: generationHash}]
	if !ok {
		return SceneObject{}, false
	}
	return c.objects[h].copy(), true
}

// rekeyLocked moves obj to the content key of its new geometry. The caller
// holds the write lock, usually through mutate.
func (c *DrawCallCache) rekeyLocked(obj *SceneObject, assetHash, generationHash uint64) {
	old := contentKey{asset: obj.AssetHash, generation: obj.GenerationHash}
	if h, ok := c.byContent[old]; ok && h == obj.Handle {
		delete(c.byContent, old)
	}
	obj.AssetHash = assetHash
	obj.GenerationHash = generationHash
	c.byContent[contentKey{asset: assetHash, generation: generationHash}] = obj.Handle
}

func (c *DrawCallCache) Acquire(handle ObjectHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.getLocked(handle)
	if !ok {
		return fmt.Errorf("%w: object %d", core.ErrInvalidHandle, handle)
	}
	obj.refCount++
	obj.tagged = false
	return nil
}

// Release drops one reference. The last release marks the object for reaping.
func (c *DrawCallCache) Release(handle ObjectHandle, frame uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.getLocked(handle)
	if !ok {
		return fmt.Errorf("%w: object %d", core.ErrInvalidHandle, handle)
	}
	if obj.refCount == 0 {
		return fmt.Errorf("%w: object %d released with no references", core.ErrInvalidHandle, handle)
	}
	obj.refCount--
	if obj.refCount == 0 {
		c.tagLocked(obj, frame)
	}
	return nil
}

func (c *DrawCallCache) tagLocked(obj *SceneObject, frame uint32) {
	c.nextVersion++
	obj.tagged = true
	obj.taggedAt = frame
	obj.version = c.nextVersion
	_ = c.pending.Enqueue(pendingObject{handle: obj.Handle, frame: frame, version: obj.version})
}

// Discard drops a freshly created object that never gained a reference, for
// example when its first draw call is rejected.
func (c *DrawCallCache) Discard(handle ObjectHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.getLocked(handle)
	if !ok || obj.refCount != 0 {
		return
	}
	c.removeLocked(obj)
}

// Remove deletes the object regardless of references.
func (c *DrawCallCache) Remove(handle ObjectHandle) (*SceneObject, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.getLocked(handle)
	if !ok {
		return nil, false
	}
	c.removeLocked(obj)
	return obj, true
}

func (c *DrawCallCache) removeLocked(obj *SceneObject) {
	key := contentKey{asset: obj.AssetHash, generation: obj.GenerationHash}
	if h, ok := c.byContent[key]; ok && h == obj.Handle {
		delete(c.byContent, key)
	}
	c.objects[obj.Handle] = nil
	c.live--
	_ = c.ids.Release(obj.Handle)
	obj.tagged = false
}

// Collect reaps objects unreferenced for at least latency frames.
func (c *DrawCallCache) Collect(frame, latency uint32, onReap func(*SceneObject)) int {
	var out []*SceneObject

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
			break
		}
		_, _ = c.pending.Dequeue()

		obj, ok := c.getLocked(p.handle)
		if !ok || !obj.tagged || obj.version != p.version || obj.refCount != 0 {
			continue
		}
		c.removeLocked(obj)
		out = append(out, obj)
	}
	c.mu.Unlock()

	if onReap != nil {
		for _, obj := range out {
			onReap(obj)
		}
	}
	return len(out)
}

// mutate runs fn under the write lock so concurrent readers never see a
// half-updated object.
func (c *DrawCallCache) mutate(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

func (c *DrawCallCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.live
}

func (c *DrawCallCache) PendingReap() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, obj := range c.objects {
		if obj != nil && obj.tagged {
			n++
		}
	}
	return n
}

// ForEach visits live objects in handle order under the read lock. fn must not
// keep obj.
func (c *DrawCallCache) ForEach(fn func(obj *SceneObject)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, obj := range c.objects {
		if obj != nil {
			fn(obj)
		}
	}
}

func (c *DrawCallCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byContent = make(map[contentKey]ObjectHandle)
	c.objects = nil
	c.live = 0
	c.ids = core.NewIdentifierPool(c.ids.Limit())
	c.pending = containers.NewGrowableRingQueue[pendingObject](64)
	c.collected = false
}
