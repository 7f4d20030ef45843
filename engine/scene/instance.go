package scene

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/rtscene/engine/cache"
	"github.com/spaghettifunk/rtscene/engine/containers"
	"github.com/spaghettifunk/rtscene/engine/core"
)

// Instance is one placement of a scene object in the frame.
type Instance struct {
	Handle     InstanceHandle
	Key        uint64
	Object     ObjectHandle
	Material   cache.Index
	Transform  mgl32.Mat4
	Visibility VisibilityMask
	Category   CategoryFlags

	FrameCreated  uint32
	FrameLastSeen uint32
	// Removed instances keep their handle until the grace window passes.
	Removed   bool
	RemovedAt uint32
}

// InstanceChange describes what Touch did to an instance. PrevObject and
// PrevMaterial are InvalidHandle / cache.InvalidIndex for new instances.
type InstanceChange struct {
	Added        bool
	Updated      bool
	PrevObject   ObjectHandle
	PrevMaterial cache.Index
}

// Notifications lists the instance changes of one frame. Consumers apply
// Removed, then Updated, then Added.
type Notifications struct {
	Removed []InstanceHandle
	Updated []InstanceHandle
	Added   []InstanceHandle
}

func (n Notifications) Empty() bool {
	return len(n.Removed) == 0 && len(n.Updated) == 0 && len(n.Added) == 0
}

type pendingInstance struct {
	handle InstanceHandle
	frame  uint32
}

type instanceFrameState struct {
	added   bool
	updated bool
}

// InstanceManager tracks instances across frames by key. Writes come from the
// submission goroutine. Get and Find return copies and ForEach runs under the
// read lock, so all three may be called concurrently.
type InstanceManager struct {
	mu sync.RWMutex

	byKey     map[uint64]InstanceHandle
	instances []*Instance
	ids       *core.IdentifierPool

	touched map[InstanceHandle]*instanceFrameState
	pending *containers.RingQueue[pendingInstance]

	collected   bool
	lastCollect uint32
}

func NewInstanceManager(maxInstances uint32) *InstanceManager {
	return &InstanceManager{
		byKey:   make(map[uint64]InstanceHandle),
		ids:     core.NewIdentifierPool(maxInstances),
		touched: make(map[InstanceHandle]*instanceFrameState),
		pending: containers.NewGrowableRingQueue[pendingInstance](64),
	}
}

// Touch records that the instance keyed by key was drawn this frame.
func (m *InstanceManager) Touch(key uint64, object ObjectHandle, material cache.Index, transform mgl32.Mat4, visibility VisibilityMask, category CategoryFlags, frame uint32) (*Instance, InstanceChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.byKey[key]; ok {
		inst := m.instances[h]
		change := InstanceChange{
			PrevObject:   inst.Object,
			PrevMaterial: inst.Material,
		}
		changed := inst.Object != object ||
			inst.Material != material ||
			inst.Visibility != visibility ||
			inst.Category != category ||
			inst.Transform != transform
		inst.Object = object
		inst.Material = material
		inst.Transform = transform
		inst.Visibility = visibility
		inst.Category = category
		inst.FrameLastSeen = frame

		state := m.touched[h]
		if state == nil {
			state = &instanceFrameState{}
			m.touched[h] = state
		}
		if changed && !state.added {
			state.updated = true
		}
		change.Updated = state.updated
		return inst, change, nil
	}

	h, err := m.ids.Acquire()
	if err != nil {
		return nil, InstanceChange{}, fmt.Errorf("instance manager: %w", err)
	}
	inst := &Instance{
		Handle:        h,
		Key:           key,
		Object:        object,
		Material:      material,
		Transform:     transform,
		Visibility:    visibility,
		Category:      category,
		FrameCreated:  frame,
		FrameLastSeen: frame,
	}
	if int(h) >= len(m.instances) {
		m.instances = append(m.instances, make([]*Instance, int(h)+1-len(m.instances))...)
	}
	m.instances[h] = inst
	m.byKey[key] = h
	m.touched[h] = &instanceFrameState{added: true}

	return inst, InstanceChange{
		Added:        true,
		PrevObject:   InvalidHandle,
		PrevMaterial: cache.InvalidIndex,
	}, nil
}

// Reconcile ends the frame: every live instance not touched this frame is
// removed and handed to onRemoved so its references can be dropped.
func (m *InstanceManager) Reconcile(frame uint32, onRemoved func(*Instance)) Notifications {
	var n Notifications
	var removed []*Instance

	m.mu.Lock()
	for key, h := range m.byKey {
		inst := m.instances[h]
		if inst.FrameLastSeen == frame {
			continue
		}
		delete(m.byKey, key)
		inst.Removed = true
		inst.RemovedAt = frame
		_ = m.pending.Enqueue(pendingInstance{handle: h, frame: frame})
		removed = append(removed, inst)
		n.Removed = append(n.Removed, h)
	}
	for h, state := range m.touched {
		switch {
		case state.added:
			n.Added = append(n.Added, h)
		case state.updated:
			n.Updated = append(n.Updated, h)
		}
	}
	clear(m.touched)
	m.mu.Unlock()

	slices.Sort(n.Removed)
	slices.Sort(n.Updated)
	slices.Sort(n.Added)
	slices.SortFunc(removed, func(a, b *Instance) int { return int(a.Handle) - int(b.Handle) })

	if onRemoved != nil {
		for _, inst := range removed {
			onRemoved(inst)
		}
	}
	return n
}

// Collect frees the handles of instances removed at least latency frames ago.
func (m *InstanceManager) Collect(frame, latency uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collected && m.lastCollect == frame {
		return 0
	}
	m.collected = true
	m.lastCollect = frame

	n := 0
	for !m.pending.IsEmpty() {
		p, _ := m.pending.Peek()
		if core.FrameDistance(p.frame, frame) < int64(latency) {
			break
		}
		_, _ = m.pending.Dequeue()
		m.instances[p.handle] = nil
		_ = m.ids.Release(p.handle)
		n++
	}
	return n
}

// Get copies the instance stored under handle, removed or not.
func (m *InstanceManager) Get(handle InstanceHandle) (Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(handle) >= len(m.instances) || m.instances[handle] == nil {
		return Instance{}, false
	}
	return *m.instances[handle], true
}

// Find copies the live instance keyed by key.
func (m *InstanceManager) Find(key uint64) (Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.byKey[key]
	if !ok {
		return Instance{}, false
	}
	return *m.instances[h], true
}

// lookup returns the live record for key. Only the frame goroutine may read
// through it.
func (m *InstanceManager) lookup(key uint64) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.byKey[key]
	if !ok {
		return nil, false
	}
	return m.instances[h], true
}

// Len counts live instances; removed ones waiting for their handle to be freed
// are not included.
func (m *InstanceManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byKey)
}

func (m *InstanceManager) ForEach(fn func(inst *Instance)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inst := range m.instances {
		if inst != nil {
			fn(inst)
		}
	}
}

func (m *InstanceManager) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey = make(map[uint64]InstanceHandle)
	m.instances = nil
	m.ids = core.NewIdentifierPool(m.ids.Limit())
	clear(m.touched)
	m.pending = containers.NewGrowableRingQueue[pendingInstance](64)
	m.collected = false
}

// DeriveInstanceKey identifies an instance whose submitter gave no key. The
// occurrence counts repeated draws of the same object and material in a frame.
func DeriveInstanceKey(assetHash, materialHash uint64, occurrence uint32) uint64 {
	var buf [20]byte
	binary.LittleEndian.PutUint64(buf[0:], assetHash)
	binary.LittleEndian.PutUint64(buf[8:], materialHash)
	binary.LittleEndian.PutUint32(buf[16:], occurrence)
	return xxhash.Sum64(buf[:])
}
