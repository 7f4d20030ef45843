package scene

import (
	"github.com/spaghettifunk/rtscene/engine/cache"
)

// FrameUpdate is everything the acceleration structure builder needs to bring
// its state in line with the frame. Instance lists are applied Removed, then
// Updated, then Added.
type FrameUpdate struct {
	Frame uint32

	RemovedInstances []InstanceHandle
	UpdatedInstances []InstanceHandle
	AddedInstances   []InstanceHandle

	BuildObjects []ObjectHandle
	RefitObjects []ObjectHandle
	// DestroyedObjects were reclaimed by the previous frame's collection.
	DestroyedObjects []ObjectHandle
}

// AccelBuilder consumes per-frame updates. It runs on the frame goroutine.
type AccelBuilder interface {
	OnFrameUpdate(update *FrameUpdate)
}

// SurfaceReader reads back which material covered a pixel in a given frame.
// ready is false while the readback for that frame has not landed.
type SurfaceReader interface {
	SurfaceAt(x, y, frame uint32) (material cache.Index, ready bool)
}

// AccelBuilderFunc adapts a function to AccelBuilder.
type AccelBuilderFunc func(update *FrameUpdate)

func (f AccelBuilderFunc) OnFrameUpdate(update *FrameUpdate) {
	f(update)
}

// Snapshot is a copy of the caches for capture tooling.
type Snapshot struct {
	Frame     uint32
	Objects   []SceneObject
	Instances []Instance
	Materials []SurfaceMaterial
	Samplers  []SamplerInfo
	Buffers   int
}
