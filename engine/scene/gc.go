package scene

import (
	"github.com/spaghettifunk/rtscene/engine/cache"
	"github.com/spaghettifunk/rtscene/engine/core"
)

// GCStats counts what one collection pass reclaimed.
type GCStats struct {
	Frame     uint32
	Instances int
	Objects   int
	Materials int
	Samplers  int
	Buffers   int
	Destroyed []ObjectHandle
}

// GarbageCollector reclaims entries that stayed unreferenced for the whole
// frames-in-flight window. Running it twice for one frame is a no-op.
type GarbageCollector struct {
	latency uint32

	instances *InstanceManager
	objects   *DrawCallCache
	resources *ResourceCache
	events    *core.EventBus
	metrics   *core.Metrics

	ran     bool
	lastRun uint32
}

func NewGarbageCollector(latency uint32, instances *InstanceManager, objects *DrawCallCache, resources *ResourceCache, events *core.EventBus, metrics *core.Metrics) *GarbageCollector {
	return &GarbageCollector{
		latency:   latency,
		instances: instances,
		objects:   objects,
		resources: resources,
		events:    events,
		metrics:   metrics,
	}
}

// Latency is the frames-in-flight window fixed at initialization.
func (gc *GarbageCollector) Latency() uint32 {
	return gc.latency
}

// Run collects instances, then objects, then materials, samplers and buffers.
// Each level drops its references to the next before that level is scanned.
func (gc *GarbageCollector) Run(frame uint32) GCStats {
	stats := GCStats{Frame: frame}
	if gc.ran && gc.lastRun == frame {
		return stats
	}
	gc.ran = true
	gc.lastRun = frame

	stats.Instances = gc.instances.Collect(frame, gc.latency)
	stats.Objects = gc.objects.Collect(frame, gc.latency, func(obj *SceneObject) {
		for i, idx := range obj.Buffers {
			gc.resources.releaseBuffer(idx, frame)
			obj.Buffers[i] = cache.InvalidIndex
		}
		stats.Destroyed = append(stats.Destroyed, obj.Handle)
		if gc.events != nil {
			gc.events.Fire(core.EVENT_CODE_OBJECT_DESTROYED, gc, core.EventContext{
				Frame:  frame,
				Handle: obj.Handle,
				Key:    obj.AssetHash,
			})
		}
	})
	stats.Materials, stats.Samplers, stats.Buffers = gc.resources.collect(frame, gc.latency)

	if gc.metrics != nil {
		gc.metrics.CacheReclaimed.WithLabelValues("instances").Add(float64(stats.Instances))
		gc.metrics.CacheReclaimed.WithLabelValues("objects").Add(float64(stats.Objects))
		gc.metrics.CacheReclaimed.WithLabelValues("materials").Add(float64(stats.Materials))
		gc.metrics.CacheReclaimed.WithLabelValues("samplers").Add(float64(stats.Samplers))
		gc.metrics.CacheReclaimed.WithLabelValues("buffers").Add(float64(stats.Buffers))
	}
	if stats.Objects > 0 || stats.Instances > 0 {
		core.LogDebug("gc frame %d: %d instances, %d objects, %d materials, %d samplers, %d buffers",
			frame, stats.Instances, stats.Objects, stats.Materials, stats.Samplers, stats.Buffers)
	}
	return stats
}

func (gc *GarbageCollector) reset() {
	gc.ran = false
}
