package scene

import (
	"bytes"
	"fmt"

	"github.com/spaghettifunk/rtscene/engine/cache"
	"github.com/spaghettifunk/rtscene/engine/config"
	"github.com/spaghettifunk/rtscene/engine/core"
)

// RaytraceBuffer is a deduplicated geometry attribute buffer.
type RaytraceBuffer struct {
	Component Component
	Stride    uint32
	Hash      uint64
	Data      []byte
}

func bufferEqual(a, b RaytraceBuffer) bool {
	return a.Component == b.Component && a.Stride == b.Stride && bytes.Equal(a.Data, b.Data)
}

func bufferHash(b RaytraceBuffer) uint64 {
	return b.Hash ^ uint64(b.Component)<<56
}

// ResourceCache groups the content addressed caches. Find methods may be
// called from any goroutine.
type ResourceCache struct {
	materials *cache.SparseUniqueCache[SurfaceMaterial]
	samplers  *cache.SparseUniqueCache[SamplerInfo]
	buffers   *cache.SparseUniqueCache[RaytraceBuffer]
	metrics   *core.Metrics
}

func NewResourceCache(cfg *config.Config, metrics *core.Metrics) (*ResourceCache, error) {
	materials, err := cache.NewSparseUniqueCache(cache.Config{
		Name:     "materials",
		Capacity: cfg.Limits.MaxMaterials,
		Dedup:    cfg.Dedup.Materials,
	}, SurfaceMaterial.Hash, SurfaceMaterial.Equal)
	if err != nil {
		return nil, err
	}
	samplers, err := cache.NewSparseUniqueCache(cache.Config{
		Name:     "samplers",
		Capacity: cfg.Limits.MaxSamplers,
		Dedup:    cfg.Dedup.Samplers,
	}, SamplerInfo.Hash, SamplerInfo.Equal)
	if err != nil {
		return nil, err
	}
	buffers, err := cache.NewSparseUniqueCache(cache.Config{
		Name:     "buffers",
		Capacity: cfg.Limits.MaxBuffers,
		Dedup:    cfg.Dedup.Buffers,
	}, bufferHash, bufferEqual)
	if err != nil {
		return nil, err
	}

	return &ResourceCache{
		materials: materials,
		samplers:  samplers,
		buffers:   buffers,
		metrics:   metrics,
	}, nil
}

func (r *ResourceCache) applyDedup(d config.DedupConfig) {
	r.materials.SetDedup(d.Materials)
	r.samplers.SetDedup(d.Samplers)
	r.buffers.SetDedup(d.Buffers)
}

func (r *ResourceCache) FindMaterial(m SurfaceMaterial) (cache.Index, bool) {
	return r.materials.Find(m)
}

func (r *ResourceCache) FindSampler(s SamplerInfo) (cache.Index, bool) {
	return r.samplers.Find(s)
}

func (r *ResourceCache) Material(idx cache.Index) (SurfaceMaterial, bool) {
	return r.materials.Get(idx)
}

func (r *ResourceCache) Sampler(idx cache.Index) (SamplerInfo, bool) {
	return r.samplers.Get(idx)
}

func (r *ResourceCache) Buffer(idx cache.Index) (RaytraceBuffer, bool) {
	return r.buffers.Get(idx)
}

func (r *ResourceCache) MaterialCount() int { return r.materials.Len() }
func (r *ResourceCache) SamplerCount() int  { return r.samplers.Len() }
func (r *ResourceCache) BufferCount() int   { return r.buffers.Len() }

func (r *ResourceCache) count(name string, existed bool) {
	if r.metrics == nil {
		return
	}
	if existed {
		r.metrics.CacheHits.WithLabelValues(name).Inc()
	} else {
		r.metrics.CacheMisses.WithLabelValues(name).Inc()
	}
}

// trackSampler takes a reference on the sampler entry equal to s.
func (r *ResourceCache) trackSampler(s SamplerInfo) (cache.Index, error) {
	idx, existed, err := r.samplers.InsertOrGet(s)
	if err != nil {
		return cache.InvalidIndex, err
	}
	r.count("samplers", existed)
	return idx, nil
}

// trackMaterial takes a reference on the material of a draw call. The material
// entry owns one sampler reference for as long as it lives.
func (r *ResourceCache) trackMaterial(m SurfaceMaterial, s SamplerInfo, frame uint32) (cache.Index, error) {
	samplerIdx, err := r.trackSampler(s)
	if err != nil {
		return cache.InvalidIndex, err
	}
	m.SamplerIndex = samplerIdx

	idx, existed, err := r.materials.InsertOrGet(m)
	if err != nil {
		_ = r.samplers.Release(samplerIdx, frame)
		return cache.InvalidIndex, err
	}
	r.count("materials", existed)
	if existed {
		// the existing entry already holds its sampler reference
		if err := r.samplers.Release(samplerIdx, frame); err != nil {
			return cache.InvalidIndex, err
		}
	}
	return idx, nil
}

// trackBuffer takes a reference on the buffer holding raw. Data is copied
// only when a new entry is created.
func (r *ResourceCache) trackBuffer(c Component, hash uint64, raw []byte, stride uint32) (cache.Index, error) {
	candidate := RaytraceBuffer{Component: c, Stride: stride, Hash: hash, Data: raw}
	if idx, ok := r.buffers.AcquireEqual(candidate); ok {
		r.count("buffers", true)
		return idx, nil
	}

	candidate.Data = bytes.Clone(raw)
	idx, existed, err := r.buffers.InsertOrGet(candidate)
	if err != nil {
		return cache.InvalidIndex, fmt.Errorf("failed to track %s buffer: %w", c, err)
	}
	r.count("buffers", existed)
	return idx, nil
}

func (r *ResourceCache) releaseBuffer(idx cache.Index, frame uint32) {
	if idx == cache.InvalidIndex {
		return
	}
	if err := r.buffers.Release(idx, frame); err != nil {
		core.LogError(err.Error())
	}
}

func (r *ResourceCache) releaseMaterial(idx cache.Index, frame uint32) {
	if idx == cache.InvalidIndex {
		return
	}
	if err := r.materials.Release(idx, frame); err != nil {
		core.LogError(err.Error())
	}
}

// collect reaps materials first so the sampler references they drop are
// tagged this frame and reaped in a later pass.
func (r *ResourceCache) collect(frame, latency uint32) (materials, samplers, buffers int) {
	materials = r.materials.Collect(frame, latency, func(_ cache.Index, m SurfaceMaterial) {
		if m.SamplerIndex == cache.InvalidIndex {
			return
		}
		if err := r.samplers.Release(m.SamplerIndex, frame); err != nil {
			core.LogError(err.Error())
		}
	})
	samplers = r.samplers.Collect(frame, latency, nil)
	buffers = r.buffers.Collect(frame, latency, nil)
	return materials, samplers, buffers
}

func (r *ResourceCache) clear() {
	r.materials.Clear()
	r.samplers.Clear()
	r.buffers.Clear()
}
