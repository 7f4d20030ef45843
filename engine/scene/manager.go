package scene

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spaghettifunk/rtscene/engine/cache"
	"github.com/spaghettifunk/rtscene/engine/config"
	"github.com/spaghettifunk/rtscene/engine/core"
	"github.com/spaghettifunk/rtscene/engine/systems"
)

const tracerName = "github.com/spaghettifunk/rtscene/engine/scene"

type occurrenceKey struct {
	asset    uint64
	material uint64
}

// SceneManager owns every cache of the scene core for one device lifetime.
//
// Frame methods (BeginFrame, SubmitDrawCall(s), EndFrame) and the Track and
// Release methods must be called from a single goroutine. Snapshot, the async
// channels and ApplyConfig are safe from any goroutine.
type SceneManager struct {
	cfg            *config.Config
	assetRule      HashRule
	generationRule HashRule
	builder        AccelBuilder

	initialized bool
	inFrame     bool
	frame       atomic.Uint32

	objects       *DrawCallCache
	instances     *InstanceManager
	resources     *ResourceCache
	gc            *GarbageCollector
	textureHashes *TextureHashResolver
	picks         *PickChannel
	highlighter   *Highlighter
	jobs          *systems.JobSystem
	events        *core.EventBus
	metrics       *core.Metrics

	occurrences map[occurrenceKey]uint32
	work        map[ObjectHandle]ObjectCacheState
	destroyed   []ObjectHandle

	cfgMu      sync.Mutex
	pendingCfg *config.Config
}

// NewSceneManager validates cfg and prepares an uninitialized manager. A nil
// cfg uses the defaults; a nil builder discards frame updates.
func NewSceneManager(cfg *config.Config, builder AccelBuilder) (*SceneManager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	assetRule, err := ParseHashRule(cfg.Hashing.AssetRule)
	if err != nil {
		return nil, err
	}
	generationRule, err := ParseHashRule(cfg.Hashing.GenerationRule)
	if err != nil {
		return nil, err
	}

	return &SceneManager{
		cfg:            cfg,
		assetRule:      assetRule,
		generationRule: generationRule,
		builder:        builder,
		events:         core.NewEventBus(),
		metrics:        core.NewMetrics(),
		occurrences:    make(map[occurrenceKey]uint32),
		work:           make(map[ObjectHandle]ObjectCacheState),
	}, nil
}

func (m *SceneManager) Initialize() error {
	if m.initialized {
		return core.ErrAlreadyInitialized
	}

	resources, err := NewResourceCache(m.cfg, m.metrics)
	if err != nil {
		return err
	}
	jobs, err := systems.NewJobSystem(m.cfg.Hashing.Workers, m.cfg.Hashing.Workers*4)
	if err != nil {
		return err
	}

	latency := m.cfg.Frames.MaxFramesInFlight
	m.resources = resources
	m.jobs = jobs
	m.objects = NewDrawCallCache(m.cfg.Limits.MaxObjects)
	m.instances = NewInstanceManager(m.cfg.Limits.MaxInstances)
	m.gc = NewGarbageCollector(latency, m.instances, m.objects, m.resources, m.events, m.metrics)
	m.textureHashes = NewTextureHashResolver(m.metrics)
	m.picks = NewPickChannel(latency, m.metrics)
	m.highlighter = NewHighlighter(latency, m.metrics)
	m.initialized = true

	core.LogInfo("scene manager initialized (frames in flight: %d, hash workers: %d)", latency, m.cfg.Hashing.Workers)
	return nil
}

// Destroy releases everything. In-flight texture hash promises are abandoned.
func (m *SceneManager) Destroy() error {
	if !m.initialized {
		return core.ErrNotInitialized
	}
	if err := m.jobs.Shutdown(); err != nil {
		core.LogWarn(err.Error())
	}
	m.textureHashes.Cancel()
	m.highlighter.Clear()
	m.instances.clear()
	m.objects.clear()
	m.resources.clear()
	m.gc.reset()
	clear(m.occurrences)
	clear(m.work)
	m.destroyed = nil
	m.events.Shutdown()
	m.initialized = false
	m.inFrame = false

	core.LogInfo("scene manager destroyed")
	return nil
}

func (m *SceneManager) Events() *core.EventBus {
	return m.events
}

func (m *SceneManager) Metrics() *core.Metrics {
	return m.metrics
}

func (m *SceneManager) Frame() uint32 {
	return m.frame.Load()
}

func (m *SceneManager) Objects() *DrawCallCache {
	return m.objects
}

func (m *SceneManager) Instances() *InstanceManager {
	return m.instances
}

func (m *SceneManager) Resources() *ResourceCache {
	return m.resources
}

func (m *SceneManager) TextureHashes() *TextureHashResolver {
	return m.textureHashes
}

func (m *SceneManager) Picks() *PickChannel {
	return m.picks
}

func (m *SceneManager) Highlighter() *Highlighter {
	return m.highlighter
}

// ApplyConfig schedules cfg to take effect at the next BeginFrame. Limits and
// worker counts only apply after a Destroy/Initialize cycle.
func (m *SceneManager) ApplyConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", core.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := ParseHashRule(cfg.Hashing.AssetRule); err != nil {
		return err
	}
	if _, err := ParseHashRule(cfg.Hashing.GenerationRule); err != nil {
		return err
	}
	m.cfgMu.Lock()
	m.pendingCfg = cfg
	m.cfgMu.Unlock()
	return nil
}

func (m *SceneManager) applyPendingConfig() {
	m.cfgMu.Lock()
	cfg := m.pendingCfg
	m.pendingCfg = nil
	m.cfgMu.Unlock()
	if cfg == nil {
		return
	}

	// validated in ApplyConfig
	m.assetRule, _ = ParseHashRule(cfg.Hashing.AssetRule)
	m.generationRule, _ = ParseHashRule(cfg.Hashing.GenerationRule)

	m.resources.applyDedup(cfg.Dedup)

	prev := m.cfg
	m.cfg = cfg
	if prev.Limits != cfg.Limits || prev.Hashing.Workers != cfg.Hashing.Workers ||
		prev.Frames.MaxFramesInFlight != cfg.Frames.MaxFramesInFlight {
		core.LogWarn("scene limits, worker count and frames.max_frames_in_flight changes apply on the next initialization")
	}
	if err := setLogLevel(cfg.Log.Level); err != nil {
		core.LogWarn(err.Error())
	}
	m.events.Fire(core.EVENT_CODE_CONFIG_RELOADED, m, core.EventContext{Frame: m.frame.Load(), Data: cfg})
	core.LogInfo("scene configuration applied (frames in flight: %d)", m.gc.Latency())
}

func setLogLevel(level string) error {
	lvl, err := core.ParseLogLevel(level)
	if err != nil {
		return err
	}
	core.SetLogLevel(lvl)
	return nil
}

// BeginFrame opens frame for submissions.
func (m *SceneManager) BeginFrame(frame uint32) error {
	if !m.initialized {
		return core.ErrNotInitialized
	}
	if m.inFrame {
		core.LogWarn("frame %d began before frame %d ended", frame, m.frame.Load())
	}
	m.applyPendingConfig()
	m.frame.Store(frame)
	m.inFrame = true
	clear(m.occurrences)
	clear(m.work)
	return nil
}

func (m *SceneManager) checkFrame() error {
	if !m.initialized {
		return core.ErrNotInitialized
	}
	if !m.inFrame {
		return core.ErrFrameNotStarted
	}
	return nil
}

// SubmitDrawCall classifies one draw call and updates the caches. Invalid draw
// calls are rejected without affecting the rest of the frame.
func (m *SceneManager) SubmitDrawCall(dc *DrawCall) (ObjectCacheState, error) {
	if err := m.checkFrame(); err != nil {
		return StateInvalid, err
	}
	hg := HashGeometry(&dc.Geometry, m.assetRule, m.generationRule)
	return m.submitHashed(dc, hg)
}

// SubmitDrawCalls hashes the batch on the job pool, then processes it in
// order. Errors of individual draw calls are joined; the batch continues past
// them.
func (m *SceneManager) SubmitDrawCalls(ctx context.Context, dcs []DrawCall) ([]ObjectCacheState, error) {
	if err := m.checkFrame(); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "scene.SubmitDrawCalls",
		trace.WithAttributes(
			attribute.Int("scene.frame", int(m.frame.Load())),
			attribute.Int("scene.drawcalls", len(dcs)),
		))
	defer span.End()

	hashed, err := m.prehash(ctx, dcs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prehash cancelled")
		return nil, err
	}

	states := make([]ObjectCacheState, len(dcs))
	var errs []error
	for i := range dcs {
		state, err := m.submitHashed(&dcs[i], hashed[i])
		states[i] = state
		if err != nil {
			errs = append(errs, fmt.Errorf("draw call %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		span.SetAttributes(attribute.Int("scene.rejected", len(errs)))
	}
	return states, errors.Join(errs...)
}

func (m *SceneManager) prehash(ctx context.Context, dcs []DrawCall) ([]*HashedGeometry, error) {
	hashed := make([]*HashedGeometry, len(dcs))
	assetRule, generationRule := m.assetRule, m.generationRule

	var wg sync.WaitGroup
	for i := range dcs {
		i := i
		wg.Add(1)
		err := m.jobs.Submit(systems.JobTask{
			JobType:  systems.JOB_TYPE_GEOMETRY_HASH,
			Priority: systems.JOB_PRIORITY_HIGH,
			OnStart: func() error {
				hashed[i] = HashGeometry(&dcs[i].Geometry, assetRule, generationRule)
				return nil
			},
			OnComplete: wg.Done,
			OnFailure:  func(error) { wg.Done() },
		})
		if err != nil {
			wg.Done()
			hashed[i] = HashGeometry(&dcs[i].Geometry, assetRule, generationRule)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return hashed, nil
	}
}

func (m *SceneManager) submitHashed(dc *DrawCall, hg *HashedGeometry) (ObjectCacheState, error) {
	frame := m.frame.Load()

	if err := dc.Geometry.Validate(); err != nil {
		return m.reject(err)
	}

	matIdx, err := m.resources.trackMaterial(dc.Material, dc.Sampler, frame)
	if err != nil {
		return m.reject(err)
	}

	key := dc.InstanceKey
	var occ occurrenceKey
	if key == 0 {
		occ = occurrenceKey{asset: hg.AssetHash, material: dc.Material.Hash()}
		key = DeriveInstanceKey(occ.asset, occ.material, m.occurrences[occ])
	}

	obj, prev, isNew, err := m.resolveObject(key, dc.UpdateOnly, hg, frame)
	if err != nil {
		m.resources.releaseMaterial(matIdx, frame)
		return m.reject(err)
	}

	var state ObjectCacheState
	if dc.UpdateOnly {
		state, err = ClassifyUpdateOnly(prev, hg, prev == nil)
		if err == nil && obj != prev {
			state, err = Classify(obj, hg, isNew, m.cfg.Classifier)
		}
	} else {
		state, err = Classify(obj, hg, isNew, m.cfg.Classifier)
	}
	if err != nil {
		m.resources.releaseMaterial(matIdx, frame)
		if isNew {
			m.objects.Discard(obj.Handle)
		}
		return m.reject(err)
	}

	if state == StateBuildBVH || state == StateUpdateBVH {
		if err := m.updateObjectGeometry(obj, hg, frame); err != nil {
			m.resources.releaseMaterial(matIdx, frame)
			if isNew {
				m.objects.Discard(obj.Handle)
			}
			return m.reject(err)
		}
	}
	m.objects.mutate(func() {
		obj.FrameLastSeen = frame
		obj.Category = dc.Category
		obj.LastState = state
	})
	if state > m.work[obj.Handle] {
		m.work[obj.Handle] = state
	}

	if dc.InstanceKey == 0 {
		m.occurrences[occ]++
	}

	_, change, err := m.instances.Touch(key, obj.Handle, matIdx, dc.Transform, dc.Visibility, dc.Category, frame)
	if err != nil {
		m.resources.releaseMaterial(matIdx, frame)
		m.abandonObject(obj, frame)
		return m.reject(err)
	}
	if err := m.rebindInstance(change, obj.Handle, matIdx, frame); err != nil {
		return m.reject(err)
	}

	m.textureHashes.Offer(matIdx, dc.Material.LegacyTextureHash, frame)
	m.highlighter.OnDrawCall(matIdx, dc.Material.LegacyTextureHash)
	m.metrics.DrawCalls.WithLabelValues(state.String()).Inc()
	return state, nil
}

// resolveObject picks the object a draw call keyed by key lands on. Existing
// content is always shared. Otherwise the instance's current object is
// updated in place when nobody else references it, and a new object is
// created when it is shared, so other instances keep their geometry. prev is
// the instance's current object, nil for new instances.
func (m *SceneManager) resolveObject(key uint64, updateOnly bool, hg *HashedGeometry, frame uint32) (obj, prev *SceneObject, isNew bool, err error) {
	if inst, ok := m.instances.lookup(key); ok {
		prev, _ = m.objects.object(inst.Object)
	}
	if obj, ok := m.objects.lookup(hg.AssetHash, hg.GenerationHash); ok {
		return obj, prev, false, nil
	}
	if prev != nil && prev.RefCount() == 1 && (updateOnly || prev.AssetHash == hg.AssetHash) {
		return prev, prev, false, nil
	}
	if updateOnly && prev == nil {
		// nothing to refresh; the classifier reports it
		return nil, nil, false, nil
	}
	obj, isNew, err = m.objects.LookupOrCreate(hg.AssetHash, hg.GenerationHash, frame)
	return obj, prev, isNew, err
}

// rebindInstance moves the instance's references to object and material. The
// caller already holds one material reference for this draw call.
func (m *SceneManager) rebindInstance(change InstanceChange, object ObjectHandle, material cache.Index, frame uint32) error {
	if change.Added {
		return m.objects.Acquire(object)
	}
	if change.PrevObject != object {
		if err := m.objects.Acquire(object); err != nil {
			return err
		}
		if err := m.objects.Release(change.PrevObject, frame); err != nil {
			return err
		}
	}
	if change.PrevMaterial == material {
		m.resources.releaseMaterial(material, frame)
	} else {
		m.resources.releaseMaterial(change.PrevMaterial, frame)
	}
	return nil
}

// abandonObject hands an object nobody references to the collector so its
// buffers are released after the grace window.
func (m *SceneManager) abandonObject(obj *SceneObject, frame uint32) {
	if obj.RefCount() != 0 {
		return
	}
	if err := m.objects.Acquire(obj.Handle); err != nil {
		return
	}
	_ = m.objects.Release(obj.Handle, frame)
}

// updateObjectGeometry points obj at buffers holding hg's content. New buffer
// references are taken before the old ones are dropped.
func (m *SceneManager) updateObjectGeometry(obj *SceneObject, hg *HashedGeometry, frame uint32) error {
	g := hg.Geometry
	var next [bufferComponentCount]cache.Index
	for i := range next {
		next[i] = cache.InvalidIndex
	}
	for c := Component(0); int(c) < bufferComponentCount; c++ {
		raw, stride := componentBytes(g, c)
		if len(raw) == 0 {
			continue
		}
		idx, err := m.resources.trackBuffer(c, hg.Hashes[c], raw, stride)
		if err != nil {
			for _, acquired := range next {
				m.resources.releaseBuffer(acquired, frame)
			}
			return err
		}
		next[c] = idx
	}

	keepPositions := m.cfg.Classifier.RebuildVertexDelta > 0

	var prev [bufferComponentCount]cache.Index
	m.objects.mutate(func() {
		prev = obj.Buffers
		obj.Buffers = next
		obj.Hashes = hg.Hashes
		m.objects.rekeyLocked(obj, hg.AssetHash, hg.GenerationHash)
		obj.Topology = g.Topology
		obj.VertexCount = g.VertexCount()
		obj.IndexCount = g.IndexCount()
		obj.FrameLastUpdated = frame
		if keepPositions {
			obj.Positions = slices.Clone(g.Positions)
		} else {
			obj.Positions = nil
		}
	})
	for _, idx := range prev {
		m.resources.releaseBuffer(idx, frame)
	}
	return nil
}

func (m *SceneManager) reject(err error) (ObjectCacheState, error) {
	m.metrics.DrawCallsRejected.Inc()
	if errors.Is(err, core.ErrCacheExhausted) {
		core.LogError("draw call rejected at frame %d: %s", m.frame.Load(), err)
	} else {
		core.LogWarn("draw call rejected at frame %d: %s", m.frame.Load(), err)
	}
	return StateInvalid, err
}

// TrackSampler takes a reference on a sampler for the upload subsystem.
func (m *SceneManager) TrackSampler(s SamplerInfo) (cache.Index, error) {
	if !m.initialized {
		return cache.InvalidIndex, core.ErrNotInitialized
	}
	return m.resources.trackSampler(s)
}

// TrackMaterial takes a reference on a material; the material keeps its
// sampler alive.
func (m *SceneManager) TrackMaterial(mat SurfaceMaterial, s SamplerInfo) (cache.Index, error) {
	if !m.initialized {
		return cache.InvalidIndex, core.ErrNotInitialized
	}
	return m.resources.trackMaterial(mat, s, m.frame.Load())
}

// TrackBuffer takes a reference on a raw buffer. b.Hash is computed when zero.
func (m *SceneManager) TrackBuffer(b RaytraceBuffer) (cache.Index, error) {
	if !m.initialized {
		return cache.InvalidIndex, core.ErrNotInitialized
	}
	if b.Hash == 0 {
		b.Hash = hashSlice(b.Data)
	}
	return m.resources.trackBuffer(b.Component, b.Hash, b.Data, b.Stride)
}

func (m *SceneManager) ReleaseSampler(idx cache.Index) error {
	if !m.initialized {
		return core.ErrNotInitialized
	}
	return m.resources.samplers.Release(idx, m.frame.Load())
}

func (m *SceneManager) ReleaseMaterial(idx cache.Index) error {
	if !m.initialized {
		return core.ErrNotInitialized
	}
	return m.resources.materials.Release(idx, m.frame.Load())
}

func (m *SceneManager) ReleaseBuffer(idx cache.Index) error {
	if !m.initialized {
		return core.ErrNotInitialized
	}
	return m.resources.buffers.Release(idx, m.frame.Load())
}

// EndFrame reconciles instances, resolves the pending pick, hands the frame
// update to the builder and then collects garbage.
func (m *SceneManager) EndFrame(reader SurfaceReader) (*FrameUpdate, error) {
	if err := m.checkFrame(); err != nil {
		return nil, err
	}
	start := time.Now()
	frame := m.frame.Load()

	_, span := otel.Tracer(tracerName).Start(context.Background(), "scene.EndFrame",
		trace.WithAttributes(attribute.Int("scene.frame", int(frame))))
	defer span.End()

	notes := m.instances.Reconcile(frame, func(inst *Instance) {
		if err := m.objects.Release(inst.Object, frame); err != nil {
			core.LogError(err.Error())
		}
		m.resources.releaseMaterial(inst.Material, frame)
	})

	update := &FrameUpdate{
		Frame:            frame,
		RemovedInstances: notes.Removed,
		UpdatedInstances: notes.Updated,
		AddedInstances:   notes.Added,
		DestroyedObjects: m.destroyed,
	}
	for h, state := range m.work {
		switch state {
		case StateBuildBVH:
			update.BuildObjects = append(update.BuildObjects, h)
		case StateUpdateBVH:
			update.RefitObjects = append(update.RefitObjects, h)
		}
	}
	slices.Sort(update.BuildObjects)
	slices.Sort(update.RefitObjects)

	m.fireInstanceEvents(core.EVENT_CODE_INSTANCE_REMOVED, frame, update.RemovedInstances)
	m.fireInstanceEvents(core.EVENT_CODE_INSTANCE_UPDATED, frame, update.UpdatedInstances)
	m.fireInstanceEvents(core.EVENT_CODE_INSTANCE_ADDED, frame, update.AddedInstances)
	m.fireObjectEvents(core.EVENT_CODE_OBJECT_BUILD, frame, update.BuildObjects)
	m.fireObjectEvents(core.EVENT_CODE_OBJECT_REFIT, frame, update.RefitObjects)

	m.picks.Resolve(frame, reader)

	if m.builder != nil {
		m.builder.OnFrameUpdate(update)
	}

	stats := m.gc.Run(frame)
	m.destroyed = stats.Destroyed

	m.metrics.ObjectsLive.Set(float64(m.objects.Len()))
	m.metrics.InstancesLive.Set(float64(m.instances.Len()))
	m.metrics.FrameEndSeconds.Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.Int("scene.instances.removed", len(update.RemovedInstances)),
		attribute.Int("scene.instances.added", len(update.AddedInstances)),
		attribute.Int("scene.objects.build", len(update.BuildObjects)),
		attribute.Int("scene.objects.refit", len(update.RefitObjects)),
		attribute.Int("scene.gc.objects", stats.Objects),
	)

	clear(m.work)
	m.inFrame = false
	return update, nil
}

// CollectGarbage runs the collector for the current frame outside EndFrame.
// It reclaims nothing if EndFrame already collected this frame.
func (m *SceneManager) CollectGarbage() (GCStats, error) {
	if !m.initialized {
		return GCStats{}, core.ErrNotInitialized
	}
	stats := m.gc.Run(m.frame.Load())
	m.destroyed = append(m.destroyed, stats.Destroyed...)
	return stats, nil
}

func (m *SceneManager) fireInstanceEvents(code core.SystemEventCode, frame uint32, handles []InstanceHandle) {
	for _, h := range handles {
		ctx := core.EventContext{Frame: frame, Handle: h}
		if inst, ok := m.instances.Get(h); ok {
			ctx.Key = inst.Key
		}
		m.events.Fire(code, m, ctx)
	}
}

func (m *SceneManager) fireObjectEvents(code core.SystemEventCode, frame uint32, handles []ObjectHandle) {
	for _, h := range handles {
		ctx := core.EventContext{Frame: frame, Handle: h}
		if obj, ok := m.objects.Get(h); ok {
			ctx.Key = obj.AssetHash
		}
		m.events.Fire(code, m, ctx)
	}
}

// Snapshot copies the object, instance, material and sampler tables.
func (m *SceneManager) Snapshot() (*Snapshot, error) {
	if !m.initialized {
		return nil, core.ErrNotInitialized
	}
	s := &Snapshot{
		Frame:     m.frame.Load(),
		Materials: m.resources.materials.Table(),
		Samplers:  m.resources.samplers.Table(),
		Buffers:   m.resources.BufferCount(),
	}
	m.objects.ForEach(func(obj *SceneObject) {
		cp := *obj
		cp.Positions = nil
		s.Objects = append(s.Objects, cp)
	})
	m.instances.ForEach(func(inst *Instance) {
		if !inst.Removed {
			s.Instances = append(s.Instances, *inst)
		}
	})
	return s, nil
}
