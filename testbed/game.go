package testbed

import (
	"context"
	"errors"
	"fmt"
	stdmath "math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/exp/rand"

	"github.com/spaghettifunk/rtscene/engine"
	"github.com/spaghettifunk/rtscene/engine/cache"
	"github.com/spaghettifunk/rtscene/engine/core"
	"github.com/spaghettifunk/rtscene/engine/scene"
)

const (
	maxCubes = 32
	// frames between two plane tessellation swaps
	retessellateEvery = 120
)

type TestGame struct {
	*engine.Game
}

type entityKind uint8

const (
	entityCube entityKind = iota
	entityPlane
)

type entity struct {
	key      uint64
	kind     entityKind
	geometry scene.GeometryData
	position mgl32.Vec3
	angle    float32
	spin     float32
	material int
}

// FrameStats accumulates what the scene reported back to the game.
type FrameStats struct {
	Frames    int
	Builds    int
	Refits    int
	Added     int
	Updated   int
	Removed   int
	Destroyed int
}

type gameState struct {
	rng      *rand.Rand
	entities []*entity
	nextKey  uint64

	plane        *entity
	flatPlane    scene.GeometryData
	planeDetail  uint32
	spawnChance  float32
	despawnRatio float32

	mu    sync.Mutex
	stats FrameStats
}

var palette = []scene.SurfaceMaterial{
	{AlbedoOpacity: mgl32.Vec4{0.8, 0.2, 0.2, 1}, Roughness: 0.6, AlbedoTexture: 1, LegacyTextureHash: 0x5eed0001},
	{AlbedoOpacity: mgl32.Vec4{0.2, 0.8, 0.2, 1}, Roughness: 0.3, Metallic: 0.5, AlbedoTexture: 2, LegacyTextureHash: 0x5eed0002},
	{AlbedoOpacity: mgl32.Vec4{0.2, 0.2, 0.8, 1}, Roughness: 0.9, AlbedoTexture: 3, LegacyTextureHash: 0x5eed0003},
}

var terrainMaterial = scene.SurfaceMaterial{
	AlbedoOpacity:     mgl32.Vec4{0.4, 0.35, 0.3, 1},
	Roughness:         1,
	AlbedoTexture:     10,
	NormalTexture:     11,
	LegacyTextureHash: 0x7e44a1,
}

var linearSampler = scene.SamplerInfo{
	MagFilter:     scene.FilterLinear,
	MinFilter:     scene.FilterLinear,
	MipFilter:     scene.FilterLinear,
	MaxAnisotropy: 8,
}

var cubeSizes = []float32{1, 2, 5}

func NewTestGame(app *engine.ApplicationConfig, seed uint64) (*TestGame, error) {
	if app == nil {
		return nil, fmt.Errorf("testbed requires an application config")
	}
	state := &gameState{
		rng:          rand.New(rand.NewSource(seed)),
		planeDetail:  4,
		spawnChance:  0.05,
		despawnRatio: 0.03,
	}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: app,
			State:             state,
		},
	}
	tg.Builder = scene.AccelBuilderFunc(tg.onFrameUpdate)
	tg.Reader = &surfaceReader{game: tg}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnSubmit = tg.Submit
	tg.FnOnFrameEnd = tg.OnFrameEnd
	tg.FnShutdown = tg.Shutdown

	return tg, nil
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize() error {
	core.LogDebug("TestGame Initialize fn....")

	if g.Scene == nil {
		return fmt.Errorf("the engine is not yet initialized with a scene manager")
	}
	state := g.state()

	// Three cubes of the same size share one scene object.
	for i, pos := range []mgl32.Vec3{{0, 0, 0}, {10, 0, 1}, {5, 0, 1}} {
		state.spawnCube(pos, 2, i%len(palette))
	}

	state.flatPlane = GeneratePlane(50, 50, state.planeDetail, state.planeDetail, 4, 4)
	state.plane = &entity{
		key:      state.newKey(),
		kind:     entityPlane,
		geometry: state.flatPlane,
		position: mgl32.Vec3{0, -5, 0},
		material: -1,
	}
	state.entities = append(state.entities, state.plane)

	g.Scene.Events().Register(core.EVENT_CODE_INSTANCE_REMOVED, g, g.onSceneEvent)
	g.Scene.Events().Register(core.EVENT_CODE_OBJECT_DESTROYED, g, g.onSceneEvent)
	return nil
}

func (s *gameState) newKey() uint64 {
	s.nextKey++
	return s.nextKey
}

func (s *gameState) spawnCube(pos mgl32.Vec3, size float32, material int) *entity {
	e := &entity{
		key:      s.newKey(),
		kind:     entityCube,
		geometry: GenerateCube(size, size, size, 1, 1),
		position: pos,
		spin:     0.5,
		material: material,
	}
	s.entities = append(s.entities, e)
	return e
}

func (s *gameState) cubeCount() int {
	n := 0
	for _, e := range s.entities {
		if e.kind == entityCube {
			n++
		}
	}
	return n
}

func (g *TestGame) Update(frame uint32, deltaTime float64) error {
	state := g.state()

	// Perform a small rotation on every cube.
	for _, e := range state.entities {
		if e.kind == entityCube {
			e.angle += e.spin * float32(deltaTime)
		}
	}

	// Animate the terrain in place, which refits its acceleration structure.
	if frame > 0 && frame%retessellateEvery == 0 {
		if state.planeDetail == 4 {
			state.planeDetail = 8
		} else {
			state.planeDetail = 4
		}
		state.flatPlane = GeneratePlane(50, 50, state.planeDetail, state.planeDetail, 4, 4)
		core.LogDebug("terrain retessellated to %dx%d at frame %d", state.planeDetail, state.planeDetail, frame)
	}
	t := float32(frame) / 60
	state.plane.geometry = Displace(state.flatPlane, func(p mgl32.Vec3) float32 {
		return 0.5 * float32(stdmath.Sin(float64(p.X()*0.3+t)))
	})

	if state.cubeCount() < maxCubes && state.rng.Float32() < state.spawnChance {
		pos := mgl32.Vec3{
			state.rng.Float32()*40 - 20,
			state.rng.Float32() * 10,
			state.rng.Float32()*40 - 20,
		}
		size := cubeSizes[state.rng.Intn(len(cubeSizes))]
		e := state.spawnCube(pos, size, state.rng.Intn(len(palette)))
		core.LogDebug("spawned cube %d (size %.0f) at frame %d", e.key, size, frame)
	}
	if len(state.entities) > 1 && state.rng.Float32() < state.despawnRatio {
		i := state.rng.Intn(len(state.entities))
		if e := state.entities[i]; e.kind == entityCube {
			state.entities = append(state.entities[:i], state.entities[i+1:]...)
			core.LogDebug("despawned cube %d at frame %d", e.key, frame)
		}
	}
	return nil
}

func (g *TestGame) Submit(frame uint32) ([]scene.DrawCall, error) {
	state := g.state()
	dcs := make([]scene.DrawCall, 0, len(state.entities))
	for _, e := range state.entities {
		dc := scene.DrawCall{
			InstanceKey: e.key,
			Geometry:    e.geometry,
			Sampler:     linearSampler,
			Transform:   mgl32.Translate3D(e.position.X(), e.position.Y(), e.position.Z()).Mul4(mgl32.HomogRotate3DY(e.angle)),
			Visibility:  scene.VisibilityAll,
		}
		if e.kind == entityPlane {
			dc.Material = terrainMaterial
			dc.Category = scene.CategoryTerrain
		} else {
			dc.Material = palette[e.material]
		}
		dcs = append(dcs, dc)
	}
	return dcs, nil
}

func (g *TestGame) OnFrameEnd(update *scene.FrameUpdate) error {
	if idx, color, ok := g.Scene.Highlighter().Access(update.Frame); ok {
		core.LogDebug("highlighting material %d (color %d) at frame %d", idx, color, update.Frame)
	}
	return nil
}

func (g *TestGame) Shutdown() error {
	state := g.state()
	stats := state.Stats()
	core.LogInfo("testbed ran %d frames: %d builds, %d refits, %d instances added, %d removed, %d objects destroyed",
		stats.Frames, stats.Builds, stats.Refits, stats.Added, stats.Removed, stats.Destroyed)
	state.entities = nil
	return nil
}

// Stats returns a copy of the accumulated frame statistics.
func (g *TestGame) Stats() FrameStats {
	return g.state().Stats()
}

func (s *gameState) Stats() FrameStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (g *TestGame) onFrameUpdate(update *scene.FrameUpdate) {
	state := g.state()
	state.mu.Lock()
	state.stats.Frames++
	state.stats.Builds += len(update.BuildObjects)
	state.stats.Refits += len(update.RefitObjects)
	state.stats.Added += len(update.AddedInstances)
	state.stats.Updated += len(update.UpdatedInstances)
	state.mu.Unlock()

	if len(update.BuildObjects) > 0 || len(update.DestroyedObjects) > 0 {
		core.LogDebug("frame %d: build %v, refit %d, destroyed %v",
			update.Frame, update.BuildObjects, len(update.RefitObjects), update.DestroyedObjects)
	}
}

func (g *TestGame) onSceneEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, context core.EventContext) bool {
	state := g.state()
	state.mu.Lock()
	defer state.mu.Unlock()
	switch code {
	case core.EVENT_CODE_INSTANCE_REMOVED:
		state.stats.Removed++
	case core.EVENT_CODE_OBJECT_DESTROYED:
		state.stats.Destroyed++
	}
	return false
}

// surfaceReader stands in for the GPU readback of the material id buffer.
// The readback of a frame lands one frame later, so odd frames report not ready.
type surfaceReader struct {
	game *TestGame
}

func (r *surfaceReader) SurfaceAt(x, y, frame uint32) (cache.Index, bool) {
	if frame%2 == 1 {
		return cache.InvalidIndex, false
	}
	state := r.game.state()
	if len(state.entities) == 0 {
		return cache.InvalidIndex, true
	}
	e := state.entities[(x+y)%uint32(len(state.entities))]
	inst, ok := r.game.Scene.Instances().Find(e.key)
	if !ok {
		return cache.InvalidIndex, true
	}
	return inst.Material, true
}

// Tooling plays the role of an editor overlay running on its own goroutine:
// it picks surfaces, asks for their legacy texture hash and highlights them.
func (g *TestGame) Tooling(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var x, y uint32
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		sm := g.Scene
		if res, ok := sm.Picks().TryConsume(); ok {
			if !res.Hit() {
				core.LogDebug("pick %s at (%d, %d) hit nothing", res.Request.ID, res.Request.X, res.Request.Y)
			} else if err := g.inspectMaterial(ctx, res.MaterialIndex, interval); err != nil {
				return err
			}
		}

		x, y = x+37, y+11
		sm.Picks().Submit(x%1280, y%720, sm.Frame())
	}
}

func (g *TestGame) inspectMaterial(ctx context.Context, idx cache.Index, timeout time.Duration) error {
	sm := g.Scene
	promise := sm.TextureHashes().Request(idx)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := promise.Wait(waitCtx)
	switch {
	case err == nil:
		core.LogInfo("material %d uses legacy texture %016x (frame %d)", idx, res.LegacyHash, res.Frame)
		sm.Highlighter().RequestLegacyTexture(res.LegacyHash, scene.HighlightColorUI, sm.Frame())
		return nil
	case errors.Is(err, core.ErrStaleRequest), errors.Is(err, context.DeadlineExceeded):
		core.LogDebug("texture hash request for material %d dropped: %s", idx, err.Error())
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}
