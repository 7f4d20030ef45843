package scene

import (
	"io"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/rtscene/engine/cache"
	"github.com/spaghettifunk/rtscene/engine/config"
	"github.com/spaghettifunk/rtscene/engine/core"
)

func init() {
	core.SetLogOutput(io.Discard)
}

// mesh builds an indexed triangle list with n vertices. Different seeds give
// different texcoords and therefore different asset hashes.
func mesh(n int, seed float32) GeometryData {
	g := GeometryData{Topology: TopologyTriangleList, VertexStride: 20}
	for i := 0; i < n; i++ {
		g.Positions = append(g.Positions, mgl32.Vec3{float32(i), seed, 0})
		g.Texcoords = append(g.Texcoords, mgl32.Vec2{seed, float32(i)})
		g.Indices = append(g.Indices, uint32(i))
	}
	return g
}

// moved shifts the first count vertices of g, leaving layout and indices alone.
func moved(g GeometryData, count int) GeometryData {
	out := g
	out.Positions = append([]mgl32.Vec3(nil), g.Positions...)
	for i := 0; i < count && i < len(out.Positions); i++ {
		out.Positions[i] = out.Positions[i].Add(mgl32.Vec3{0, 0.5, 0})
	}
	return out
}

func drawCall(key uint64, g GeometryData) DrawCall {
	return DrawCall{
		InstanceKey: key,
		Geometry:    g,
		Material: SurfaceMaterial{
			AlbedoOpacity: mgl32.Vec4{1, 1, 1, 1},
			Roughness:     0.5,
		},
		Sampler:    SamplerInfo{MagFilter: FilterLinear, MinFilter: FilterLinear},
		Transform:  mgl32.Ident4(),
		Visibility: VisibilityAll,
	}
}

func defaultRules(t *testing.T) (HashRule, HashRule) {
	t.Helper()
	cfg := config.Default()
	asset, err := ParseHashRule(cfg.Hashing.AssetRule)
	require.NoError(t, err)
	generation, err := ParseHashRule(cfg.Hashing.GenerationRule)
	require.NoError(t, err)
	return asset, generation
}

type recordingBuilder struct {
	updates []*FrameUpdate
}

func (b *recordingBuilder) OnFrameUpdate(u *FrameUpdate) {
	b.updates = append(b.updates, u)
}

func (b *recordingBuilder) last() *FrameUpdate {
	return b.updates[len(b.updates)-1]
}

type fixedReader struct {
	material cache.Index
	ready    bool
}

func (r fixedReader) SurfaceAt(x, y, frame uint32) (cache.Index, bool) {
	return r.material, r.ready
}

func newTestManager(t *testing.T, mutate func(cfg *config.Config)) (*SceneManager, *recordingBuilder) {
	t.Helper()
	cfg := config.Default()
	cfg.Hashing.Workers = 2
	if mutate != nil {
		mutate(cfg)
	}
	builder := &recordingBuilder{}
	m, err := NewSceneManager(cfg, builder)
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	t.Cleanup(func() { _ = m.Destroy() })
	return m, builder
}

func runFrame(t *testing.T, m *SceneManager, frame uint32, dcs ...DrawCall) ([]ObjectCacheState, *FrameUpdate) {
	t.Helper()
	require.NoError(t, m.BeginFrame(frame))
	states := make([]ObjectCacheState, len(dcs))
	for i := range dcs {
		state, err := m.SubmitDrawCall(&dcs[i])
		require.NoError(t, err)
		states[i] = state
	}
	update, err := m.EndFrame(nil)
	require.NoError(t, err)
	return states, update
}
