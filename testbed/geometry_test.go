package testbed

import (
	"io"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/rtscene/engine/core"
)

func init() {
	core.SetLogOutput(io.Discard)
}

func TestGenerateCube(t *testing.T) {
	g := GenerateCube(2, 4, 6, 1, 1)
	require.NoError(t, g.Validate())
	assert.Equal(t, uint32(24), g.VertexCount())
	assert.Equal(t, uint32(36), g.IndexCount())
	assert.Len(t, g.Normals, 24)

	for _, p := range g.Positions {
		assert.InDelta(t, 1, abs(p.X()), 1e-6)
		assert.InDelta(t, 2, abs(p.Y()), 1e-6)
		assert.InDelta(t, 3, abs(p.Z()), 1e-6)
	}
	// front face looks down +z
	assert.Equal(t, mgl32.Vec3{0, 0, 1}, g.Normals[0])
}

func TestGenerateCubeDefaultsZeroSizes(t *testing.T) {
	g := GenerateCube(0, 0, 0, 0, 0)
	require.NoError(t, g.Validate())
	assert.InDelta(t, 0.5, abs(g.Positions[0].X()), 1e-6)
}

func TestGeneratePlane(t *testing.T) {
	g := GeneratePlane(10, 10, 4, 2, 1, 1)
	require.NoError(t, g.Validate())
	assert.Equal(t, uint32(4*2*4), g.VertexCount())
	assert.Equal(t, uint32(4*2*6), g.IndexCount())
	for _, p := range g.Positions {
		assert.LessOrEqual(t, abs(p.X()), float32(5))
		assert.Zero(t, p.Z())
	}
	// last vertex of the last segment sits on the far corner
	assert.Equal(t, mgl32.Vec2{1, 1}, g.Texcoords[len(g.Texcoords)-3])
}

func TestDisplaceKeepsTopology(t *testing.T) {
	flat := GeneratePlane(10, 10, 2, 2, 1, 1)
	bumped := Displace(flat, func(p mgl32.Vec3) float32 { return 1 })

	assert.Equal(t, flat.Indices, bumped.Indices)
	assert.Equal(t, flat.Texcoords, bumped.Texcoords)
	for i := range flat.Positions {
		assert.Equal(t, flat.Positions[i].Add(mgl32.Vec3{0, 0, 1}), bumped.Positions[i])
	}
	assert.Zero(t, flat.Positions[0].Z(), "source positions are not modified")
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
