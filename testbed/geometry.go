package testbed

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/rtscene/engine/core"
	"github.com/spaghettifunk/rtscene/engine/scene"
)

// position + normal + texcoord, as the game would lay them out
const vertexStride = 4 * (3 + 3 + 2)

/**
 * @brief Generates a plane in the xy plane, facing +z.
 *
 * @param width The overall width of the plane. Must be non-zero.
 * @param height The overall height of the plane. Must be non-zero.
 * @param xSegmentCount The number of segments along the x-axis in the plane. Must be non-zero.
 * @param ySegmentCount The number of segments along the y-axis in the plane. Must be non-zero.
 * @param tileX The number of times the texture should tile across the plane on the x-axis. Must be non-zero.
 * @param tileY The number of times the texture should tile across the plane on the y-axis. Must be non-zero.
 * @return Indexed triangle list geometry.
 */
func GeneratePlane(width, height float32, xSegmentCount, ySegmentCount uint32, tileX, tileY float32) scene.GeometryData {
	if width == 0 {
		core.LogWarn("Width must be nonzero. Defaulting to one.")
		width = 1.0
	}
	if height == 0 {
		core.LogWarn("Height must be nonzero. Defaulting to one.")
		height = 1.0
	}
	if xSegmentCount < 1 {
		core.LogWarn("xSegmentCount must be a positive number. Defaulting to one.")
		xSegmentCount = 1
	}
	if ySegmentCount < 1 {
		core.LogWarn("ySegmentCount must be a positive number. Defaulting to one.")
		ySegmentCount = 1
	}
	if tileX == 0 {
		core.LogWarn("tileX must be nonzero. Defaulting to one.")
		tileX = 1.0
	}
	if tileY == 0 {
		core.LogWarn("tileY must be nonzero. Defaulting to one.")
		tileY = 1.0
	}

	segments := xSegmentCount * ySegmentCount
	g := scene.GeometryData{
		Topology:     scene.TopologyTriangleList,
		Positions:    make([]mgl32.Vec3, segments*4), // 4 verts per segment
		Normals:      make([]mgl32.Vec3, segments*4),
		Texcoords:    make([]mgl32.Vec2, segments*4),
		Indices:      make([]uint32, segments*6), // 6 indices per segment
		VertexStride: vertexStride,
	}

	// NOTE: shared edges are duplicated per segment.
	segWidth := width / float32(xSegmentCount)
	segHeight := height / float32(ySegmentCount)
	halfWidth := width * 0.5
	halfHeight := height * 0.5
	for y := uint32(0); y < ySegmentCount; y++ {
		for x := uint32(0); x < xSegmentCount; x++ {
			minX := (float32(x) * segWidth) - halfWidth
			minY := (float32(y) * segHeight) - halfHeight
			maxX := minX + segWidth
			maxY := minY + segHeight
			minUVX := (float32(x) / float32(xSegmentCount)) * tileX
			minUVY := (float32(y) / float32(ySegmentCount)) * tileY
			maxUVX := (float32(x+1) / float32(xSegmentCount)) * tileX
			maxUVY := (float32(y+1) / float32(ySegmentCount)) * tileY

			vOffset := ((y * xSegmentCount) + x) * 4
			g.Positions[vOffset+0] = mgl32.Vec3{minX, minY, 0}
			g.Positions[vOffset+1] = mgl32.Vec3{maxX, maxY, 0}
			g.Positions[vOffset+2] = mgl32.Vec3{minX, maxY, 0}
			g.Positions[vOffset+3] = mgl32.Vec3{maxX, minY, 0}
			g.Texcoords[vOffset+0] = mgl32.Vec2{minUVX, minUVY}
			g.Texcoords[vOffset+1] = mgl32.Vec2{maxUVX, maxUVY}
			g.Texcoords[vOffset+2] = mgl32.Vec2{minUVX, maxUVY}
			g.Texcoords[vOffset+3] = mgl32.Vec2{maxUVX, minUVY}
			for i := uint32(0); i < 4; i++ {
				g.Normals[vOffset+i] = mgl32.Vec3{0, 0, 1}
			}

			iOffset := ((y * xSegmentCount) + x) * 6
			g.Indices[iOffset+0] = vOffset + 0
			g.Indices[iOffset+1] = vOffset + 1
			g.Indices[iOffset+2] = vOffset + 2
			g.Indices[iOffset+3] = vOffset + 0
			g.Indices[iOffset+4] = vOffset + 3
			g.Indices[iOffset+5] = vOffset + 1
		}
	}
	return g
}

// cube faces: outward normal plus the four corners in winding order
var cubeFaces = [6]struct {
	normal  mgl32.Vec3
	corners [4][3]int8
}{
	// Front face
	{mgl32.Vec3{0, 0, 1}, [4][3]int8{{-1, -1, 1}, {1, 1, 1}, {-1, 1, 1}, {1, -1, 1}}},
	// Back face
	{mgl32.Vec3{0, 0, -1}, [4][3]int8{{1, -1, -1}, {-1, 1, -1}, {1, 1, -1}, {-1, -1, -1}}},
	// Left
	{mgl32.Vec3{-1, 0, 0}, [4][3]int8{{-1, -1, -1}, {-1, 1, 1}, {-1, 1, -1}, {-1, -1, 1}}},
	// Right face
	{mgl32.Vec3{1, 0, 0}, [4][3]int8{{1, -1, 1}, {1, 1, -1}, {1, 1, 1}, {1, -1, -1}}},
	// Bottom face
	{mgl32.Vec3{0, -1, 0}, [4][3]int8{{1, -1, 1}, {-1, -1, -1}, {1, -1, -1}, {-1, -1, 1}}},
	// Top face
	{mgl32.Vec3{0, 1, 0}, [4][3]int8{{-1, 1, 1}, {1, 1, -1}, {-1, 1, -1}, {1, 1, 1}}},
}

// GenerateCube builds an axis aligned box centred on the origin with 4
// vertices per side.
func GenerateCube(width, height, depth, tileX, tileY float32) scene.GeometryData {
	if width == 0 {
		core.LogWarn("Width must be nonzero. Defaulting to one.")
		width = 1.0
	}
	if height == 0 {
		core.LogWarn("Height must be nonzero. Defaulting to one.")
		height = 1.0
	}
	if depth == 0 {
		core.LogWarn("Depth must be nonzero. Defaulting to one.")
		depth = 1
	}
	if tileX == 0 {
		core.LogWarn("tileX must be nonzero. Defaulting to one.")
		tileX = 1.0
	}
	if tileY == 0 {
		core.LogWarn("tileY must be nonzero. Defaulting to one.")
		tileY = 1.0
	}

	half := mgl32.Vec3{width * 0.5, height * 0.5, depth * 0.5}
	uvs := [4]mgl32.Vec2{{0, 0}, {tileX, tileY}, {0, tileY}, {tileX, 0}}

	g := scene.GeometryData{
		Topology:     scene.TopologyTriangleList,
		Positions:    make([]mgl32.Vec3, 0, 4*6), // 4 verts per side, 6 sides
		Normals:      make([]mgl32.Vec3, 0, 4*6),
		Texcoords:    make([]mgl32.Vec2, 0, 4*6),
		Indices:      make([]uint32, 0, 6*6),
		VertexStride: vertexStride,
	}
	for i, face := range cubeFaces {
		for c, corner := range face.corners {
			g.Positions = append(g.Positions, mgl32.Vec3{
				float32(corner[0]) * half[0],
				float32(corner[1]) * half[1],
				float32(corner[2]) * half[2],
			})
			g.Normals = append(g.Normals, face.normal)
			g.Texcoords = append(g.Texcoords, uvs[c])
		}
		v := uint32(i * 4)
		g.Indices = append(g.Indices, v+0, v+1, v+2, v+0, v+3, v+1)
	}
	return g
}

// Displace offsets every vertex along its normal by fn(position). The result
// shares indices, texcoords and normals with g.
func Displace(g scene.GeometryData, fn func(p mgl32.Vec3) float32) scene.GeometryData {
	out := g
	out.Positions = make([]mgl32.Vec3, len(g.Positions))
	for i, p := range g.Positions {
		n := mgl32.Vec3{0, 0, 1}
		if i < len(g.Normals) {
			n = g.Normals[i]
		}
		out.Positions[i] = p.Add(n.Mul(fn(p)))
	}
	return out
}
