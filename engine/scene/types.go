package scene

import (
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/cespare/xxhash/v2"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/rtscene/engine/cache"
	"github.com/spaghettifunk/rtscene/engine/core"
)

// ObjectHandle addresses a SceneObject in the draw-call cache.
type ObjectHandle = uint32

// InstanceHandle addresses a live or pending-reap Instance.
type InstanceHandle = uint32

const InvalidHandle uint32 = core.InvalidID

/** @brief Primitive layout of a draw call. */
type Topology uint8

const (
	TopologyTriangleList Topology = iota
	TopologyTriangleStrip
)

/** @brief Categories assigned to geometry by the submitter. */
type CategoryFlags uint32

const (
	CategorySky CategoryFlags = 1 << iota
	CategoryIgnore
	CategoryDecal
	CategoryParticle
	CategoryTerrain
	CategoryAnimatedWater
	CategoryThirdPersonPlayer
)

/** @brief Per-instance visibility bits consumed by the ray tracer. */
type VisibilityMask uint8

const (
	VisibilityPrimary VisibilityMask = 1 << iota
	VisibilitySecondary
	VisibilityShadow
	VisibilityAll = VisibilityPrimary | VisibilitySecondary | VisibilityShadow
)

/**
 * @brief Geometry submitted by one draw call. Attribute arrays other than
 * Positions are optional but, when present, have one entry per vertex.
 */
type GeometryData struct {
	Topology  Topology
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Texcoords []mgl32.Vec2
	Colors    []uint32
	Indices   []uint32
	/** @brief Stride of the interleaved source vertex buffer, part of the layout. */
	VertexStride uint32
}

func (g *GeometryData) VertexCount() uint32 {
	return uint32(len(g.Positions))
}

func (g *GeometryData) IndexCount() uint32 {
	return uint32(len(g.Indices))
}

// Validate checks the geometry is self consistent.
func (g *GeometryData) Validate() error {
	n := len(g.Positions)
	if n == 0 {
		return fmt.Errorf("%w: no vertices", core.ErrInvalidDrawCall)
	}
	if len(g.Normals) != 0 && len(g.Normals) != n {
		return fmt.Errorf("%w: %d normals for %d vertices", core.ErrInvalidDrawCall, len(g.Normals), n)
	}
	if len(g.Texcoords) != 0 && len(g.Texcoords) != n {
		return fmt.Errorf("%w: %d texcoords for %d vertices", core.ErrInvalidDrawCall, len(g.Texcoords), n)
	}
	if len(g.Colors) != 0 && len(g.Colors) != n {
		return fmt.Errorf("%w: %d colors for %d vertices", core.ErrInvalidDrawCall, len(g.Colors), n)
	}

	primitives := n
	if len(g.Indices) > 0 {
		primitives = len(g.Indices)
		for i, idx := range g.Indices {
			if idx >= uint32(n) {
				return fmt.Errorf("%w: index %d at %d out of range (%d vertices)", core.ErrInvalidDrawCall, idx, i, n)
			}
		}
	}
	switch g.Topology {
	case TopologyTriangleList:
		if primitives%3 != 0 {
			return fmt.Errorf("%w: triangle list with %d elements", core.ErrInvalidDrawCall, primitives)
		}
	case TopologyTriangleStrip:
		if primitives < 3 {
			return fmt.Errorf("%w: triangle strip with %d elements", core.ErrInvalidDrawCall, primitives)
		}
	default:
		return fmt.Errorf("%w: unknown topology %d", core.ErrInvalidDrawCall, g.Topology)
	}
	return nil
}

type FilterMode uint8

const (
	FilterNearest FilterMode = iota
	FilterLinear
)

type AddressMode uint8

const (
	AddressRepeat AddressMode = iota
	AddressMirroredRepeat
	AddressClampToEdge
	AddressClampToBorder
)

// SamplerInfo describes sampler state. Seed carries backend bookkeeping that
// does not affect sampling, so equality ignores it.
type SamplerInfo struct {
	MagFilter     FilterMode
	MinFilter     FilterMode
	MipFilter     FilterMode
	AddressU      AddressMode
	AddressV      AddressMode
	AddressW      AddressMode
	MipLodBias    float32
	MaxAnisotropy float32
	BorderColor   mgl32.Vec4
	Seed          uint64
}

func (s SamplerInfo) Equal(o SamplerInfo) bool {
	return s.MagFilter == o.MagFilter &&
		s.MinFilter == o.MinFilter &&
		s.MipFilter == o.MipFilter &&
		s.AddressU == o.AddressU &&
		s.AddressV == o.AddressV &&
		s.AddressW == o.AddressW &&
		floatBits(s.MipLodBias) == floatBits(o.MipLodBias) &&
		floatBits(s.MaxAnisotropy) == floatBits(o.MaxAnisotropy) &&
		vec4Bits(s.BorderColor) == vec4Bits(o.BorderColor)
}

// Hash covers the same fields as Equal.
func (s SamplerInfo) Hash() uint64 {
	var b hashWriter
	b.bytes(byte(s.MagFilter), byte(s.MinFilter), byte(s.MipFilter), byte(s.AddressU), byte(s.AddressV), byte(s.AddressW))
	b.float(s.MipLodBias)
	b.float(s.MaxAnisotropy)
	b.vec4(s.BorderColor)
	return b.sum()
}

/**
 * @brief Surface material resolved for a draw call. Texture fields are indices
 * handed out by the texture upload subsystem.
 */
type SurfaceMaterial struct {
	AlbedoOpacity     mgl32.Vec4
	Emissive          mgl32.Vec3
	EmissiveIntensity float32
	Roughness         float32
	Metallic          float32
	AlbedoTexture     uint32
	NormalTexture     uint32
	RoughnessTexture  uint32
	EmissiveTexture   uint32
	SamplerIndex      cache.Index
	/** @brief Hash of the original game texture, used by tooling lookups. */
	LegacyTextureHash uint64
	ThinWalled        bool
	AlphaTested       bool
}

// Equal compares floats the way Hash sees them, so -0 matches +0 and NaN
// matches NaN.
func (m SurfaceMaterial) Equal(o SurfaceMaterial) bool {
	return vec4Bits(m.AlbedoOpacity) == vec4Bits(o.AlbedoOpacity) &&
		vec3Bits(m.Emissive) == vec3Bits(o.Emissive) &&
		floatBits(m.EmissiveIntensity) == floatBits(o.EmissiveIntensity) &&
		floatBits(m.Roughness) == floatBits(o.Roughness) &&
		floatBits(m.Metallic) == floatBits(o.Metallic) &&
		m.AlbedoTexture == o.AlbedoTexture &&
		m.NormalTexture == o.NormalTexture &&
		m.RoughnessTexture == o.RoughnessTexture &&
		m.EmissiveTexture == o.EmissiveTexture &&
		m.SamplerIndex == o.SamplerIndex &&
		m.LegacyTextureHash == o.LegacyTextureHash &&
		m.ThinWalled == o.ThinWalled &&
		m.AlphaTested == o.AlphaTested
}

func (m SurfaceMaterial) Hash() uint64 {
	var b hashWriter
	b.vec4(m.AlbedoOpacity)
	b.vec3(m.Emissive)
	b.float(m.EmissiveIntensity)
	b.float(m.Roughness)
	b.float(m.Metallic)
	b.u32(m.AlbedoTexture)
	b.u32(m.NormalTexture)
	b.u32(m.RoughnessTexture)
	b.u32(m.EmissiveTexture)
	b.u32(m.SamplerIndex)
	b.u64(m.LegacyTextureHash)
	b.bool(m.ThinWalled)
	b.bool(m.AlphaTested)
	return b.sum()
}

/**
 * @brief Per draw call submission. InstanceKey identifies the placement across
 * frames; zero lets the scene manager derive one.
 */
type DrawCall struct {
	InstanceKey uint64
	Geometry    GeometryData
	Material    SurfaceMaterial
	Sampler     SamplerInfo
	Transform   mgl32.Mat4
	Visibility  VisibilityMask
	Category    CategoryFlags
	// UpdateOnly marks a vertex refresh of an already cached object.
	UpdateOnly bool
}

const canonicalNaN uint32 = 0x7fc00000

// floatBits maps every zero to +0 and every NaN to one quiet NaN.
func floatBits(v float32) uint32 {
	switch {
	case v == 0:
		return 0
	case v != v:
		return canonicalNaN
	}
	return stdmath.Float32bits(v)
}

func vec3Bits(v mgl32.Vec3) [3]uint32 {
	return [3]uint32{floatBits(v[0]), floatBits(v[1]), floatBits(v[2])}
}

func vec4Bits(v mgl32.Vec4) [4]uint32 {
	return [4]uint32{floatBits(v[0]), floatBits(v[1]), floatBits(v[2]), floatBits(v[3])}
}

// hashWriter accumulates little-endian field bytes for xxhash.
type hashWriter struct {
	buf []byte
}

func (w *hashWriter) bytes(b ...byte) {
	w.buf = append(w.buf, b...)
}

func (w *hashWriter) bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *hashWriter) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *hashWriter) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *hashWriter) float(v float32) {
	w.u32(floatBits(v))
}

func (w *hashWriter) vec3(v mgl32.Vec3) {
	w.float(v[0])
	w.float(v[1])
	w.float(v[2])
}

func (w *hashWriter) vec4(v mgl32.Vec4) {
	w.float(v[0])
	w.float(v[1])
	w.float(v[2])
	w.float(v[3])
}

func (w *hashWriter) sum() uint64 {
	return xxhash.Sum64(w.buf)
}
