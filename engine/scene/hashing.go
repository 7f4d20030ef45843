package scene

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/cespare/xxhash/v2"

	"github.com/spaghettifunk/rtscene/engine/config"
	"github.com/spaghettifunk/rtscene/engine/core"
)

// Component is one hashable part of a draw call's geometry.
type Component uint8

const (
	ComponentPositions Component = iota
	ComponentNormals
	ComponentTexcoords
	ComponentColors
	ComponentIndices
	ComponentLayout
	componentCount
)

// Components backed by a raytrace buffer; Layout has no buffer.
const bufferComponentCount = int(ComponentIndices) + 1

var componentNames = [componentCount]string{
	ComponentPositions: config.ComponentPositions,
	ComponentNormals:   config.ComponentNormals,
	ComponentTexcoords: config.ComponentTexcoords,
	ComponentColors:    config.ComponentColors,
	ComponentIndices:   config.ComponentIndices,
	ComponentLayout:    config.ComponentLayout,
}

func (c Component) String() string {
	if c < componentCount {
		return componentNames[c]
	}
	return fmt.Sprintf("component(%d)", uint8(c))
}

// HashRule selects the components folded into a combined hash.
type HashRule uint8

func (r HashRule) Has(c Component) bool {
	return r&(1<<c) != 0
}

// ParseHashRule converts config component names into a rule.
func ParseHashRule(components []string) (HashRule, error) {
	var rule HashRule
	for _, name := range components {
		found := false
		for c := Component(0); c < componentCount; c++ {
			if componentNames[c] == name {
				rule |= 1 << c
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: unknown hash component %q", core.ErrInvalidConfig, name)
		}
	}
	if rule == 0 {
		return 0, fmt.Errorf("%w: empty hash rule", core.ErrInvalidConfig)
	}
	return rule, nil
}

// GeometryHashes holds one hash per component. Absent attributes hash to 0.
type GeometryHashes [componentCount]uint64

// HashedGeometry is a draw call's geometry with its hashes computed.
type HashedGeometry struct {
	Geometry *GeometryData
	Hashes   GeometryHashes
	// AssetHash identifies the scene object across frames.
	AssetHash uint64
	// GenerationHash changes whenever geometry content relevant to the BLAS changes.
	GenerationHash uint64
}

// HashGeometry hashes every component of g and combines them per rule.
func HashGeometry(g *GeometryData, asset, generation HashRule) *HashedGeometry {
	hg := &HashedGeometry{Geometry: g}
	hg.Hashes[ComponentPositions] = hashSlice(g.Positions)
	hg.Hashes[ComponentNormals] = hashSlice(g.Normals)
	hg.Hashes[ComponentTexcoords] = hashSlice(g.Texcoords)
	hg.Hashes[ComponentColors] = hashSlice(g.Colors)
	hg.Hashes[ComponentIndices] = hashSlice(g.Indices)
	hg.Hashes[ComponentLayout] = layoutHash(g)

	hg.AssetHash = hg.Hashes.combine(asset)
	hg.GenerationHash = hg.Hashes.combine(generation)
	return hg
}

func (h *GeometryHashes) combine(rule HashRule) uint64 {
	var buf [9 * int(componentCount)]byte
	n := 0
	for c := Component(0); c < componentCount; c++ {
		if !rule.Has(c) {
			continue
		}
		buf[n] = byte(c)
		binary.LittleEndian.PutUint64(buf[n+1:], h[c])
		n += 9
	}
	return xxhash.Sum64(buf[:n])
}

func layoutHash(g *GeometryData) uint64 {
	var present byte
	if len(g.Normals) > 0 {
		present |= 1
	}
	if len(g.Texcoords) > 0 {
		present |= 2
	}
	if len(g.Colors) > 0 {
		present |= 4
	}
	if len(g.Indices) > 0 {
		present |= 8
	}
	var buf [6]byte
	buf[0] = byte(g.Topology)
	buf[1] = present
	binary.LittleEndian.PutUint32(buf[2:], g.VertexStride)
	return xxhash.Sum64(buf[:])
}

func hashSlice[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}
	return xxhash.Sum64(sliceBytes(s))
}

// sliceBytes views the backing array of s without copying.
func sliceBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

// componentBytes returns the raw bytes and element stride of a buffer component.
func componentBytes(g *GeometryData, c Component) ([]byte, uint32) {
	switch c {
	case ComponentPositions:
		return sliceBytes(g.Positions), 12
	case ComponentNormals:
		return sliceBytes(g.Normals), 12
	case ComponentTexcoords:
		return sliceBytes(g.Texcoords), 8
	case ComponentColors:
		return sliceBytes(g.Colors), 4
	case ComponentIndices:
		return sliceBytes(g.Indices), 4
	}
	return nil, 0
}
