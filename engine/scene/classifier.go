package scene

import (
	"fmt"

	"github.com/spaghettifunk/rtscene/engine/config"
	"github.com/spaghettifunk/rtscene/engine/core"
	"github.com/spaghettifunk/rtscene/engine/math"
)

// ObjectCacheState is the work a draw call requires from the acceleration
// structure builder.
type ObjectCacheState int8

const (
	StateInvalid        ObjectCacheState = -1
	StateUpdateInstance ObjectCacheState = 0
	StateUpdateBVH      ObjectCacheState = 1
	StateBuildBVH       ObjectCacheState = 2
)

func (s ObjectCacheState) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateUpdateInstance:
		return "update_instance"
	case StateUpdateBVH:
		return "update_bvh"
	case StateBuildBVH:
		return "build_bvh"
	}
	return fmt.Sprintf("state(%d)", int8(s))
}

// Classify decides what a draw call needs given the object it resolved to.
// prev is the cached record before this draw call touches it.
func Classify(prev *SceneObject, in *HashedGeometry, isNew bool, cfg config.ClassifierConfig) (ObjectCacheState, error) {
	if in == nil || in.Geometry == nil {
		return StateInvalid, fmt.Errorf("%w: missing geometry", core.ErrInvalidDrawCall)
	}
	if err := in.Geometry.Validate(); err != nil {
		return StateInvalid, err
	}
	if isNew || prev == nil || prev.LastState == StateInvalid {
		return StateBuildBVH, nil
	}
	if prev.GenerationHash == in.GenerationHash {
		return StateUpdateInstance, nil
	}

	g := in.Geometry
	if prev.VertexCount != g.VertexCount() ||
		prev.IndexCount != g.IndexCount() ||
		prev.Topology != g.Topology ||
		prev.Hashes[ComponentIndices] != in.Hashes[ComponentIndices] {
		return StateBuildBVH, nil
	}
	if cfg.RebuildVertexDelta > 0 && len(prev.Positions) == len(g.Positions) {
		if changedFraction(prev, g, cfg.PositionTolerance) > cfg.RebuildVertexDelta {
			return StateBuildBVH, nil
		}
	}
	return StateUpdateBVH, nil
}

// ClassifyUpdateOnly handles a vertex refresh of an existing object. The
// layout must match what is cached.
func ClassifyUpdateOnly(prev *SceneObject, in *HashedGeometry, isNew bool) (ObjectCacheState, error) {
	if in == nil || in.Geometry == nil {
		return StateInvalid, fmt.Errorf("%w: missing geometry", core.ErrInvalidDrawCall)
	}
	if err := in.Geometry.Validate(); err != nil {
		return StateInvalid, err
	}
	if isNew || prev == nil || prev.LastState == StateInvalid {
		return StateInvalid, fmt.Errorf("%w: update of uncached object %#x", core.ErrTopologyMismatch, in.AssetHash)
	}
	g := in.Geometry
	if prev.VertexCount != g.VertexCount() || prev.IndexCount != g.IndexCount() || prev.Topology != g.Topology {
		return StateInvalid, fmt.Errorf("%w: object %d has %d vertices, update carries %d",
			core.ErrTopologyMismatch, prev.Handle, prev.VertexCount, g.VertexCount())
	}
	if prev.GenerationHash == in.GenerationHash {
		return StateUpdateInstance, nil
	}
	return StateUpdateBVH, nil
}

func changedFraction(prev *SceneObject, g *GeometryData, tolerance float32) float32 {
	if len(g.Positions) == 0 {
		return 0
	}
	changed := 0
	for i, p := range g.Positions {
		q := prev.Positions[i]
		if !math.NearlyEqual(p[0], q[0], tolerance) ||
			!math.NearlyEqual(p[1], q[1], tolerance) ||
			!math.NearlyEqual(p[2], q[2], tolerance) {
			changed++
		}
	}
	return float32(changed) / float32(len(g.Positions))
}
