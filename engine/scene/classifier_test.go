package scene

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/rtscene/engine/config"
	"github.com/spaghettifunk/rtscene/engine/core"
)

func cachedObject(hg *HashedGeometry) *SceneObject {
	return &SceneObject{
		AssetHash:      hg.AssetHash,
		GenerationHash: hg.GenerationHash,
		Hashes:         hg.Hashes,
		Topology:       hg.Geometry.Topology,
		VertexCount:    hg.Geometry.VertexCount(),
		IndexCount:     hg.Geometry.IndexCount(),
		Positions:      slices.Clone(hg.Geometry.Positions),
		LastState:      StateBuildBVH,
	}
}

func TestClassify(t *testing.T) {
	asset, generation := defaultRules(t)
	cfg := config.Default().Classifier

	base := mesh(600, 1)
	hBase := HashGeometry(&base, asset, generation)
	prev := cachedObject(hBase)

	state, err := Classify(nil, hBase, true, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateBuildBVH, state)

	state, err = Classify(prev, hBase, false, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateUpdateInstance, state)

	shifted := moved(base, 600)
	state, err = Classify(prev, HashGeometry(&shifted, asset, generation), false, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateUpdateBVH, state)

	bigger := mesh(603, 1)
	state, err = Classify(prev, HashGeometry(&bigger, asset, generation), false, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateBuildBVH, state)

	strip := base
	strip.Topology = TopologyTriangleStrip
	state, err = Classify(prev, HashGeometry(&strip, asset, generation), false, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateBuildBVH, state)
}

func TestClassifyVertexDeltaThreshold(t *testing.T) {
	asset, generation := defaultRules(t)
	cfg := config.ClassifierConfig{RebuildVertexDelta: 0.5}

	base := mesh(600, 1)
	prev := cachedObject(HashGeometry(&base, asset, generation))

	few := moved(base, 10)
	state, err := Classify(prev, HashGeometry(&few, asset, generation), false, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateUpdateBVH, state)

	most := moved(base, 400)
	state, err = Classify(prev, HashGeometry(&most, asset, generation), false, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateBuildBVH, state)

	// a tolerance wider than the shift hides it
	cfg.PositionTolerance = 1
	state, err = Classify(prev, HashGeometry(&most, asset, generation), false, cfg)
	require.NoError(t, err)
	assert.Equal(t, StateUpdateBVH, state)
}

func TestClassifyRejectsMalformedGeometry(t *testing.T) {
	asset, generation := defaultRules(t)
	bad := mesh(6, 1)
	bad.Indices[0] = 100

	state, err := Classify(nil, HashGeometry(&bad, asset, generation), true, config.ClassifierConfig{})
	assert.Equal(t, StateInvalid, state)
	assert.ErrorIs(t, err, core.ErrInvalidDrawCall)

	state, err = Classify(nil, nil, true, config.ClassifierConfig{})
	assert.Equal(t, StateInvalid, state)
	assert.ErrorIs(t, err, core.ErrInvalidDrawCall)
}

func TestClassifyIsOrderIndependent(t *testing.T) {
	asset, generation := defaultRules(t)
	cfg := config.Default().Classifier
	base := mesh(60, 1)
	prev := cachedObject(HashGeometry(&base, asset, generation))

	a := moved(base, 60)
	b := mesh(60, 1)
	ha := HashGeometry(&a, asset, generation)
	hb := HashGeometry(&b, asset, generation)

	first, _ := Classify(prev, ha, false, cfg)
	second, _ := Classify(prev, hb, false, cfg)
	again, _ := Classify(prev, ha, false, cfg)
	assert.Equal(t, first, again)
	assert.Equal(t, StateUpdateBVH, first)
	assert.Equal(t, StateUpdateInstance, second)
}

func TestClassifyUpdateOnly(t *testing.T) {
	asset, generation := defaultRules(t)
	base := mesh(600, 1)
	prev := cachedObject(HashGeometry(&base, asset, generation))

	shifted := moved(base, 5)
	state, err := ClassifyUpdateOnly(prev, HashGeometry(&shifted, asset, generation), false)
	require.NoError(t, err)
	assert.Equal(t, StateUpdateBVH, state)

	bigger := mesh(603, 1)
	state, err = ClassifyUpdateOnly(prev, HashGeometry(&bigger, asset, generation), false)
	assert.Equal(t, StateInvalid, state)
	assert.ErrorIs(t, err, core.ErrTopologyMismatch)

	state, err = ClassifyUpdateOnly(nil, HashGeometry(&base, asset, generation), true)
	assert.Equal(t, StateInvalid, state)
	assert.ErrorIs(t, err, core.ErrTopologyMismatch)
}

func TestObjectCacheStateString(t *testing.T) {
	assert.Equal(t, "build_bvh", StateBuildBVH.String())
	assert.Equal(t, "update_bvh", StateUpdateBVH.String())
	assert.Equal(t, "update_instance", StateUpdateInstance.String())
	assert.Equal(t, "invalid", StateInvalid.String())
}
