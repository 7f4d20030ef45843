package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/rtscene/engine/cache"
	"github.com/spaghettifunk/rtscene/engine/core"
)

func TestLookupOrCreateReturnsSameObject(t *testing.T) {
	c := NewDrawCallCache(0)

	a, isNew, err := c.LookupOrCreate(42, 1, 0)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, cache.InvalidIndex, a.Buffers[ComponentPositions])

	b, isNew, err := c.LookupOrCreate(42, 1, 1)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Same(t, a, b)
	assert.Equal(t, 1, c.Len())
}

func TestSameAssetDifferentContentGetsOwnObject(t *testing.T) {
	c := NewDrawCallCache(0)

	a, _, err := c.LookupOrCreate(42, 1, 0)
	require.NoError(t, err)
	b, isNew, err := c.LookupOrCreate(42, 2, 0)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEqual(t, a.Handle, b.Handle)
	assert.Equal(t, 2, c.Len())

	c.mutate(func() { c.rekeyLocked(a, 42, 3) })
	_, ok := c.Find(42, 1)
	assert.False(t, ok)
	found, ok := c.Find(42, 3)
	require.True(t, ok)
	assert.Equal(t, a.Handle, found.Handle)
}

func TestAccessorsReturnCopies(t *testing.T) {
	c := NewDrawCallCache(0)
	obj, _, err := c.LookupOrCreate(42, 1, 0)
	require.NoError(t, err)
	c.mutate(func() { obj.Positions = []mgl32.Vec3{{1, 2, 3}} })

	got, ok := c.Get(obj.Handle)
	require.True(t, ok)
	got.Positions[0] = mgl32.Vec3{}
	got.Category = CategoryFlags(7)

	assert.Equal(t, mgl32.Vec3{1, 2, 3}, obj.Positions[0])
	assert.Zero(t, obj.Category)
}

func TestDrawCallCacheGraceWindow(t *testing.T) {
	c := NewDrawCallCache(0)
	obj, _, err := c.LookupOrCreate(42, 1, 0)
	require.NoError(t, err)
	require.NoError(t, c.Acquire(obj.Handle))
	require.NoError(t, c.Release(obj.Handle, 10))
	assert.Equal(t, 1, c.PendingReap())

	for frame := uint32(10); frame <= 12; frame++ {
		assert.Zero(t, c.Collect(frame, 3, nil))
		_, ok := c.Find(42, 1)
		assert.True(t, ok, "frame %d", frame)
	}

	var reaped []*SceneObject
	assert.Equal(t, 1, c.Collect(13, 3, func(o *SceneObject) { reaped = append(reaped, o) }))
	require.Len(t, reaped, 1)
	assert.Equal(t, uint64(42), reaped[0].AssetHash)
	_, ok := c.Find(42, 1)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestDrawCallCacheRevivedObjectSurvives(t *testing.T) {
	c := NewDrawCallCache(0)
	obj, _, _ := c.LookupOrCreate(7, 1, 0)
	require.NoError(t, c.Acquire(obj.Handle))
	require.NoError(t, c.Release(obj.Handle, 20))
	require.NoError(t, c.Acquire(obj.Handle))

	assert.Zero(t, c.Collect(23, 3, nil))
	assert.Equal(t, 1, c.Len())
	assert.Zero(t, c.PendingReap())
}

func TestDrawCallCacheCollectIsIdempotentPerFrame(t *testing.T) {
	c := NewDrawCallCache(0)
	a, _, _ := c.LookupOrCreate(1, 1, 0)
	b, _, _ := c.LookupOrCreate(2, 1, 0)
	require.NoError(t, c.Acquire(a.Handle))
	require.NoError(t, c.Acquire(b.Handle))
	require.NoError(t, c.Release(a.Handle, 0))

	assert.Equal(t, 1, c.Collect(3, 3, nil))
	require.NoError(t, c.Release(b.Handle, 0))
	// same frame: nothing new even though b became eligible
	assert.Zero(t, c.Collect(3, 3, nil))
	assert.Equal(t, 1, c.Collect(4, 3, nil))
}

func TestDrawCallCacheReferenceErrors(t *testing.T) {
	c := NewDrawCallCache(1)
	obj, _, err := c.LookupOrCreate(1, 1, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Release(obj.Handle, 0), core.ErrInvalidHandle)
	assert.ErrorIs(t, c.Acquire(99), core.ErrInvalidHandle)

	_, _, err = c.LookupOrCreate(2, 1, 0)
	assert.ErrorIs(t, err, core.ErrCacheExhausted)

	c.Discard(obj.Handle)
	assert.Zero(t, c.Len())
	_, isNew, err := c.LookupOrCreate(2, 1, 0)
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestDrawCallCacheRemove(t *testing.T) {
	c := NewDrawCallCache(0)
	obj, _, _ := c.LookupOrCreate(5, 1, 0)
	require.NoError(t, c.Acquire(obj.Handle))

	removed, ok := c.Remove(obj.Handle)
	require.True(t, ok)
	assert.Same(t, obj, removed)
	_, ok = c.Get(obj.Handle)
	assert.False(t, ok)
	_, ok = c.Find(5, 1)
	assert.False(t, ok)
	_, ok = c.Remove(obj.Handle)
	assert.False(t, ok)
}
