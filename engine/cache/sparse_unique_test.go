package cache

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/rtscene/engine/core"
)

func init() {
	core.SetLogOutput(io.Discard)
}

type material struct {
	albedo    uint32
	roughness float32
}

func materialHash(m material) uint64 {
	return uint64(m.albedo)
}

func newMaterialCache(t *testing.T, capacity uint32) *SparseUniqueCache[material] {
	t.Helper()
	c, err := NewComparableCache(Config{Name: "materials", Capacity: capacity, Dedup: true}, materialHash)
	require.NoError(t, err)
	return c
}

func TestInsertOrGetDeduplicates(t *testing.T) {
	c := newMaterialCache(t, 0)

	a, existed, err := c.InsertOrGet(material{albedo: 1, roughness: 0.5})
	require.NoError(t, err)
	assert.False(t, existed)

	b, existed, err := c.InsertOrGet(material{albedo: 1, roughness: 0.5})
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, a, b)
	assert.Equal(t, uint32(2), c.RefCount(a))
	assert.Equal(t, 1, c.Len())
}

func TestHashCollisionKeepsDistinctEntries(t *testing.T) {
	c := newMaterialCache(t, 0)

	// same albedo means same hash, different roughness means different value
	a, _, err := c.InsertOrGet(material{albedo: 7, roughness: 0.1})
	require.NoError(t, err)
	b, existed, err := c.InsertOrGet(material{albedo: 7, roughness: 0.9})
	require.NoError(t, err)

	assert.False(t, existed)
	assert.NotEqual(t, a, b)

	idx, ok := c.Find(material{albedo: 7, roughness: 0.9})
	require.True(t, ok)
	assert.Equal(t, b, idx)

	_, ok = c.Find(material{albedo: 7, roughness: 0.5})
	assert.False(t, ok)
}

func TestCustomEqualityPredicate(t *testing.T) {
	type sampler struct {
		filter int
		seed   int
	}
	c, err := NewSparseUniqueCache(Config{Name: "samplers", Dedup: true},
		func(s sampler) uint64 { return uint64(s.filter) },
		func(a, b sampler) bool { return a.filter == b.filter })
	require.NoError(t, err)

	a, _, err := c.InsertOrGet(sampler{filter: 2, seed: 1})
	require.NoError(t, err)
	b, existed, err := c.InsertOrGet(sampler{filter: 2, seed: 99})
	require.NoError(t, err)

	assert.True(t, existed)
	assert.Equal(t, a, b)
}

func TestReleasedEntrySurvivesGraceWindow(t *testing.T) {
	const latency = 3
	c := newMaterialCache(t, 0)
	m := material{albedo: 3}

	idx, _, err := c.InsertOrGet(m)
	require.NoError(t, err)
	require.NoError(t, c.Release(idx, 10))

	for frame := uint32(10); frame <= 12; frame++ {
		assert.Zero(t, c.Collect(frame, latency, nil), "frame %d", frame)
		found, ok := c.Find(m)
		require.True(t, ok, "frame %d", frame)
		assert.Equal(t, idx, found)
	}

	var reaped []Index
	assert.Equal(t, 1, c.Collect(13, latency, func(i Index, v material) {
		reaped = append(reaped, i)
		assert.Equal(t, m, v)
	}))
	assert.Equal(t, []Index{idx}, reaped)

	_, ok := c.Find(m)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCollectIsIdempotentWithinFrame(t *testing.T) {
	c := newMaterialCache(t, 0)

	a, _, _ := c.InsertOrGet(material{albedo: 1})
	b, _, _ := c.InsertOrGet(material{albedo: 2})
	require.NoError(t, c.Release(a, 0))

	assert.Equal(t, 1, c.Collect(5, 3, nil))

	// a release between the two calls is tagged with this frame and must wait
	require.NoError(t, c.Release(b, 5))
	assert.Zero(t, c.Collect(5, 3, nil))
	assert.Equal(t, 1, c.Len())
}

func TestReacquireCancelsReap(t *testing.T) {
	c := newMaterialCache(t, 0)
	m := material{albedo: 4}

	idx, _, _ := c.InsertOrGet(m)
	require.NoError(t, c.Release(idx, 1))

	again, existed, err := c.InsertOrGet(m)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, idx, again)

	assert.Zero(t, c.Collect(10, 3, nil))
	assert.Equal(t, uint32(1), c.RefCount(idx))

	// released again later, the old tag must not reap it early
	require.NoError(t, c.Release(idx, 9))
	assert.Zero(t, c.Collect(11, 3, nil))
	assert.Equal(t, 1, c.Collect(12, 3, nil))
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	c := newMaterialCache(t, 0)
	idx, _, _ := c.InsertOrGet(material{albedo: 5})

	require.NoError(t, c.Release(idx, 0))
	err := c.Release(idx, 0)
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
	assert.Zero(t, c.RefCount(idx))
}

func TestFreedSlotIsReused(t *testing.T) {
	c := newMaterialCache(t, 0)
	a, _, _ := c.InsertOrGet(material{albedo: 1})
	_, _, _ = c.InsertOrGet(material{albedo: 2})
	require.NoError(t, c.Release(a, 0))
	require.Equal(t, 1, c.Collect(3, 3, nil))

	n, existed, err := c.InsertOrGet(material{albedo: 9})
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, a, n)
}

func TestCapacityExhausted(t *testing.T) {
	c := newMaterialCache(t, 2)
	_, _, err := c.InsertOrGet(material{albedo: 1})
	require.NoError(t, err)
	_, _, err = c.InsertOrGet(material{albedo: 2})
	require.NoError(t, err)

	_, _, err = c.InsertOrGet(material{albedo: 3})
	assert.ErrorIs(t, err, core.ErrCacheExhausted)
}

func TestDedupDisabled(t *testing.T) {
	c := newMaterialCache(t, 0)
	c.SetDedup(false)

	a, _, _ := c.InsertOrGet(material{albedo: 1})
	b, existed, _ := c.InsertOrGet(material{albedo: 1})
	assert.False(t, existed)
	assert.NotEqual(t, a, b)
}

func TestFrameCounterWraparound(t *testing.T) {
	c := newMaterialCache(t, 0)
	idx, _, _ := c.InsertOrGet(material{albedo: 1})
	require.NoError(t, c.Release(idx, 0xFFFFFFFE))

	assert.Zero(t, c.Collect(0, 3, nil))
	assert.Equal(t, 1, c.Collect(1, 3, nil))
}

func TestConcurrentFindDuringInserts(t *testing.T) {
	c := newMaterialCache(t, 0)
	_, _, _ = c.InsertOrGet(material{albedo: 0})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_, ok := c.Find(material{albedo: 0})
			assert.True(t, ok)
		}
	}()
	for i := uint32(1); i < 1000; i++ {
		_, _, err := c.InsertOrGet(material{albedo: i})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, 1000, c.Len())
}

func TestAcquireEqual(t *testing.T) {
	c := newMaterialCache(t, 0)
	_, ok := c.AcquireEqual(material{albedo: 3})
	assert.False(t, ok)

	a, _, err := c.InsertOrGet(material{albedo: 3})
	require.NoError(t, err)
	b, ok := c.AcquireEqual(material{albedo: 3})
	require.True(t, ok)
	assert.Equal(t, a, b)
	assert.Equal(t, uint32(2), c.RefCount(a))

	c.SetDedup(false)
	_, ok = c.AcquireEqual(material{albedo: 3})
	assert.False(t, ok)
}
