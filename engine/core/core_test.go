package core

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	SetLogOutput(io.Discard)
}

func TestIdentifierPoolReusesReleasedIDs(t *testing.T) {
	p := NewIdentifierPool(0)

	a, err := p.Acquire()
	require.NoError(t, err)
	b, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), a)
	assert.Equal(t, uint32(1), b)

	require.NoError(t, p.Release(a))
	assert.False(t, p.InUse(a))
	assert.ErrorIs(t, p.Release(a), ErrInvalidHandle)

	c, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, a, c)
	assert.Equal(t, 2, p.Live())
}

func TestIdentifierPoolLimit(t *testing.T) {
	p := NewIdentifierPool(1)
	_, err := p.Acquire()
	require.NoError(t, err)
	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrCacheExhausted)
	assert.ErrorIs(t, p.Release(7), ErrInvalidHandle)
}

func TestFrameDistanceWraps(t *testing.T) {
	assert.Equal(t, int64(5), FrameDistance(100, 105))
	assert.Equal(t, int64(-5), FrameDistance(105, 100))
	assert.Equal(t, int64(3), FrameDistance(0xFFFFFFFE, 1))
}

func TestFrameClockAdvance(t *testing.T) {
	c := NewClock()
	c.Start()
	assert.Equal(t, uint32(0), c.Advance())
	assert.Equal(t, uint32(1), c.Advance())
	assert.Equal(t, uint32(1), c.Current())

	c.Set(41)
	assert.Equal(t, uint32(42), c.Advance())
}

func TestEventBusOrderAndHandled(t *testing.T) {
	bus := NewEventBus()
	var seen []string

	first := "first"
	second := "second"
	require.True(t, bus.Register(EVENT_CODE_INSTANCE_ADDED, first, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		seen = append(seen, listener.(string))
		return data.Handle == 1
	}))
	require.True(t, bus.Register(EVENT_CODE_INSTANCE_ADDED, second, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		seen = append(seen, listener.(string))
		return false
	}))
	assert.False(t, bus.Register(EVENT_CODE_INSTANCE_ADDED, first, func(SystemEventCode, interface{}, interface{}, EventContext) bool { return false }))

	assert.False(t, bus.Fire(EVENT_CODE_INSTANCE_ADDED, nil, EventContext{Handle: 0}))
	assert.Equal(t, []string{"first", "second"}, seen)

	seen = nil
	assert.True(t, bus.Fire(EVENT_CODE_INSTANCE_ADDED, nil, EventContext{Handle: 1}))
	assert.Equal(t, []string{"first"}, seen)

	assert.True(t, bus.Unregister(EVENT_CODE_INSTANCE_ADDED, first))
	assert.False(t, bus.Unregister(EVENT_CODE_INSTANCE_ADDED, first))
	assert.False(t, bus.Fire(EVENT_CODE_INSTANCE_REMOVED, nil, EventContext{}))
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := ParseLogLevel(" Debug ")
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, lvl)

	_, err = ParseLogLevel("chatty")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
