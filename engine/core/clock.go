package core

import (
	"sync/atomic"
	"time"
)

// FrameClock owns the frame counter. The submission goroutine advances it;
// auxiliary goroutines read snapshots through Current.
type FrameClock struct {
	frame      atomic.Uint32
	startTime  time.Time
	frameStart time.Time
	elapsed    time.Duration
}

func NewClock() *FrameClock {
	c := &FrameClock{}
	c.frame.Store(InvalidID)
	return c
}

// Start resets elapsed time.
func (c *FrameClock) Start() {
	c.startTime = time.Now()
	c.frameStart = c.startTime
	c.elapsed = 0
}

// Advance moves to the next frame and returns its index. The counter wraps.
func (c *FrameClock) Advance() uint32 {
	now := time.Now()
	if !c.frameStart.IsZero() {
		c.elapsed = now.Sub(c.frameStart)
	}
	c.frameStart = now
	return c.frame.Add(1)
}

// Set forces the frame index, used when the caller owns numbering.
func (c *FrameClock) Set(frame uint32) {
	c.frame.Store(frame)
}

// Current returns the current frame index. Safe from any goroutine.
func (c *FrameClock) Current() uint32 {
	return c.frame.Load()
}

// LastFrameTime is the wall time between the last two Advance calls.
func (c *FrameClock) LastFrameTime() time.Duration {
	return c.elapsed
}

// Uptime since Start.
func (c *FrameClock) Uptime() time.Duration {
	if c.startTime.IsZero() {
		return 0
	}
	return time.Since(c.startTime)
}

// FrameDistance is the signed distance from -> to, tolerant of counter wraparound.
func FrameDistance(from, to uint32) int64 {
	return int64(int32(to - from))
}
