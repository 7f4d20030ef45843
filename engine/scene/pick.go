package scene

import (
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/rtscene/engine/cache"
	"github.com/spaghettifunk/rtscene/engine/core"
)

// KeepRequest reports whether a request issued at reqFrame can still be
// answered at cur. Readbacks lag by up to latency frames, so anything older
// than twice that refers to a surface that is gone.
func KeepRequest(reqFrame, cur, latency uint32) bool {
	d := core.FrameDistance(reqFrame, cur)
	if d < 0 {
		d = -d
	}
	return d < 2*int64(latency)
}

type PickRequest struct {
	ID    uuid.UUID
	X, Y  uint32
	Frame uint32
}

type PickResult struct {
	Request       PickRequest
	ResolvedFrame uint32
	// MaterialIndex is cache.InvalidIndex when nothing covers the pixel.
	MaterialIndex cache.Index
}

func (r PickResult) Hit() bool {
	return r.MaterialIndex != cache.InvalidIndex
}

// PickChannel carries one outstanding pixel pick from tooling to the frame
// loop and its answer back.
type PickChannel struct {
	mu      sync.Mutex
	latency uint32

	request *PickRequest
	result  PickResult
	ready   bool

	metrics *core.Metrics
}

func NewPickChannel(latency uint32, metrics *core.Metrics) *PickChannel {
	return &PickChannel{latency: latency, metrics: metrics}
}

// Submit queues a pick for pixel (x, y) as rendered in frame, replacing any
// pick still outstanding.
func (c *PickChannel) Submit(x, y, frame uint32) uuid.UUID {
	req := &PickRequest{ID: uuid.New(), X: x, Y: y, Frame: frame}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.request != nil {
		c.countStale()
	}
	c.request = req
	c.ready = false
	return req.ID
}

// Resolve answers the outstanding pick from reader. A stale request is dropped;
// one whose readback is not ready yet stays pending.
func (c *PickChannel) Resolve(cur uint32, reader SurfaceReader) {
	c.mu.Lock()
	if c.request == nil {
		c.mu.Unlock()
		return
	}
	req := *c.request
	if !KeepRequest(req.Frame, cur, c.latency) {
		core.LogDebug("pick %s from frame %d dropped at frame %d", req.ID, req.Frame, cur)
		c.request = nil
		c.countStale()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if reader == nil {
		return
	}
	// the reader may block on readback or call back into the channel
	idx, ok := reader.SurfaceAt(req.X, req.Y, req.Frame)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.request == nil || c.request.ID != req.ID {
		// replaced while the reader ran
		return
	}
	c.request = nil
	c.result = PickResult{Request: req, ResolvedFrame: cur, MaterialIndex: idx}
	c.ready = true
}

func (c *PickChannel) TryConsume() (PickResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return PickResult{}, false
	}
	c.ready = false
	return c.result, true
}

func (c *PickChannel) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.request != nil
}

// IsStale reports whether the outstanding pick can no longer be honored at cur.
func (c *PickChannel) IsStale(cur uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.request != nil && !KeepRequest(c.request.Frame, cur, c.latency)
}

func (c *PickChannel) countStale() {
	if c.metrics != nil {
		c.metrics.AsyncStale.WithLabelValues("pick").Inc()
	}
}
