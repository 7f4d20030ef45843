package scene

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/spaghettifunk/rtscene/engine/cache"
	"github.com/spaghettifunk/rtscene/engine/core"
)

type TextureHashResult struct {
	RequestID     uuid.UUID
	MaterialIndex cache.Index
	LegacyHash    uint64
	Frame         uint32
}

// TextureHashPromise is fulfilled once the render path meets the requested
// material, or abandoned when a newer request replaces it.
type TextureHashPromise struct {
	ID            uuid.UUID
	MaterialIndex cache.Index

	done      chan struct{}
	once      sync.Once
	result    TextureHashResult
	abandoned bool
}

func newTextureHashPromise(materialIndex cache.Index) *TextureHashPromise {
	return &TextureHashPromise{
		ID:            uuid.New(),
		MaterialIndex: materialIndex,
		done:          make(chan struct{}),
	}
}

func (p *TextureHashPromise) finish(result TextureHashResult, abandoned bool) {
	p.once.Do(func() {
		p.result = result
		p.abandoned = abandoned
		close(p.done)
	})
}

func (p *TextureHashPromise) Done() <-chan struct{} {
	return p.done
}

// TryGet returns the result without blocking.
func (p *TextureHashPromise) TryGet() (TextureHashResult, bool) {
	select {
	case <-p.done:
		if p.abandoned {
			return TextureHashResult{}, false
		}
		return p.result, true
	default:
		return TextureHashResult{}, false
	}
}

// Wait blocks until the promise settles. An abandoned promise yields
// ErrStaleRequest.
func (p *TextureHashPromise) Wait(ctx context.Context) (TextureHashResult, error) {
	select {
	case <-ctx.Done():
		return TextureHashResult{}, ctx.Err()
	case <-p.done:
		if p.abandoned {
			return TextureHashResult{}, core.ErrStaleRequest
		}
		return p.result, nil
	}
}

func (p *TextureHashPromise) Abandoned() bool {
	select {
	case <-p.done:
		return p.abandoned
	default:
		return false
	}
}

// TextureHashResolver maps a material index to the legacy texture hash of the
// draw call using it. Tooling requests from any goroutine; the render path
// offers every draw call.
type TextureHashResolver struct {
	mu      sync.Mutex
	current *TextureHashPromise
	last    TextureHashResult
	ready   bool

	// wanted mirrors current.MaterialIndex for the lock-free Offer fast path.
	wanted  atomic.Uint32
	metrics *core.Metrics
}

func NewTextureHashResolver(metrics *core.Metrics) *TextureHashResolver {
	r := &TextureHashResolver{metrics: metrics}
	r.wanted.Store(cache.InvalidIndex)
	return r
}

// Request starts a lookup, abandoning any request still in flight.
func (r *TextureHashResolver) Request(materialIndex cache.Index) *TextureHashPromise {
	p := newTextureHashPromise(materialIndex)

	r.mu.Lock()
	prev := r.current
	r.current = p
	r.ready = false
	r.wanted.Store(materialIndex)
	r.mu.Unlock()

	if prev != nil {
		prev.finish(TextureHashResult{}, true)
		if r.metrics != nil {
			r.metrics.AsyncStale.WithLabelValues("texture_hash").Inc()
		}
		core.LogDebug("texture hash request %s superseded by %s", prev.ID, p.ID)
	}
	return p
}

// Offer is called for each draw call with its material index and legacy hash.
func (r *TextureHashResolver) Offer(materialIndex cache.Index, legacyHash uint64, frame uint32) bool {
	if materialIndex == cache.InvalidIndex || r.wanted.Load() != materialIndex {
		return false
	}

	r.mu.Lock()
	p := r.current
	if p == nil || p.MaterialIndex != materialIndex {
		r.mu.Unlock()
		return false
	}
	result := TextureHashResult{
		RequestID:     p.ID,
		MaterialIndex: materialIndex,
		LegacyHash:    legacyHash,
		Frame:         frame,
	}
	r.current = nil
	r.last = result
	r.ready = true
	r.wanted.Store(cache.InvalidIndex)
	r.mu.Unlock()

	p.finish(result, false)
	return true
}

// TryConsume hands out the latest result once.
func (r *TextureHashResolver) TryConsume() (TextureHashResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return TextureHashResult{}, false
	}
	r.ready = false
	return r.last, true
}

func (r *TextureHashResolver) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// Cancel abandons the request in flight, if any.
func (r *TextureHashResolver) Cancel() {
	r.mu.Lock()
	p := r.current
	r.current = nil
	r.wanted.Store(cache.InvalidIndex)
	r.mu.Unlock()
	if p != nil {
		p.finish(TextureHashResult{}, true)
	}
}
