package scene

import (
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/rtscene/engine/cache"
	"github.com/spaghettifunk/rtscene/engine/core"
)

type HighlightColor uint8

const (
	HighlightColorWorld HighlightColor = iota
	HighlightColorUI
	HighlightColorFromVariable
)

type highlightTarget uint8

const (
	highlightNone highlightTarget = iota
	highlightMaterial
	highlightLegacyTexture
)

// Highlighter holds a single highlight request from tooling. Legacy texture
// targets are turned into material targets by the render path.
type Highlighter struct {
	mu      sync.Mutex
	latency uint32

	target        highlightTarget
	materialIndex cache.Index
	legacyHash    uint64
	color         HighlightColor
	frame         uint32

	// legacyWanted lets OnDrawCall skip the lock when no legacy target is set.
	legacyWanted atomic.Bool
	metrics      *core.Metrics
}

func NewHighlighter(latency uint32, metrics *core.Metrics) *Highlighter {
	return &Highlighter{latency: latency, metrics: metrics, materialIndex: cache.InvalidIndex}
}

func (h *Highlighter) RequestMaterial(index cache.Index, color HighlightColor, frame uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.target = highlightMaterial
	h.materialIndex = index
	h.color = color
	h.frame = frame
	h.legacyWanted.Store(false)
}

func (h *Highlighter) RequestLegacyTexture(hash uint64, color HighlightColor, frame uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.target = highlightLegacyTexture
	h.legacyHash = hash
	h.materialIndex = cache.InvalidIndex
	h.color = color
	h.frame = frame
	h.legacyWanted.Store(true)
}

// OnDrawCall resolves a legacy texture target once a draw call with that hash
// is seen.
func (h *Highlighter) OnDrawCall(materialIndex cache.Index, legacyHash uint64) {
	if !h.legacyWanted.Load() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.target != highlightLegacyTexture || h.legacyHash != legacyHash {
		return
	}
	h.target = highlightMaterial
	h.materialIndex = materialIndex
	h.legacyWanted.Store(false)
}

// Access returns the material to highlight at frame. Requests older than the
// staleness window are dropped.
func (h *Highlighter) Access(frame uint32) (cache.Index, HighlightColor, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.target == highlightNone {
		return cache.InvalidIndex, 0, false
	}
	if !KeepRequest(h.frame, frame, h.latency) {
		h.clearLocked()
		if h.metrics != nil {
			h.metrics.AsyncStale.WithLabelValues("highlight").Inc()
		}
		return cache.InvalidIndex, 0, false
	}
	if h.target != highlightMaterial {
		return cache.InvalidIndex, 0, false
	}
	return h.materialIndex, h.color, true
}

func (h *Highlighter) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clearLocked()
}

func (h *Highlighter) clearLocked() {
	h.target = highlightNone
	h.materialIndex = cache.InvalidIndex
	h.legacyHash = 0
	h.legacyWanted.Store(false)
}
