package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the diagnostic counters of one scene manager. Each manager
// owns its registry so several can live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	DrawCalls         *prometheus.CounterVec
	DrawCallsRejected prometheus.Counter
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	CacheReclaimed    *prometheus.CounterVec
	AsyncStale        *prometheus.CounterVec
	ObjectsLive       prometheus.Gauge
	InstancesLive     prometheus.Gauge
	FrameEndSeconds   prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		DrawCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scene_drawcalls_total",
			Help: "Draw calls processed, by classified update state",
		}, []string{"state"}),
		DrawCallsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "scene_drawcalls_rejected_total",
			Help: "Draw calls rejected as invalid",
		}),
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scene_cache_hits_total",
			Help: "Inserts that resolved to an existing cache entry",
		}, []string{"cache"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scene_cache_misses_total",
			Help: "Inserts that created a new cache entry",
		}, []string{"cache"}),
		CacheReclaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scene_cache_reclaimed_total",
			Help: "Entries reclaimed by the garbage collector",
		}, []string{"cache"}),
		AsyncStale: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scene_async_stale_total",
			Help: "Cross-frame requests dropped as stale",
		}, []string{"channel"}),
		ObjectsLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scene_objects_live",
			Help: "Scene objects currently cached",
		}),
		InstancesLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scene_instances_live",
			Help: "Instances currently live",
		}),
		FrameEndSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scene_frame_end_seconds",
			Help:    "Duration of frame end processing (reconcile and GC)",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
	}
}
