package pack

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics bundles the collectors a Decoder registers against a
// caller-supplied prometheus.Registerer (WithMetricsRegisterer). All
// three are also returned unregistered (backed by a private registry)
// when no registerer is configured, so the decoder's instrumentation
// calls are unconditional.
type metrics struct {
	cacheBytesUsed prometheus.Gauge
	cacheSpills    prometheus.Counter
	poolQueueDepth prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		cacheBytesUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pack_cache_bytes_used",
			Help: "Resident bytes currently held in the pack object cache.",
		}),
		cacheSpills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pack_cache_spills_total",
			Help: "Total number of object cache entries spilled to disk.",
		}),
		poolQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pack_pool_queue_depth",
			Help: "Outstanding (queued or executing) tasks on the decode worker pool.",
		}),
	}

	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(m.cacheBytesUsed, m.cacheSpills, m.poolQueueDepth)

	return m
}
