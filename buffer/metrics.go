package buffer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// poolMetrics holds the buffer pool's prometheus counters. Each pool owns its own registry so that
// multiple pools in one process do not collide.
type poolMetrics struct {
	registry *prometheus.Registry

	hits            prometheus.Counter
	misses          prometheus.Counter
	evictions       prometheus.Counter
	dirtyWriteBacks prometheus.Counter
	diskReads       prometheus.Counter
	diskWrites      prometheus.Counter
}

func newPoolMetrics() *poolMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: "perch",
			Subsystem: "buffer_pool",
			Name:      name,
			Help:      help,
		})
	}

	return &poolMetrics{
		registry:        registry,
		hits:            counter("hits_total", "Page requests served from a resident frame."),
		misses:          counter("misses_total", "Page requests that had to go to disk."),
		evictions:       counter("evictions_total", "Frames reclaimed through the replacer."),
		dirtyWriteBacks: counter("dirty_write_backs_total", "Dirty victim pages written back before reuse."),
		diskReads:       counter("disk_reads_total", "Page reads scheduled on the disk scheduler."),
		diskWrites:      counter("disk_writes_total", "Page writes scheduled on the disk scheduler."),
	}
}
