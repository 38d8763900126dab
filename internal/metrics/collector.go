package metrics

import (
	"context"
	"time"

	"github.com/onnwee/imgclassify/internal/logger"
)

// CacheSource is the view of the result cache the collector samples.
type CacheSource interface {
	Len() int
	Evictions() uint64
}

// MonitorSource is the view of the usage monitor the collector samples.
type MonitorSource interface {
	Len() int
}

// Collector periodically samples in-memory state into Prometheus gauges
type Collector struct {
	cache    CacheSource
	monitor  MonitorSource
	interval time.Duration
	stop     chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(cache CacheSource, monitor MonitorSource, interval time.Duration) *Collector {
	return &Collector{
		cache:    cache,
		monitor:  monitor,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logger.WithComponent("metrics").Debug("collector started", "interval", c.interval)

	// Collect initial metrics
	c.Collect()

	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	close(c.stop)
}

// Collect samples every source once.
func (c *Collector) Collect() {
	if c.cache != nil {
		ResultCacheItems.Set(float64(c.cache.Len()))
		ResultCacheEvictions.Set(float64(c.cache.Evictions()))
	}
	if c.monitor != nil {
		MonitorTrackedKeys.Set(float64(c.monitor.Len()))
	}
}
