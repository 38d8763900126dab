package monitor

import (
	"context"
	"time"

	"github.com/onnwee/imgclassify/internal/logger"
	"github.com/onnwee/imgclassify/internal/metrics"
)

// Sweeper periodically removes stale usage records so memory stays bounded
// even when nobody asks for a report.
type Sweeper struct {
	monitor  *Monitor
	interval time.Duration
}

func NewSweeper(m *Monitor, interval time.Duration) *Sweeper {
	return &Sweeper{
		monitor:  m,
		interval: interval,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log := logger.WithComponent("monitor")
	log.Info("usage sweeper started", "interval", s.interval, "window", s.monitor.Window())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and refreshes the tracked-keys gauge.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	removed := s.monitor.Sweep()
	if removed > 0 {
		metrics.MonitorSweptKeys.Add(float64(removed))
		logger.ForContext(ctx, "monitor").Debug("swept stale usage records", "removed", removed)
	}
	metrics.MonitorTrackedKeys.Set(float64(s.monitor.Len()))
	return removed
}
