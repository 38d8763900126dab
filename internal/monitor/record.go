package monitor

import (
	"math"
	"time"
)

// usageRecord is the latency history of one key. history is never empty.
type usageRecord struct {
	history    []time.Duration
	lastSeenAt time.Time
}

func newUsageRecord(latency time.Duration, at time.Time) *usageRecord {
	return &usageRecord{history: []time.Duration{latency}, lastSeenAt: at}
}

func (r *usageRecord) beat(latency time.Duration, at time.Time) {
	r.history = append(r.history, latency)
	r.lastSeenAt = at
}

func (r *usageRecord) isStale(now time.Time, window time.Duration) bool {
	return now.Sub(r.lastSeenAt) > window
}

// summarize computes count/min/max/mean in seconds over the full history,
// rounding only the produced values.
func (r *usageRecord) summarize(key string) Summary {
	lo, hi := r.history[0], r.history[0]
	var total float64
	for _, d := range r.history {
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
		total += d.Seconds()
	}
	return Summary{
		Key:   key,
		Count: len(r.history),
		Min:   round3(lo.Seconds()),
		Max:   round3(hi.Seconds()),
		Mean:  round3(total / float64(len(r.history))),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
