// Package monitor tracks per-key request latency over a sliding staleness
// window and produces ranked usage reports.
package monitor

import (
	"sort"
	"sync"
	"time"
)

// Monitor owns the key → usage record mapping. The mapping changes only
// through Record and Sweep, and a single mutex serializes every operation so a
// report never observes a half-finished sweep.
type Monitor struct {
	mu      sync.Mutex
	records map[string]*usageRecord
	window  time.Duration
	now     func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source used for last-seen stamps and sweeps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor that forgets keys not seen for longer than window.
func New(window time.Duration, opts ...Option) *Monitor {
	m := &Monitor{
		records: make(map[string]*usageRecord),
		window:  window,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Window returns the configured staleness threshold.
func (m *Monitor) Window() time.Duration { return m.window }

// Record appends latency to key's history, creating the record on first use.
// Negative latencies are clamped to zero.
func (m *Monitor) Record(key string, latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if rec, ok := m.records[key]; ok {
		rec.beat(latency, now)
		return
	}
	m.records[key] = newUsageRecord(latency, now)
}

// Sweep removes every record last seen more than window ago and returns how
// many were removed.
func (m *Monitor) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

// Report ranks keys by request count, highest first, breaking ties by key in
// lexicographic order, and summarizes the first topN. A topN below 1 returns
// every key. Report does not sweep; call Sweep first, or use SweepAndReport.
func (m *Monitor) Report(topN int) Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reportLocked(topN)
}

// SweepAndReport sweeps stale records and reports on the remainder as one
// atomic step.
func (m *Monitor) SweepAndReport(topN int) (Report, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := m.sweepLocked()
	return m.reportLocked(topN), removed
}

// Len returns the number of tracked keys.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *Monitor) sweepLocked() int {
	now := m.now()
	removed := 0
	for key, rec := range m.records {
		if rec.isStale(now, m.window) {
			delete(m.records, key)
			removed++
		}
	}
	return removed
}

func (m *Monitor) reportLocked(topN int) Report {
	if len(m.records) == 0 {
		return emptyReport(m.window)
	}

	keys := make([]string, 0, len(m.records))
	for key := range m.records {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := len(m.records[keys[i]].history), len(m.records[keys[j]].history)
		if ci != cj {
			return ci > cj
		}
		return keys[i] < keys[j]
	})
	if topN > 0 && topN < len(keys) {
		keys = keys[:topN]
	}

	entries := make([]Summary, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, m.records[key].summarize(key))
	}
	return Report{Entries: entries}
}
