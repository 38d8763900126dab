package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeCache struct {
	items     int
	evictions uint64
}

func (f *fakeCache) Len() int          { return f.items }
func (f *fakeCache) Evictions() uint64 { return f.evictions }

type fakeMonitor struct{ keys int }

func (f *fakeMonitor) Len() int { return f.keys }

func TestCollectorCollect(t *testing.T) {
	c := NewCollector(&fakeCache{items: 7, evictions: 3}, &fakeMonitor{keys: 2}, time.Minute)
	c.Collect()

	if got := testutil.ToFloat64(ResultCacheItems); got != 7 {
		t.Errorf("expected 7 cache items, got %v", got)
	}
	if got := testutil.ToFloat64(ResultCacheEvictions); got != 3 {
		t.Errorf("expected 3 evictions, got %v", got)
	}
	if got := testutil.ToFloat64(MonitorTrackedKeys); got != 2 {
		t.Errorf("expected 2 tracked keys, got %v", got)
	}
}

func TestCollectorNilSources(t *testing.T) {
	c := NewCollector(nil, nil, time.Minute)
	// Should not panic
	c.Collect()
}

func TestCollectorStartStops(t *testing.T) {
	fc := &fakeCache{items: 1}
	c := NewCollector(fc, &fakeMonitor{}, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	c.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}

func TestCollectorStopsOnContextCancel(t *testing.T) {
	c := NewCollector(&fakeCache{}, &fakeMonitor{}, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop on context cancel")
	}
}
