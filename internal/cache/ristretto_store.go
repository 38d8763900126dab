package cache

import (
	"github.com/dgraph-io/ristretto"
)

// RistrettoStore is a cost-bounded store backed by ristretto. Every entry costs
// 1, so MaxCost is the entry capacity. Admission is decided by ristretto's
// TinyLFU policy, which means a new key may be rejected when the store is full.
type RistrettoStore struct {
	cache *ristretto.Cache
}

// NewRistrettoStore creates a ristretto store holding at most capacity entries.
func NewRistrettoStore(capacity int) (*RistrettoStore, error) {
	// NumCounters should be ~10x the number of entries for optimal performance
	numCounters := int64(capacity) * 10
	if numCounters < 1000 {
		numCounters = 1000
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        numCounters,
		MaxCost:            int64(capacity),
		BufferItems:        64, // Number of keys per Get buffer
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoStore{cache: c}, nil
}

func (s *RistrettoStore) Get(key string) (Entry, bool) {
	val, found := s.cache.Get(key)
	if !found {
		return Entry{}, false
	}
	e, ok := val.(Entry)
	if !ok {
		s.cache.Del(key)
		return Entry{}, false
	}
	return e, true
}

func (s *RistrettoStore) Set(key string, e Entry) {
	_ = s.cache.Set(key, e, 1)
	// Sets are buffered; wait so the entry is visible to the next Get.
	s.cache.Wait()
}

func (s *RistrettoStore) Delete(key string) {
	s.cache.Del(key)
}

func (s *RistrettoStore) Clear() {
	s.cache.Clear()
}

// Len is approximate; ristretto only tracks added and evicted keys.
func (s *RistrettoStore) Len() int {
	m := s.cache.Metrics
	added, evicted := m.KeysAdded(), m.KeysEvicted()
	if evicted > added {
		return 0
	}
	return int(added - evicted)
}

func (s *RistrettoStore) Evictions() uint64 {
	return s.cache.Metrics.KeysEvicted()
}

func (s *RistrettoStore) Close() {
	s.cache.Close()
}
