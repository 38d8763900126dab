package cache

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUStore is a count-bounded store that evicts the least recently used entry.
type LRUStore struct {
	cache     *lru.Cache[string, Entry]
	evictions atomic.Uint64
}

// NewLRUStore creates an LRU store holding at most capacity entries.
func NewLRUStore(capacity int) (*LRUStore, error) {
	c, err := lru.New[string, Entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru store: %w", err)
	}
	return &LRUStore{cache: c}, nil
}

func (s *LRUStore) Get(key string) (Entry, bool) {
	return s.cache.Get(key)
}

func (s *LRUStore) Set(key string, e Entry) {
	if evicted := s.cache.Add(key, e); evicted {
		s.evictions.Add(1)
	}
}

func (s *LRUStore) Delete(key string) {
	s.cache.Remove(key)
}

func (s *LRUStore) Clear() {
	s.cache.Purge()
}

func (s *LRUStore) Len() int {
	return s.cache.Len()
}

func (s *LRUStore) Evictions() uint64 {
	return s.evictions.Load()
}

// Close is a no-op; the LRU has no background goroutines.
func (s *LRUStore) Close() {}
