package cache

import (
	"fmt"
	"time"

	"github.com/onnwee/imgclassify/internal/models"
)

// Entry is one memoized classification result.
type Entry struct {
	Value      models.Result
	InsertedAt time.Time
}

// Store is the bounded key/value storage behind a ResultCache. Implementations
// must be safe for concurrent use and must never hold more than their
// configured capacity.
type Store interface {
	// Get returns the entry for key. Expiry is the ResultCache's concern.
	Get(key string) (Entry, bool)

	// Set inserts or replaces the entry for key, evicting if the store is full.
	Set(key string, e Entry)

	// Delete removes key if present.
	Delete(key string)

	// Clear removes every entry.
	Clear()

	// Len returns the number of entries currently held.
	Len() int

	// Evictions returns how many entries were dropped to respect capacity.
	Evictions() uint64

	// Close releases background resources.
	Close()
}

const (
	BackendLRU       = "lru"
	BackendRistretto = "ristretto"
)

// NewStore builds the named backend with room for capacity entries.
func NewStore(backend string, capacity int) (Store, error) {
	switch backend {
	case BackendLRU, "":
		return NewLRUStore(capacity)
	case BackendRistretto:
		return NewRistrettoStore(capacity)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
