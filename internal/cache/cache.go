package cache

import "time"

// Cache defines a minimal key-value cache API with optional TTL per entry.
// Implementations may or may not be goroutine-safe depending on configuration.
type Cache[K comparable, V any] interface {
	// Get returns the value and whether it was present and not expired.
	Get(key K) (V, bool)

	// Set stores the value with an optional TTL. If ttl <= 0, the entry does not expire.
	Set(key K, value V, ttl time.Duration)

	// Delete removes a key and reports whether it was present.
	Delete(key K) bool

	// Has reports whether a key is present and not expired.
	Has(key K) bool

	// Len returns the number of non-expired items currently stored.
	Len() int

	// Range calls fn for every non-expired entry until fn returns false.
	Range(fn func(key K, value V) bool)

	// Clear removes all entries.
	Clear()

	// PurgeExpired removes expired entries and returns how many it removed.
	PurgeExpired() int
}
