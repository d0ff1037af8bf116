// Package cache provides a small TTL-keyed cache abstraction used by the
// execution engine's PriceProvider to avoid hammering venues for BBO/book
// data on every decision point.
package cache

import "time"

// Cache is the interface consumed by PriceProvider for cache-first lookups.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns (value, true) if found and not expired, (nil, false) otherwise.
	Get(key string) (interface{}, bool)

	// Set stores a value in the cache with a TTL.
	Set(key string, value interface{}, ttl time.Duration) bool

	// Delete removes a value from the cache.
	Delete(key string)

	// Clear removes all values from the cache.
	Clear()

	// Close releases resources held by the cache.
	Close()
}
