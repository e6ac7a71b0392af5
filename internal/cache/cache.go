package cache

import (
	"github.com/dreamware/kvring/internal/metrics"
	"github.com/dreamware/kvring/internal/store"
)

// Cache is the stateless set-associative router over N independently
// locked CacheSets (§4.5). set_for(k) = Djb2(k) mod N, keeping key
// routing consistent with the on-disk store's own hash-chain placement
// so a reader can reason about both with one hash function.
type Cache struct {
	sets []*CacheSet
}

// NewCache builds a cache of numSets sets, each holding up to setCapacity
// entries. numSets below 1 is raised to 1.
func NewCache(numSets, setCapacity int, sink metrics.Sink) *Cache {
	if numSets < 1 {
		numSets = 1
	}
	sets := make([]*CacheSet, numSets)
	for i := range sets {
		sets[i] = NewCacheSet(i, setCapacity, sink)
	}
	return &Cache{sets: sets}
}

func (c *Cache) setFor(key []byte) *CacheSet {
	idx := store.Djb2(key) % uint64(len(c.sets))
	return c.sets[idx]
}

// Get delegates to the set that owns key.
func (c *Cache) Get(key []byte) ([]byte, error) {
	return c.setFor(key).Get(string(key))
}

// Put delegates to the set that owns key.
func (c *Cache) Put(key, value []byte) {
	c.setFor(key).Put(string(key), value)
}

// Delete delegates to the set that owns key.
func (c *Cache) Delete(key []byte) error {
	return c.setFor(key).Delete(string(key))
}

// NumSets reports N, for tests and diagnostics.
func (c *Cache) NumSets() int { return len(c.sets) }

// Set returns the i'th underlying CacheSet, for tests that need to probe
// or pre-load a specific set directly.
func (c *Cache) Set(i int) *CacheSet { return c.sets[i] }
