// Package cache implements the replica's in-memory, set-associative,
// second-chance cache: a fixed number of independently locked CacheSets,
// each holding up to M entries with FIFO insertion order and a reference
// bit used for second-chance eviction.
//
// The design notes call out the source's bimodal locking (an RWMutex for
// entries plus a separate mutex for the order list) as a workaround for a
// race that a single lock discipline eliminates; CacheSet follows the
// redesign and guards both entries and order with one write-biased
// RWMutex, using an atomic bit only for the ref_bit touched by concurrent
// readers.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/dreamware/kvring/internal/kverr"
	"github.com/dreamware/kvring/internal/metrics"
)

type cacheEntry struct {
	value []byte
	refBit atomic.Bool
	elem  *list.Element // position in the order list; elem.Value is the key
}

// CacheSet is one second-chance cache shard. The zero value is not usable;
// construct with NewCacheSet.
type CacheSet struct {
	mu       sync.RWMutex
	entries  map[string]*cacheEntry
	order    *list.List // front = most recently inserted/promoted, back = oldest
	metrics  metrics.Sink
	index    int
	capacity int
}

// NewCacheSet creates a set holding at most capacity entries. capacity
// must be >= 2 for the second-chance sweep to terminate (§4.4); values
// below 2 are raised to 2.
func NewCacheSet(index, capacity int, sink metrics.Sink) *CacheSet {
	if capacity < 2 {
		capacity = 2
	}
	if sink == nil {
		sink = metrics.Noop
	}
	return &CacheSet{
		index:    index,
		capacity: capacity,
		entries:  make(map[string]*cacheEntry, capacity),
		order:    list.New(),
		metrics:  sink,
	}
}

// Get returns the cached value for key and sets its reference bit. Touching
// never reorders the entry. Returns KindNoKey if key is not cached.
func (c *CacheSet) Get(key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		c.metrics.IncCacheMiss(c.index)
		return nil, kverr.New(kverr.KindNoKey)
	}
	e.refBit.Store(true)
	c.metrics.IncCacheHit(c.index)
	return e.value, nil
}

// Put inserts or updates key. An update to an existing key sets its
// reference bit but does not move it in the order list. A fresh entry
// always starts with its reference bit clear (§3 "ref_bit is false on
// insertion, set true on access"); a full set runs the second-chance
// sweep described in §4.4 first: walk from the tail, clearing and
// promoting any entry whose reference bit is set, until the first entry
// with a clear bit is found and evicted.
func (c *CacheSet) Put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.refBit.Store(true)
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictOne()
	}

	elem := c.order.PushFront(key)
	c.entries[key] = &cacheEntry{value: value, elem: elem}
}

// evictOne runs the second-chance sweep and removes exactly one entry.
// Caller must hold the write lock. Terminates after at most capacity
// head-moves: each move clears one entry's bit, so once every entry has
// been moved the tail's bit is clear.
func (c *CacheSet) evictOne() {
	for {
		back := c.order.Back()
		if back == nil {
			return
		}
		key := back.Value.(string)
		e := c.entries[key]

		if e.refBit.Load() {
			e.refBit.Store(false)
			c.order.MoveToFront(back)
			continue
		}

		c.order.Remove(back)
		delete(c.entries, key)
		c.metrics.IncCacheEviction(c.index)
		return
	}
}

// Delete removes key from the set. Returns KindNoKey if absent.
func (c *CacheSet) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return kverr.New(kverr.KindNoKey)
	}
	c.order.Remove(e.elem)
	delete(c.entries, key)
	return nil
}

// Len returns the current number of entries, for tests and diagnostics.
func (c *CacheSet) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the current keys in FIFO order (front=newest) for tests.
func (c *CacheSet) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(string))
	}
	return keys
}
